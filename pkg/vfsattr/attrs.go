package vfsattr

import "time"

// AttrMask is the bitmask currency every requester and backend uses to ask
// for, and report, a subset of Attrs fields. It mirrors the original
// implementation's va_req_mask/va_set_mask bit layout one-for-one so the
// numeric values stay meaningful if ever compared against wire captures.
type AttrMask uint64

const (
	AttrDev AttrMask = 1 << iota
	AttrInum
	AttrMode
	AttrNlink
	AttrUID
	AttrGID
	AttrRdev
	AttrSize
	AttrAtime
	AttrMtime
	AttrCtime
	AttrSpaceUsed
	AttrSpaceAvail
	AttrSpaceFree
	AttrSpaceTotal
	AttrFilesTotal
	AttrFilesFree
	AttrFilesAvail
	AttrFH
	AttrAtomic
	AttrFsid
)

// MaskStat is the union of POSIX stat(2) fields.
const MaskStat = AttrDev | AttrInum | AttrMode | AttrNlink | AttrUID | AttrGID |
	AttrRdev | AttrSize | AttrSpaceUsed | AttrAtime | AttrMtime | AttrCtime

// MaskStatfs is the union of filesystem-level statistics fields.
const MaskStatfs = AttrSpaceAvail | AttrSpaceFree | AttrSpaceTotal |
	AttrFilesTotal | AttrFilesFree | AttrFilesAvail | AttrFsid

// MaskCacheable is the subset of fields the attribute cache (component D)
// is permitted to serve from a TTL-bounded entry: stat fields only, never
// fs-level statistics and never the FH-itself bit (spec.md §4.D).
const MaskCacheable = MaskStat

// Has reports whether every bit in want is set in m.
func (m AttrMask) Has(want AttrMask) bool { return m&want == want }

// Intersect returns the bits present in both masks.
func (m AttrMask) Intersect(other AttrMask) AttrMask { return m & other }

// Subset reports whether m is a subset of other, i.e. every bit set in m is
// also set in other. Used by the attribute cache to decide whether a cached
// entry satisfies a requester's asked-for mask.
func (m AttrMask) Subset(other AttrMask) bool { return m&other == m }

// TimeNow is the sentinel nanosecond value meaning "server decides",
// matching the original implementation's CHIMERA_VFS_TIME_NOW constant.
const TimeNow = (int64(1) << 30) - 3

// Attrs is the single currency of all metadata flow in the VFS: a union of
// POSIX stat, filesystem statistics, a copy of the FH, and the
// request/set mask pair (spec.md §3). Every op_* result and every cache
// entry is built from this one type.
type Attrs struct {
	ReqMask AttrMask
	SetMask AttrMask

	Dev      uint64
	Ino      uint64
	Mode     uint32
	Nlink    uint32
	UID      uint32
	GID      uint32
	Rdev     uint64
	Size     uint64
	SpaceUsed uint64
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time

	FSSpaceAvail uint64
	FSSpaceFree  uint64
	FSSpaceTotal uint64
	FSFilesTotal uint64
	FSFilesFree  uint64
	FSFilesAvail uint64
	FSID         uint64

	FH     FH
	FHHash uint64
}

// Clone deep-copies the mutable FH field so the result can outlive the
// original's backing buffer.
func (a Attrs) Clone() Attrs {
	out := a
	out.FH = a.FH.Clone()
	return out
}

// HasAll reports whether every bit set in mask is present in a.SetMask,
// i.e. the backend actually populated everything the caller asked for.
func (a Attrs) HasAll(mask AttrMask) bool {
	return a.SetMask.Has(mask)
}

// IsDir reports whether the mode's file-type bits indicate a directory.
// Mirrors POSIX S_IFDIR without importing syscall, since the core must
// stay portable across the backends it dispatches to.
func (a Attrs) IsDir() bool { return a.Mode&sIFMT == sIFDIR }

// IsSymlink reports whether the mode's file-type bits indicate a symlink.
func (a Attrs) IsSymlink() bool { return a.Mode&sIFMT == sIFLNK }

// IsRegular reports whether the mode's file-type bits indicate a regular file.
func (a Attrs) IsRegular() bool { return a.Mode&sIFMT == sIFREG }

// POSIX mode file-type bits, duplicated here rather than imported from
// syscall so Attrs stays usable on any GOOS the core is built for.
const (
	sIFMT  = 0170000
	sIFDIR = 0040000
	sIFREG = 0100000
	sIFLNK = 0120000
)
