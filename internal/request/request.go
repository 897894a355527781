// Package request defines the Request type every op_* call allocates and
// every backend module's Dispatch fulfills, grounded on chimera-nas's
// chimera_vfs_request (original_source/src/vfs/vfs.h): a tagged opcode, the
// target FH, caller credentials, a scratch page, and a completion callback
// the dispatcher guarantees fires exactly once.
package request

import (
	"time"

	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Opcode identifies the operation a Request carries.
type Opcode uint32

const (
	OpLookup Opcode = iota
	OpGetattr
	OpSetattr
	OpReaddir
	OpOpen
	OpOpenAt
	OpRead
	OpWrite
	OpCommit
	OpRemove
	OpRename
	OpLink
	OpSymlink
	OpReadlink
	OpMkdir
	OpMknod
	OpCreateUnlinked
	OpFind
	OpMount
	OpUmount
	OpKVPut
	OpKVGet
	OpKVDelete
	OpKVSearch
)

// String returns a human-readable opcode name, used as the Prometheus
// "opcode" label and in log fields.
func (o Opcode) String() string {
	switch o {
	case OpLookup:
		return "lookup"
	case OpGetattr:
		return "getattr"
	case OpSetattr:
		return "setattr"
	case OpReaddir:
		return "readdir"
	case OpOpen:
		return "open"
	case OpOpenAt:
		return "open_at"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpCommit:
		return "commit"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	case OpLink:
		return "link"
	case OpSymlink:
		return "symlink"
	case OpReadlink:
		return "readlink"
	case OpMkdir:
		return "mkdir"
	case OpMknod:
		return "mknod"
	case OpCreateUnlinked:
		return "create_unlinked"
	case OpFind:
		return "find"
	case OpMount:
		return "mount"
	case OpUmount:
		return "umount"
	case OpKVPut:
		return "kv_put"
	case OpKVGet:
		return "kv_get"
	case OpKVDelete:
		return "kv_delete"
	case OpKVSearch:
		return "kv_search"
	default:
		return "unknown"
	}
}

// ScratchSize is the size of the scratch page every Request carries for a
// backend module's free use (e.g. a staging buffer for a read).
const ScratchSize = 4096

// CompleteFunc is invoked by a module's Dispatch exactly once, on whatever
// goroutine discovers completion (inline for non-blocking modules, a
// delegation worker for blocking ones).
type CompleteFunc func(req *Request)

// Request is a pool-allocated, single-use unit of work. Every field not
// specific to the opcode lives here; opcode-specific input/output fields
// live in the *Args/*Result types in this package.
type Request struct {
	Opcode    Opcode
	Cred      vfsattr.Credential
	Status    vfserrors.Code
	StartTime time.Time
	ElapsedNS int64

	FH     vfsattr.FH
	FHHash uint64

	Scratch [ScratchSize]byte

	// Complete is called by the fulfilling module exactly once, through
	// MarkComplete, which panics on a second call in every build (spec.md
	// §8 property 8).
	Complete CompleteFunc

	// ProtoCallback/ProtoPrivate are opaque to the core; the protocol
	// handler that issued the op_* call stashes its own continuation
	// here and reads it back inside Complete.
	ProtoCallback interface{}
	ProtoPrivate  interface{}

	// completed guards against a module calling Complete twice.
	completed bool

	// Lookup, Getattr, ... carry the opcode-specific payload. Only the
	// field matching Opcode is populated; the rest are zero values. A Go
	// tagged union modeled as one struct per opcode rather than chimera's
	// C union, since Go has no overlapping storage for mutually exclusive
	// fields and pretending otherwise would just be confusing.
	Lookup    *LookupArgs
	Getattr   *GetattrArgs
	Setattr   *SetattrArgs
	Readdir   *ReaddirArgs
	Open      *OpenArgs
	Read      *ReadArgs
	Write     *WriteArgs
	Commit    *CommitArgs
	Remove    *RemoveArgs
	Rename    *RenameArgs
	Link      *LinkArgs
	Symlink   *SymlinkArgs
	Readlink  *ReadlinkArgs
	Mkdir     *MkdirArgs
	Mknod     *MknodArgs
	Find      *FindArgs
	KV        *KVArgs
}

// MarkComplete fires req.Complete exactly once. Calling it a second time
// panics rather than silently no-op'ing: a double-complete is a
// programming error in a backend module (spec.md §8 property 8, §7 "Fatal
// events").
func (r *Request) MarkComplete() {
	if r.completed {
		panic("request: Complete called twice for the same request")
	}
	r.completed = true
	r.ElapsedNS = time.Since(r.StartTime).Nanoseconds()
	if r.Complete != nil {
		r.Complete(r)
	}
}

// Completed reports whether MarkComplete has already run.
func (r *Request) Completed() bool { return r.completed }

// LookupArgs carries a single-component directory lookup.
type LookupArgs struct {
	Name       string
	ReqMask    vfsattr.AttrMask
	ResultAttr vfsattr.Attrs
	DirAttr    vfsattr.Attrs
}

// GetattrArgs carries a getattr call.
type GetattrArgs struct {
	ReqMask    vfsattr.AttrMask
	ResultAttr vfsattr.Attrs
}

// SetattrArgs carries a setattr call.
type SetattrArgs struct {
	SetAttr  vfsattr.Attrs
	PreAttr  vfsattr.Attrs
	PostAttr vfsattr.Attrs
}

// ReaddirArgs carries a readdir call.
type ReaddirArgs struct {
	Cookie  uint64
	ReqMask vfsattr.AttrMask
	Emit    func(name string, fh vfsattr.FH, attr vfsattr.Attrs, cookie uint64) bool
	EOF     bool
}

// OpenArgs carries an open or open_at call.
type OpenArgs struct {
	Name       string // set for open_at, empty for open-by-FH
	Create     bool   // create Name if it does not already exist
	Exclusive  bool   // with Create, fail EXIST instead of opening an existing entry
	ForWrite   bool
	Mode       uint32 // permission bits applied when Create creates a new entry
	VFSPrivate interface{}
	ResultFH   vfsattr.FH
	ResultAttr vfsattr.Attrs
}

// ReadArgs carries a read call.
type ReadArgs struct {
	Offset     uint64
	Length     uint32
	Data       []byte
	EOF        bool
	ResultAttr vfsattr.Attrs
}

// WriteArgs carries a write call.
type WriteArgs struct {
	Offset     uint64
	Data       []byte
	Sync       bool
	Written    uint32
	PreAttr    vfsattr.Attrs
	PostAttr   vfsattr.Attrs
}

// CommitArgs carries an fsync-style commit call.
type CommitArgs struct {
	Offset uint64
	Length uint64
}

// RemoveArgs carries a remove call.
type RemoveArgs struct {
	Name    string
	DirPre  vfsattr.Attrs
	DirPost vfsattr.Attrs
}

// RenameArgs carries a rename call.
type RenameArgs struct {
	OldName    string
	NewParent  vfsattr.FH
	NewName    string
	OldDirPre  vfsattr.Attrs
	OldDirPost vfsattr.Attrs
	NewDirPre  vfsattr.Attrs
	NewDirPost vfsattr.Attrs
}

// LinkArgs carries a hard-link call.
type LinkArgs struct {
	TargetFH vfsattr.FH
	Name     string
	DirPre   vfsattr.Attrs
	DirPost  vfsattr.Attrs
}

// SymlinkArgs carries a symlink creation call.
type SymlinkArgs struct {
	Name       string
	Target     string
	ResultFH   vfsattr.FH
	ResultAttr vfsattr.Attrs
}

// ReadlinkArgs carries a readlink call.
type ReadlinkArgs struct {
	Target string
}

// MkdirArgs carries a mkdir call.
type MkdirArgs struct {
	Name       string
	SetAttr    vfsattr.Attrs
	ResultFH   vfsattr.FH
	ResultAttr vfsattr.Attrs
}

// MknodArgs carries a mknod call (device/fifo/socket node creation).
type MknodArgs struct {
	Name       string
	Mode       uint32
	Rdev       uint64
	ResultFH   vfsattr.FH
	ResultAttr vfsattr.Attrs
}

// FindArgs carries a recursive find call (component I).
type FindArgs struct {
	Filter func(name string, attr vfsattr.Attrs) bool
	Emit   func(path string, fh vfsattr.FH, attr vfsattr.Attrs)
	Done   func(err vfserrors.Code)
}

// KVArgs carries a KV put/get/delete/search call.
type KVArgs struct {
	Key     []byte
	Value   []byte
	Prefix  []byte
	Results map[string][]byte
}
