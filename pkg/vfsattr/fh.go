// Package vfsattr defines the wire-level data model shared by every VFS
// component and backend module: the opaque file handle, the attribute
// bundle, and the caller credential. These three types are the "single
// currency" every op_* call and every cache entry is built from.
package vfsattr

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// MaxFHLen is the maximum length of an opaque file handle: 1 byte magic,
// 16 bytes mount id, up to 47 bytes of backend-private payload.
const MaxFHLen = 64

// MountIDLen is the length in bytes of the mount id embedded in every FH
// at bytes [1:17].
const MountIDLen = 16

// RootMagic is the module magic reserved for the root pseudo-filesystem.
// Its only file handle is the single byte 0x00.
const RootMagic byte = 0

// RootFH is the file handle for the root pseudo-filesystem, representing
// the virtual union of all mounts.
var RootFH = []byte{RootMagic}

// FH is an opaque, immutable file handle. The owning backend may derive or
// encode data into one but never mutates an FH in place once returned to a
// caller (spec.md invariant 5).
type FH []byte

// Magic returns the first byte of the handle, identifying the owning
// backend module. The root pseudo-filesystem is magic 0.
func (f FH) Magic() byte {
	if len(f) == 0 {
		return RootMagic
	}
	return f[0]
}

// MountID returns the 16-byte mount id occupying bytes [1:17], or nil if
// the handle is too short to carry one (e.g. the 1-byte root handle).
func (f FH) MountID() []byte {
	if len(f) < 1+MountIDLen {
		return nil
	}
	return f[1 : 1+MountIDLen]
}

// Private returns the backend-private suffix following the mount id.
func (f FH) Private() []byte {
	if len(f) < 1+MountIDLen {
		return nil
	}
	return f[1+MountIDLen:]
}

// IsAnonymous reports whether f is the zero-length handle used for a
// detached, uncached open of an anonymous in-backend object.
func (f FH) IsAnonymous() bool { return len(f) == 0 }

// Hash computes the precomputed 64-bit hash that accompanies every FH
// (Request.FHHash), used to pick the open-handle cache's shard; the
// attribute and name caches key on the FH bytes instead. xxhash is used because it is already in the dependency graph via
// the prometheus client and is the fast, non-cryptographic hash idiomatic
// for this kind of cache key.
func (f FH) Hash() uint64 {
	return xxhash.Sum64(f)
}

// Clone returns a copy of the handle, since FH is a mutable []byte under
// the hood and callers that retain a handle across an async boundary must
// not share backing storage with a caller-owned buffer.
func (f FH) Clone() FH {
	if f == nil {
		return nil
	}
	out := make(FH, len(f))
	copy(out, f)
	return out
}

// Equal reports whether two handles have identical bytes.
func (f FH) Equal(other FH) bool {
	if len(f) != len(other) {
		return false
	}
	for i := range f {
		if f[i] != other[i] {
			return false
		}
	}
	return true
}

// ComposeChild builds a child FH by appending a backend-supplied fragment
// to a parent FH, an "encode-FH-under-parent" helper
// (used e.g. by a remote-NFS-style backend to carry a server index plus
// remote handle under the local parent).
func ComposeChild(parent FH, fragment []byte) FH {
	out := make(FH, 0, len(parent)+len(fragment))
	out = append(out, parent...)
	out = append(out, fragment...)
	return out
}

// NewFH builds a file handle from its three logical parts.
func NewFH(magic byte, mountID [MountIDLen]byte, private []byte) FH {
	out := make(FH, 0, 1+MountIDLen+len(private))
	out = append(out, magic)
	out = append(out, mountID[:]...)
	out = append(out, private...)
	return out
}

// MountIDFromBytes copies a handle's MountID() slice into a fixed-size
// mount id array. It never panics: a shorter slice leaves the trailing
// bytes zero and a longer one is truncated.
func MountIDFromBytes(b []byte) [MountIDLen]byte {
	var out [MountIDLen]byte
	copy(out[:], b)
	return out
}

// EncodeUint64 is a small helper backend modules commonly need to pack a
// monotonic counter (e.g. an inode number) into their FH-private suffix.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 is the inverse of EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
