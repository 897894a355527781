// Package mount implements the mount table (component B): a registry
// mapping a backend module's magic byte to its Module, and a second map
// from the 16-byte mount_id embedded in every FH to the Mount record that
// owns it. Grounded on chimera-nas's chimera_vfs_mount /
// chimera_vfs_mount_table (original_source/src/vfs/vfs.h) and on the
// sharded-map registry style objectfs uses for its connection pool
// (internal/storage/s3.ConnectionPool).
package mount

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Mount is the record the table returns from Resolve: the backend module
// that owns the mount_id, the mount path it was mounted under, the
// mount-private pointer the module's Mount op returned, and the mount's
// root FH.
type Mount struct {
	Module        backend.Module
	Path          string
	MountID       [vfsattr.MountIDLen]byte
	MountPrivate  interface{}
	RootFH        vfsattr.FH
}

// rootMountID is the mount_id of the always-present magic-0 pseudo-filesystem mount
// representing the union of all mounts (spec.md §4.B).
var rootMountID = [vfsattr.MountIDLen]byte{}

// Table is the mount table: register backend modules by magic byte, mount
// them under a path to obtain a mount_id + root FH, and resolve an FH back
// to its owning module and mount.
type Table struct {
	mu       sync.RWMutex
	modules  map[byte]backend.Module
	mounts   map[[vfsattr.MountIDLen]byte]*Mount
}

// New creates an empty mount table with the root pseudo-filesystem mount
// pre-registered under magic 0.
func New() *Table {
	t := &Table{
		modules: make(map[byte]backend.Module),
		mounts:  make(map[[vfsattr.MountIDLen]byte]*Mount),
	}
	t.mounts[rootMountID] = &Mount{
		Path:    "/",
		MountID: rootMountID,
		RootFH:  vfsattr.FH(vfsattr.RootFH),
	}
	return t
}

// Register installs a backend module keyed by its magic byte. Magic 0 is
// reserved for the root pseudo-filesystem and cannot be registered.
func (t *Table) Register(m backend.Module) error {
	magic := m.Magic()
	if magic == vfsattr.RootMagic {
		return fmt.Errorf("mount: magic 0 is reserved for the root pseudo-filesystem")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.modules[magic]; exists {
		return fmt.Errorf("mount: magic %d already registered", magic)
	}
	t.modules[magic] = m
	return nil
}

// mountIDFor derives a stable 128-bit mount id from the mount path and
// module magic, truncating a SHA-256 digest to MountIDLen bytes. Using the
// path (rather than e.g. a counter) means the same mount path always maps
// to the same mount_id across a restart, matching chimera-nas's
// content-hash mount id.
func mountIDFor(magic byte, mountPath string) [vfsattr.MountIDLen]byte {
	h := sha256.New()
	h.Write([]byte{magic})
	h.Write([]byte(mountPath))
	sum := h.Sum(nil)

	var id [vfsattr.MountIDLen]byte
	copy(id[:], sum[:vfsattr.MountIDLen])
	return id
}

// Mount builds a mount_id for (moduleMagic, mountPath), calls the
// backend's Mount op to obtain a mount-private pointer and backend-private
// root FH suffix, and installs the resulting Mount record. Returns the
// mount_id and composed root FH (magic || mount_id || suffix).
func (t *Table) Mount(ctx context.Context, moduleMagic byte, mountPath string, optionsData string) (*Mount, error) {
	t.mu.Lock()
	module, ok := t.modules[moduleMagic]
	t.mu.Unlock()
	if !ok {
		return nil, vfserrors.New(vfserrors.NXIO, fmt.Sprintf("mount: no module registered for magic %d", moduleMagic))
	}

	mountID := mountIDFor(moduleMagic, mountPath)

	var mountPrivate interface{}
	var rootSuffix []byte
	if mounter, ok := module.(Mounter); ok {
		var err error
		mountPrivate, rootSuffix, err = mounter.Mount(ctx, mountPath, optionsData)
		if err != nil {
			return nil, err
		}
	}

	rootFH := vfsattr.NewFH(moduleMagic, mountID, rootSuffix)

	m := &Mount{
		Module:       module,
		Path:         mountPath,
		MountID:      mountID,
		MountPrivate: mountPrivate,
		RootFH:       rootFH,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.mounts[mountID]; exists {
		return nil, vfserrors.New(vfserrors.EXIST, fmt.Sprintf("mount: path %q already mounted", mountPath))
	}
	t.mounts[mountID] = m

	return m, nil
}

// Mounter is implemented by backend modules that need to run setup work at
// mount time (e.g. validating a bucket exists) and return a mount-private
// pointer plus a backend-private root FH suffix. Modules that don't need
// per-mount state (most in-memory/stateless modules) need not implement
// it; Mount then proceeds with a nil private pointer and empty suffix.
type Mounter interface {
	Mount(ctx context.Context, mountPath, optionsData string) (mountPrivate interface{}, rootFHSuffix []byte, err error)
}

// Resolve extracts the mount_id from fh (bytes 1..16) and returns the
// owning Mount record plus the module registered for fh's magic byte.
func (t *Table) Resolve(fh vfsattr.FH) (backend.Module, *Mount, error) {
	if len(fh) == 0 {
		return nil, nil, vfserrors.New(vfserrors.BADHANDLE, "mount: empty file handle")
	}

	magic := fh.Magic()
	if magic == vfsattr.RootMagic {
		t.mu.RLock()
		defer t.mu.RUnlock()
		return nil, t.mounts[rootMountID], nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	module, ok := t.modules[magic]
	if !ok {
		return nil, nil, vfserrors.New(vfserrors.BADHANDLE, fmt.Sprintf("mount: no module for magic %d", magic))
	}

	mountID := fh.MountID()
	m, ok := t.mounts[mountID]
	if !ok {
		return nil, nil, vfserrors.New(vfserrors.STALE, "mount: no mount for this file handle's mount_id")
	}

	return module, m, nil
}

// Umount dispatches to the backend (if it implements Unmounter) and
// removes the mount_id's entry from the table.
func (t *Table) Umount(ctx context.Context, mountID [vfsattr.MountIDLen]byte) error {
	t.mu.Lock()
	m, ok := t.mounts[mountID]
	if !ok {
		t.mu.Unlock()
		return vfserrors.New(vfserrors.STALE, "mount: unknown mount_id")
	}
	delete(t.mounts, mountID)
	t.mu.Unlock()

	if unmounter, ok := m.Module.(Unmounter); ok {
		return unmounter.Umount(ctx, m.MountPrivate)
	}
	return nil
}

// Unmounter is implemented by backend modules that need to release
// mount-private state on umount.
type Unmounter interface {
	Umount(ctx context.Context, mountPrivate interface{}) error
}

// Mounts returns a snapshot of all currently mounted entries, in no
// particular order.
func (t *Table) Mounts() []*Mount {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*Mount, 0, len(t.mounts))
	for _, m := range t.mounts {
		out = append(out, m)
	}
	return out
}
