// Package memmod implements an in-memory, non-blocking reference backend
// module over a tree of directories and files held entirely in process
// memory. It serves the namespace and file-data opcodes (getattr, setattr,
// lookup, readdir, mkdir, mknod, open, open_at, remove, read, write,
// commit, symlink, readlink, link, rename); create_unlinked, find, mount,
// umount and the KV opcodes are answered with NOTSUPP. It declares neither
// OpenPathRequired nor OpenFileRequired; opens on it still go through a
// real OpOpen dispatch like any other module. Grounded on the Module contract
// in internal/backend and on objectfs's in-memory test doubles for
// pkg/types.Backend.
package memmod

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Magic is the module_magic byte memmod registers under.
const Magic = 1

const (
	sIFDIR = 0040000
	sIFREG = 0100000
	sIFLNK = 0120000
)

type node struct {
	mu       sync.RWMutex
	ino      uint64
	mode     uint32
	size     uint64
	data     []byte
	target   string // symlink target
	children map[string]uint64
	mtime    time.Time
	ctime    time.Time
	atime    time.Time
	nlink    uint32
}

func (n *node) toAttrs(fh vfsattr.FH) vfsattr.Attrs {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.toAttrsLocked(fh)
}

func (n *node) toAttrsLocked(fh vfsattr.FH) vfsattr.Attrs {
	return vfsattr.Attrs{
		SetMask: vfsattr.MaskStat | vfsattr.AttrFH,
		Ino:     n.ino,
		Mode:    n.mode,
		Nlink:   n.nlink,
		Size:    n.size,
		Atime:   n.atime,
		Mtime:   n.mtime,
		Ctime:   n.ctime,
		FH:      fh.Clone(),
	}
}

// Module is the in-memory backend. The zero value is not usable; call New.
type Module struct {
	mu      sync.RWMutex
	nodes   map[uint64]*node
	nextIno uint64
}

// New creates an empty in-memory filesystem with a root directory at
// inode 1.
func New() *Module {
	m := &Module{nodes: make(map[uint64]*node), nextIno: 2}
	now := time.Now()
	m.nodes[1] = &node{
		ino:      1,
		mode:     sIFDIR | 0755,
		children: make(map[string]uint64),
		mtime:    now,
		ctime:    now,
		atime:    now,
		nlink:    2,
	}
	return m
}

// Magic implements backend.Module.
func (m *Module) Magic() byte { return Magic }

// Capabilities implements backend.Module. memmod declares no open
// requirements, and declares no Blocking since every operation is pure
// memory access.
func (m *Module) Capabilities() backend.Capability { return 0 }

// Init implements backend.Module; memmod needs no global setup.
func (m *Module) Init(ctx context.Context, configData string) error { return nil }

// Destroy implements backend.Module.
func (m *Module) Destroy(ctx context.Context) error { return nil }

// ThreadInit implements backend.Module; memmod needs no per-worker state.
func (m *Module) ThreadInit(ctx context.Context) (interface{}, error) { return nil, nil }

// ThreadDestroy implements backend.Module.
func (m *Module) ThreadDestroy(ctx context.Context, private interface{}) error { return nil }

// Mount implements mount.Mounter: every mount gets a fresh root FH suffix
// encoding inode 1.
func (m *Module) Mount(ctx context.Context, mountPath, optionsData string) (interface{}, []byte, error) {
	return nil, vfsattr.EncodeUint64(1), nil
}

func fhIno(fh vfsattr.FH) uint64 {
	return vfsattr.DecodeUint64(fh.Private())
}

func fhForIno(parent vfsattr.FH, ino uint64) vfsattr.FH {
	mountID := vfsattr.MountIDFromBytes(parent.MountID())
	return vfsattr.NewFH(Magic, mountID, vfsattr.EncodeUint64(ino))
}

func (m *Module) lookupNode(fh vfsattr.FH) (*node, vfserrors.Code) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[fhIno(fh)]
	if !ok {
		return nil, vfserrors.STALE
	}
	return n, vfserrors.OK
}

// Dispatch implements backend.Module, branching on req.Opcode. Every
// branch populates result fields and finishes by calling MarkComplete
// exactly once, matching the backend module contract (spec.md §6).
func (m *Module) Dispatch(ctx context.Context, req *request.Request, threadPrivate interface{}) {
	defer req.MarkComplete()

	n, code := m.lookupNode(req.FH)
	if code != vfserrors.OK {
		req.Status = code
		return
	}

	switch req.Opcode {
	case request.OpGetattr:
		req.Getattr.ResultAttr = n.toAttrs(req.FH)
		req.Status = vfserrors.OK

	case request.OpSetattr:
		n.mu.Lock()
		req.Setattr.PreAttr = n.toAttrsLocked(req.FH)
		if req.Setattr.SetAttr.SetMask.Has(vfsattr.AttrMode) {
			n.mode = (n.mode &^ 0177777) | (req.Setattr.SetAttr.Mode & 0177777)
		}
		if req.Setattr.SetAttr.SetMask.Has(vfsattr.AttrSize) {
			n.size = req.Setattr.SetAttr.Size
			if uint64(len(n.data)) > n.size {
				n.data = n.data[:n.size]
			}
		}
		n.mtime = time.Now()
		req.Setattr.PostAttr = n.toAttrsLocked(req.FH)
		n.mu.Unlock()
		req.Status = vfserrors.OK

	case request.OpLookup:
		n.mu.RLock()
		childIno, ok := n.children[req.Lookup.Name]
		n.mu.RUnlock()
		if !ok {
			req.Status = vfserrors.NOENT
			return
		}
		m.mu.RLock()
		child := m.nodes[childIno]
		m.mu.RUnlock()
		childFH := fhForIno(req.FH, childIno)
		req.Lookup.ResultAttr = child.toAttrs(childFH)
		req.Lookup.DirAttr = n.toAttrs(req.FH)
		req.Status = vfserrors.OK

	case request.OpReaddir:
		n.mu.RLock()
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		n.mu.RUnlock()

		for i, name := range names {
			cookie := uint64(i + 1)
			if cookie <= req.Readdir.Cookie {
				continue
			}
			n.mu.RLock()
			childIno := n.children[name]
			n.mu.RUnlock()
			m.mu.RLock()
			child := m.nodes[childIno]
			m.mu.RUnlock()
			childFH := fhForIno(req.FH, childIno)
			if req.Readdir.Emit != nil && !req.Readdir.Emit(name, childFH, child.toAttrs(childFH), cookie) {
				req.Status = vfserrors.OK
				return
			}
		}
		req.Readdir.EOF = true
		req.Status = vfserrors.OK

	case request.OpMkdir:
		req.Status = m.createChild(req.FH, req.Mkdir.Name, sIFDIR|0755, true, func(fh vfsattr.FH, attr vfsattr.Attrs) {
			req.Mkdir.ResultFH = fh
			req.Mkdir.ResultAttr = attr
		})

	case request.OpMknod:
		req.Status = m.createChild(req.FH, req.Mknod.Name, req.Mknod.Mode, false, func(fh vfsattr.FH, attr vfsattr.Attrs) {
			req.Mknod.ResultFH = fh
			req.Mknod.ResultAttr = attr
		})

	case request.OpOpen:
		req.Open.ResultFH = req.FH
		req.Open.ResultAttr = n.toAttrs(req.FH)
		req.Status = vfserrors.OK

	case request.OpOpenAt:
		req.Status = m.openAt(req)

	case request.OpRemove:
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.children[req.Remove.Name]; !ok {
			req.Status = vfserrors.NOENT
			return
		}
		delete(n.children, req.Remove.Name)
		n.mtime = time.Now()
		req.Status = vfserrors.OK

	case request.OpRead:
		n.mu.RLock()
		defer n.mu.RUnlock()
		off := req.Read.Offset
		if off >= uint64(len(n.data)) {
			req.Read.Data = nil
			req.Read.EOF = true
			req.Status = vfserrors.OK
			return
		}
		end := off + uint64(req.Read.Length)
		if end > uint64(len(n.data)) {
			end = uint64(len(n.data))
			req.Read.EOF = true
		}
		req.Read.Data = append([]byte(nil), n.data[off:end]...)
		req.Status = vfserrors.OK

	case request.OpWrite:
		n.mu.Lock()
		defer n.mu.Unlock()
		req.Write.PreAttr = n.toAttrsLocked(req.FH)
		end := req.Write.Offset + uint64(len(req.Write.Data))
		if end > uint64(len(n.data)) {
			grown := make([]byte, end)
			copy(grown, n.data)
			n.data = grown
		}
		copy(n.data[req.Write.Offset:end], req.Write.Data)
		n.size = uint64(len(n.data))
		n.mtime = time.Now()
		req.Write.Written = uint32(len(req.Write.Data))
		req.Write.PostAttr = n.toAttrsLocked(req.FH)
		req.Status = vfserrors.OK

	case request.OpCommit:
		req.Status = vfserrors.OK

	case request.OpSymlink:
		m.mu.Lock()
		ino := m.nextIno
		m.nextIno++
		now := time.Now()
		child := &node{ino: ino, mode: sIFLNK | 0777, target: req.Symlink.Target, mtime: now, ctime: now, atime: now, nlink: 1}
		m.nodes[ino] = child
		m.mu.Unlock()

		n.mu.Lock()
		n.children[req.Symlink.Name] = ino
		n.mtime = time.Now()
		n.mu.Unlock()

		childFH := fhForIno(req.FH, ino)
		req.Symlink.ResultFH = childFH
		req.Symlink.ResultAttr = child.toAttrs(childFH)
		req.Status = vfserrors.OK

	case request.OpReadlink:
		n.mu.RLock()
		target := n.target
		n.mu.RUnlock()
		if target == "" {
			req.Status = vfserrors.INVAL
			return
		}
		req.Readlink.Target = target
		req.Status = vfserrors.OK

	case request.OpLink:
		targetNode, code := m.lookupNode(req.Link.TargetFH)
		if code != vfserrors.OK {
			req.Status = vfserrors.STALE
			return
		}
		n.mu.Lock()
		n.children[req.Link.Name] = targetNode.ino
		n.mu.Unlock()
		targetNode.mu.Lock()
		targetNode.nlink++
		targetNode.mu.Unlock()
		req.Status = vfserrors.OK

	case request.OpRename:
		n.mu.Lock()
		ino, ok := n.children[req.Rename.OldName]
		if !ok {
			n.mu.Unlock()
			req.Status = vfserrors.NOENT
			return
		}
		delete(n.children, req.Rename.OldName)
		n.mu.Unlock()

		destNode, code := m.lookupNode(req.Rename.NewParent)
		if code != vfserrors.OK {
			req.Status = vfserrors.STALE
			return
		}
		destNode.mu.Lock()
		destNode.children[req.Rename.NewName] = ino
		destNode.mu.Unlock()
		req.Status = vfserrors.OK

	default:
		req.Status = vfserrors.NOTSUPP
	}
}

// createChild allocates a new inode named name under parentFH, reporting
// the result through emit. Shared by mkdir and mknod, which differ only in
// the mode bits and result-field destination.
func (m *Module) createChild(parentFH vfsattr.FH, name string, mode uint32, isDir bool, emit func(vfsattr.FH, vfsattr.Attrs)) vfserrors.Code {
	parent, code := m.lookupNode(parentFH)
	if code != vfserrors.OK {
		return vfserrors.STALE
	}

	parent.mu.Lock()
	if _, exists := parent.children[name]; exists {
		parent.mu.Unlock()
		return vfserrors.EXIST
	}
	parent.mu.Unlock()

	m.mu.Lock()
	ino := m.nextIno
	m.nextIno++
	now := time.Now()
	child := &node{ino: ino, mode: mode, mtime: now, ctime: now, atime: now, nlink: 1}
	if isDir {
		child.children = make(map[string]uint64)
		child.nlink = 2
	}
	m.nodes[ino] = child
	m.mu.Unlock()

	parent.mu.Lock()
	parent.children[name] = ino
	parent.mtime = time.Now()
	parent.mu.Unlock()

	childFH := fhForIno(parentFH, ino)
	emit(childFH, child.toAttrs(childFH))

	return vfserrors.OK
}

func (m *Module) openAt(req *request.Request) vfserrors.Code {
	parent, code := m.lookupNode(req.FH)
	if code != vfserrors.OK {
		return vfserrors.STALE
	}

	parent.mu.RLock()
	ino, ok := parent.children[req.Open.Name]
	parent.mu.RUnlock()

	if !ok {
		if !req.Open.Create {
			return vfserrors.NOENT
		}
		var resultFH vfsattr.FH
		var resultAttr vfsattr.Attrs
		code := m.createChild(req.FH, req.Open.Name, sIFREG|(req.Open.Mode&0777), false, func(fh vfsattr.FH, attr vfsattr.Attrs) {
			resultFH = fh
			resultAttr = attr
		})
		if code != vfserrors.OK {
			return code
		}
		req.Open.ResultFH = resultFH
		req.Open.ResultAttr = resultAttr
		return vfserrors.OK
	}

	if req.Open.Create && req.Open.Exclusive {
		return vfserrors.EXIST
	}

	m.mu.RLock()
	child := m.nodes[ino]
	m.mu.RUnlock()

	childFH := fhForIno(req.FH, ino)
	req.Open.ResultFH = childFH
	req.Open.ResultAttr = child.toAttrs(childFH)
	return vfserrors.OK
}
