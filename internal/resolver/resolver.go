// Package resolver implements the generic path resolver (component G):
// lookup_path walks a slash-separated path one component at a time against
// the dispatcher, following symlinks safely, and create_path does the same
// for all but the last component before creating the leaf (spec.md §4.G).
// Grounded on chimera-nas's chimera_vfs_lookup_path state machine
// (original_source/src/vfs/vfs.h), reimplemented as Go continuation
// closures driven by dispatch.Dispatcher's async Complete callback rather
// than C's embedded union-of-state struct.
package resolver

import (
	"context"
	"strings"

	"github.com/chimera-nas/vfscore/internal/dispatch"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// MaxSymlinkDepth is the number of symlink expansions lookup_path tolerates
// before failing; the taxonomy has no dedicated ELOOP code, so a chain
// this deep is reported as INVAL (spec.md §8 property 6: a chain of depth
// 41 must fail).
const MaxSymlinkDepth = 40

// LookupFollow mirrors CHIMERA_VFS_LOOKUP_FOLLOW: follow a symlink in the
// terminal path component too, not just interior ones.
const LookupFollow = 1 << 0

// Callback receives the outcome of LookupPath or CreatePath.
type Callback func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code)

// splitPath strips leading/trailing slashes, collapses consecutive
// separators, and drops empty components.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type walker struct {
	ctx          context.Context
	d            *dispatch.Dispatcher
	mountRoot    vfsattr.FH
	reqMask      vfsattr.AttrMask
	flags        uint32
	callback     Callback
	remaining    []string
	parent       vfsattr.FH
	symlinkCount int
}

// LookupPath walks path starting at root, issuing one lookup per component.
// On the terminal component the requested attr mask (plus AttrFH, always
// included) is fetched. A symlink resolved mid-path, or at the terminal
// component when flags has LookupFollow set, is expanded and its target
// spliced into the remaining path; an absolute target resets resolution to
// mountRoot.
func LookupPath(ctx context.Context, d *dispatch.Dispatcher, root vfsattr.FH, path string, reqMask vfsattr.AttrMask, flags uint32, callback Callback) {
	w := &walker{
		ctx:       ctx,
		d:         d,
		mountRoot: root,
		reqMask:   reqMask,
		flags:     flags,
		callback:  callback,
		remaining: splitPath(path),
		parent:    root,
	}

	if len(w.remaining) == 0 {
		// "" or "/" resolves to root itself.
		w.getattr(root)
		return
	}
	w.step()
}

func (w *walker) getattr(fh vfsattr.FH) {
	req := &request.Request{
		Opcode:  request.OpGetattr,
		FH:      fh,
		FHHash:  fh.Hash(),
		Getattr: &request.GetattrArgs{ReqMask: w.reqMask | vfsattr.AttrFH},
	}
	req.Complete = func(r *request.Request) {
		if r.Status != vfserrors.OK {
			w.callback(nil, vfsattr.Attrs{}, r.Status)
			return
		}
		w.callback(fh, r.Getattr.ResultAttr, vfserrors.OK)
	}
	w.d.Dispatch(w.ctx, req)
}

func (w *walker) step() {
	name := w.remaining[0]
	isTerminal := len(w.remaining) == 1

	mask := vfsattr.AttrMode | vfsattr.AttrFH
	if isTerminal {
		mask |= w.reqMask
	}

	req := &request.Request{
		Opcode:  request.OpLookup,
		FH:      w.parent,
		FHHash:  w.parent.Hash(),
		Lookup:  &request.LookupArgs{Name: name, ReqMask: mask},
	}
	req.Complete = func(r *request.Request) {
		w.onLookupComplete(r, name, isTerminal)
	}
	w.d.Dispatch(w.ctx, req)
}

func (w *walker) onLookupComplete(r *request.Request, name string, isTerminal bool) {
	if r.Status != vfserrors.OK {
		w.callback(nil, vfsattr.Attrs{}, r.Status)
		return
	}

	childFH := r.Lookup.ResultAttr.FH
	childAttr := r.Lookup.ResultAttr

	shouldFollow := childAttr.IsSymlink() && (!isTerminal || w.flags&LookupFollow != 0)
	if shouldFollow {
		w.followSymlink(childFH)
		return
	}

	w.remaining = w.remaining[1:]
	if len(w.remaining) == 0 {
		w.callback(childFH, childAttr, vfserrors.OK)
		return
	}
	w.parent = childFH
	w.step()
}

func (w *walker) followSymlink(symlinkFH vfsattr.FH) {
	w.symlinkCount++
	if w.symlinkCount > MaxSymlinkDepth {
		w.callback(nil, vfsattr.Attrs{}, vfserrors.INVAL)
		return
	}

	req := &request.Request{
		Opcode:   request.OpReadlink,
		FH:       symlinkFH,
		FHHash:   symlinkFH.Hash(),
		Readlink: &request.ReadlinkArgs{},
	}
	req.Complete = func(r *request.Request) {
		if r.Status != vfserrors.OK {
			w.callback(nil, vfsattr.Attrs{}, r.Status)
			return
		}
		w.spliceTarget(r.Readlink.Target)
	}
	w.d.Dispatch(w.ctx, req)
}

func (w *walker) spliceTarget(target string) {
	targetComponents := splitPath(target)

	w.remaining = w.remaining[1:] // drop the symlink name itself
	if strings.HasPrefix(target, "/") {
		w.parent = w.mountRoot
	}
	w.remaining = append(targetComponents, w.remaining...)

	if len(w.remaining) == 0 {
		w.getattr(w.parent)
		return
	}
	w.step()
}

// createWalker drives CreatePath: identical component walk, but a missing
// interior directory is created with mkdir (treating EEXIST as a benign
// race with a concurrent creator), and the terminal component is created
// via open_at.
type createWalker struct {
	ctx       context.Context
	d         *dispatch.Dispatcher
	remaining []string
	parent    vfsattr.FH
	setAttr   vfsattr.Attrs
	forWrite  bool
	exclusive bool
	callback  Callback
}

// CreatePath behaves like LookupPath for every component up to but not
// including the last, creating any missing interior directory along the
// way, then creates the leaf with open_at (spec.md §4.G).
func CreatePath(ctx context.Context, d *dispatch.Dispatcher, root vfsattr.FH, path string, setAttr vfsattr.Attrs, forWrite, exclusive bool, callback Callback) {
	components := splitPath(path)
	if len(components) == 0 {
		callback(nil, vfsattr.Attrs{}, vfserrors.INVAL)
		return
	}

	w := &createWalker{
		ctx:       ctx,
		d:         d,
		remaining: components,
		parent:    root,
		setAttr:   setAttr,
		forWrite:  forWrite,
		exclusive: exclusive,
		callback:  callback,
	}
	w.step()
}

func (w *createWalker) step() {
	name := w.remaining[0]
	if len(w.remaining) == 1 {
		w.createLeaf(name)
		return
	}

	req := &request.Request{
		Opcode: request.OpLookup,
		FH:     w.parent,
		FHHash: w.parent.Hash(),
		Lookup: &request.LookupArgs{Name: name, ReqMask: vfsattr.AttrFH | vfsattr.AttrMode},
	}
	req.Complete = func(r *request.Request) {
		switch r.Status {
		case vfserrors.OK:
			w.parent = r.Lookup.ResultAttr.FH
			w.remaining = w.remaining[1:]
			w.step()
		case vfserrors.NOENT:
			w.mkdirInterior(name)
		default:
			w.callback(nil, vfsattr.Attrs{}, r.Status)
		}
	}
	w.d.Dispatch(w.ctx, req)
}

func (w *createWalker) mkdirInterior(name string) {
	req := &request.Request{
		Opcode: request.OpMkdir,
		FH:     w.parent,
		FHHash: w.parent.Hash(),
		Mkdir:  &request.MkdirArgs{Name: name},
	}
	req.Complete = func(r *request.Request) {
		switch r.Status {
		case vfserrors.OK:
			w.parent = r.Mkdir.ResultFH
			w.remaining = w.remaining[1:]
			w.step()
		case vfserrors.EXIST:
			// Benign race with a concurrent creator (spec.md §4.G): look
			// the now-present directory back up rather than failing.
			w.step()
		default:
			w.callback(nil, vfsattr.Attrs{}, r.Status)
		}
	}
	w.d.Dispatch(w.ctx, req)
}

func (w *createWalker) createLeaf(name string) {
	req := &request.Request{
		Opcode: request.OpOpenAt,
		FH:     w.parent,
		FHHash: w.parent.Hash(),
		Open: &request.OpenArgs{
			Name:      name,
			Create:    true,
			Exclusive: w.exclusive,
			ForWrite:  w.forWrite,
			Mode:      w.setAttr.Mode,
		},
	}
	req.Complete = func(r *request.Request) {
		if r.Status != vfserrors.OK {
			w.callback(nil, vfsattr.Attrs{}, r.Status)
			return
		}
		w.callback(r.Open.ResultFH, r.Open.ResultAttr, vfserrors.OK)
	}
	w.d.Dispatch(w.ctx, req)
}
