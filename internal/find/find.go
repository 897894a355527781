// Package find implements the recursive find engine (component I): a
// parallel tree walk built entirely out of readdir calls against the
// dispatcher, since no backend module implements a native find opcode
// (spec.md §4.I). Grounded on the same continuation-closure shape as
// internal/resolver, with outstanding-child bookkeeping modeled as a
// simple mutex-guarded counter.
package find

import (
	"context"
	"sync"

	"github.com/chimera-nas/vfscore/internal/dispatch"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Filter decides whether a child is included in the walk. It sees the
// child's path relative to the find root, its name, and its attrs;
// returning false skips the child (and, if it is a directory, its entire
// subtree).
type Filter func(path string, name string, attr vfsattr.Attrs) bool

// Emit is invoked once for every child that survives Filter.
type Emit func(path string, fh vfsattr.FH, attr vfsattr.Attrs)

// Complete fires exactly once, after the root's subtree has fully
// drained, with the first non-OK status observed anywhere in the walk
// (or OK if none was).
type Complete func(code vfserrors.Code)

// state is shared by every node in one Find call: the outstanding count
// of in-flight readdir calls across the whole subtree, and the first
// error seen by any of them.
type state struct {
	d        *dispatch.Dispatcher
	reqMask  vfsattr.AttrMask
	filter   Filter
	emit     Emit
	complete Complete

	mu          sync.Mutex
	outstanding int
	firstErr    vfserrors.Code
	fired       bool
}

// Find walks the tree rooted at root, emitting every descendant that
// passes filter, and calls complete once the walk is done.
func Find(ctx context.Context, d *dispatch.Dispatcher, root vfsattr.FH, reqMask vfsattr.AttrMask, filter Filter, emit Emit, complete Complete) {
	s := &state{
		d:        d,
		reqMask:  reqMask,
		filter:   filter,
		emit:     emit,
		complete: complete,
		firstErr: vfserrors.OK,
	}
	s.enter()
	s.walkDir(ctx, root, "")
}

// enter registers one more in-flight readdir. leave reverses it and, once
// the count returns to zero, fires complete exactly once.
func (s *state) enter() {
	s.mu.Lock()
	s.outstanding++
	s.mu.Unlock()
}

func (s *state) leave() {
	s.mu.Lock()
	s.outstanding--
	done := s.outstanding == 0 && !s.fired
	if done {
		s.fired = true
	}
	err := s.firstErr
	s.mu.Unlock()

	if done {
		s.complete(err)
	}
}

func (s *state) recordError(code vfserrors.Code) {
	if code == vfserrors.OK {
		return
	}
	s.mu.Lock()
	if s.firstErr == vfserrors.OK {
		s.firstErr = code
	}
	s.mu.Unlock()
}

// walkDir issues one readdir against fh and, for every surviving child,
// emits it and descends into it if it is itself a directory. A readdir
// error is recorded and short-circuits this subtree only; siblings and
// already-started descendants are unaffected (spec.md §4.I).
func (s *state) walkDir(ctx context.Context, fh vfsattr.FH, dirPath string) {
	req := &request.Request{
		Opcode: request.OpReaddir,
		FH:     fh,
		FHHash: fh.Hash(),
		Readdir: &request.ReaddirArgs{
			ReqMask: s.reqMask | vfsattr.AttrFH,
			Emit: func(name string, childFH vfsattr.FH, attr vfsattr.Attrs, cookie uint64) bool {
				s.handleChild(ctx, dirPath, name, childFH, attr)
				return true
			},
		},
	}
	req.Complete = func(r *request.Request) {
		s.recordError(r.Status)
		s.leave()
	}
	s.d.Dispatch(ctx, req)
}

func (s *state) handleChild(ctx context.Context, dirPath, name string, fh vfsattr.FH, attr vfsattr.Attrs) {
	childPath := name
	if dirPath != "" {
		childPath = dirPath + "/" + name
	}

	if s.filter != nil && !s.filter(childPath, name, attr) {
		return
	}

	if s.emit != nil {
		s.emit(childPath, fh, attr)
	}

	if attr.IsDir() {
		s.enter()
		s.walkDir(ctx, fh, childPath)
	}
}
