// Package ops implements the operation surface (component H): one op_*
// function per VFS call, each a thin shape around the dispatcher that
// allocates a request, fills in opcode-specific args, sets complete, and
// dispatches (spec.md §4.H). The complete hook is where per-op cache
// maintenance happens - the attribute cache and name cache are populated
// or invalidated here, not inside internal/attrcache or internal/dispatch
// themselves, matching the teacher's pattern of keeping its cache types
// dumb stores and doing all policy at the call site that owns the
// request lifecycle (internal/storage/s3/backend.go's read-through-cache
// wrapping of internal/cache.LRUCache).
package ops

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/attrcache"
	"github.com/chimera-nas/vfscore/internal/dispatch"
	"github.com/chimera-nas/vfscore/internal/opencache"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
	"github.com/chimera-nas/vfscore/pkg/vfslog"
)

// Surface bundles every dependency an op_* call needs: the dispatcher
// that routes requests to backend modules, the request pool those calls
// are allocated from, and the caches each op's complete hook maintains.
type Surface struct {
	Dispatcher *dispatch.Dispatcher
	Pool       *dispatch.RequestPool
	AttrCache  *attrcache.AttrCache
	NameCache  *attrcache.NameCache
	OpenCache  *opencache.Cache
	Log        *vfslog.Logger
}

// New builds a Surface. AttrCache, NameCache and OpenCache may be nil, in
// which case the corresponding op_* calls skip cache maintenance
// entirely - useful for a backend mounted with caching disabled.
func New(d *dispatch.Dispatcher, pool *dispatch.RequestPool, attrs *attrcache.AttrCache, names *attrcache.NameCache, opens *opencache.Cache, log *vfslog.Logger) *Surface {
	return &Surface{Dispatcher: d, Pool: pool, AttrCache: attrs, NameCache: names, OpenCache: opens, Log: log}
}

func (s *Surface) allocRequest() *request.Request {
	if s.Pool != nil {
		return s.Pool.Get()
	}
	return &request.Request{}
}

func (s *Surface) releaseRequest(req *request.Request) {
	if s.Pool != nil {
		s.Pool.Put(req)
	}
}

// AttrResult is the outcome of any op_* call whose primary result is a
// child FH and its attrs (lookup, mkdir, mknod, symlink, open_at, open).
type AttrResult struct {
	FH   vfsattr.FH
	Attr vfsattr.Attrs
	Code vfserrors.Code
}

// AttrCallback receives an AttrResult once the operation completes.
type AttrCallback func(AttrResult)

func defaultMask(mask vfsattr.AttrMask) vfsattr.AttrMask {
	if mask == 0 {
		return vfsattr.MaskStat
	}
	return mask
}

// Lookup resolves name under dir, serving from the name+attribute caches
// when both agree the entry is present and the requested mask is
// cacheable, and populating them on a backend miss (spec.md §4.H
// "lookup").
func (s *Surface) Lookup(ctx context.Context, dir vfsattr.FH, name string, reqMask vfsattr.AttrMask, cb AttrCallback) {
	reqMask = defaultMask(reqMask)

	if s.NameCache != nil && s.AttrCache != nil {
		if childFH, ok := s.NameCache.Lookup(dir, name); ok {
			if attr, ok := s.AttrCache.Get(childFH, reqMask); ok {
				cb(AttrResult{FH: childFH, Attr: attr, Code: vfserrors.OK})
				return
			}
		}
	}

	req := s.allocRequest()
	req.Opcode = request.OpLookup
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Lookup = &request.LookupArgs{Name: name, ReqMask: reqMask | vfsattr.AttrFH}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(AttrResult{Code: r.Status})
			return
		}
		attr := r.Lookup.ResultAttr
		if s.NameCache != nil {
			s.NameCache.Insert(dir, name, attr.FH)
		}
		if s.AttrCache != nil {
			s.AttrCache.Put(attr.FH, attr)
		}
		cb(AttrResult{FH: attr.FH, Attr: attr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Getattr serves fh's attrs from the attribute cache when it already
// holds every bit of reqMask, otherwise dispatches to the backend and
// populates the cache on success (spec.md §4.H "getattr").
func (s *Surface) Getattr(ctx context.Context, fh vfsattr.FH, reqMask vfsattr.AttrMask, cb func(vfsattr.Attrs, vfserrors.Code)) {
	reqMask = defaultMask(reqMask)

	if s.AttrCache != nil {
		if attr, ok := s.AttrCache.Get(fh, reqMask); ok {
			cb(attr, vfserrors.OK)
			return
		}
	}

	req := s.allocRequest()
	req.Opcode = request.OpGetattr
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Getattr = &request.GetattrArgs{ReqMask: reqMask | vfsattr.AttrFH}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(vfsattr.Attrs{}, r.Status)
			return
		}
		if s.AttrCache != nil {
			s.AttrCache.Put(fh, r.Getattr.ResultAttr)
		}
		cb(r.Getattr.ResultAttr, vfserrors.OK)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Open resolves fh to a live backend handle through the open cache when
// the surface was built with one, deduplicating concurrent opens of the
// same fh into a single backend OpOpen call (spec.md §4.C). Surfaces
// built with a nil OpenCache (caching disabled) dispatch OpOpen directly
// on every call.
func (s *Surface) Open(ctx context.Context, fh vfsattr.FH, exclusive bool, cb func(AttrResult)) {
	dispatchOpen := func() AttrResult {
		var result AttrResult
		done := make(chan struct{})

		req := s.allocRequest()
		req.Opcode = request.OpOpen
		req.FH = fh
		req.FHHash = fh.Hash()
		req.Open = &request.OpenArgs{ForWrite: exclusive}
		req.Complete = func(r *request.Request) {
			defer s.releaseRequest(req)
			if r.Status != vfserrors.OK {
				result = AttrResult{Code: r.Status}
			} else {
				result = AttrResult{FH: r.Open.ResultFH, Attr: r.Open.ResultAttr, Code: vfserrors.OK}
			}
			close(done)
		}
		s.Dispatcher.Dispatch(ctx, req)
		<-done
		return result
	}

	if s.OpenCache == nil {
		cb(dispatchOpen())
		return
	}

	openFn := func() (interface{}, func(), error) {
		result := dispatchOpen()
		if result.Code != vfserrors.OK {
			return nil, nil, vfserrors.New(result.Code, "open")
		}
		return result, func() {}, nil
	}

	s.OpenCache.Acquire(fh, exclusive, openFn, func(r opencache.AcquireResult) {
		if r.Err != nil {
			code := vfserrors.IO
			if ve, ok := r.Err.(*vfserrors.VFSError); ok {
				code = ve.Code
			}
			cb(AttrResult{Code: code})
			return
		}
		cb(r.VFSPrivate.(AttrResult))
	})
}

// Close releases the reference Open acquired for fh. A no-op if the
// surface has no open cache.
func (s *Surface) Close(fh vfsattr.FH) {
	if s.OpenCache != nil {
		s.OpenCache.Release(fh)
	}
}

// SetattrResult carries setattr's pre/post attrs.
type SetattrResult struct {
	Pre  vfsattr.Attrs
	Post vfsattr.Attrs
	Code vfserrors.Code
}

// Setattr applies setAttr to fh. The attribute cache is invalidated and
// repopulated with the post-image on success (spec.md §4.H "setattr").
func (s *Surface) Setattr(ctx context.Context, fh vfsattr.FH, setAttr vfsattr.Attrs, cb func(SetattrResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpSetattr
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Setattr = &request.SetattrArgs{SetAttr: setAttr}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			if s.AttrCache != nil {
				s.AttrCache.Invalidate(fh)
			}
			cb(SetattrResult{Code: r.Status})
			return
		}
		if s.AttrCache != nil {
			s.AttrCache.Put(fh, r.Setattr.PostAttr)
		}
		cb(SetattrResult{Pre: r.Setattr.PreAttr, Post: r.Setattr.PostAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}
