package ops

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// ReadResult carries read's output (spec.md §4.H "read").
type ReadResult struct {
	Data []byte
	EOF  bool
	Attr vfsattr.Attrs
	Code vfserrors.Code
}

// Read issues a read of length bytes at offset against fh.
func (s *Surface) Read(ctx context.Context, fh vfsattr.FH, offset uint64, length uint32, cb func(ReadResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpRead
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Read = &request.ReadArgs{Offset: offset, Length: length}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(ReadResult{Code: r.Status})
			return
		}
		cb(ReadResult{Data: r.Read.Data, EOF: r.Read.EOF, Attr: r.Read.ResultAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// WriteResult carries write's output (spec.md §4.H "write").
type WriteResult struct {
	Written uint32
	Pre     vfsattr.Attrs
	Post    vfsattr.Attrs
	Code    vfserrors.Code
}

// Write issues a write of data at offset against fh. The attribute cache
// entry for fh is invalidated on success since size/mtime change; the
// post-image the backend returns repopulates it immediately rather than
// leaving a cache-cold window before the next getattr.
func (s *Surface) Write(ctx context.Context, fh vfsattr.FH, offset uint64, data []byte, sync bool, cb func(WriteResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpWrite
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Write = &request.WriteArgs{Offset: offset, Data: data, Sync: sync}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(WriteResult{Code: r.Status})
			return
		}
		if s.AttrCache != nil {
			s.AttrCache.Put(fh, r.Write.PostAttr)
		}
		cb(WriteResult{Written: r.Write.Written, Pre: r.Write.PreAttr, Post: r.Write.PostAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Commit issues an fsync-style commit over [offset, offset+length) on fh.
func (s *Surface) Commit(ctx context.Context, fh vfsattr.FH, offset, length uint64, cb func(vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpCommit
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Commit = &request.CommitArgs{Offset: offset, Length: length}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// DirEntry is one readdir emission.
type DirEntry struct {
	Name   string
	FH     vfsattr.FH
	Attr   vfsattr.Attrs
	Cookie uint64
}

// ReaddirResult carries readdir's final completion.
type ReaddirResult struct {
	EOF  bool
	Code vfserrors.Code
}

// Readdir lists dir's children starting after cookie, calling emit for
// each and done once the listing (or an error) ends. Every emitted
// child's attrs are opportunistically cached, and its name is inserted
// into the name cache, so a subsequent lookup of a just-listed entry is
// a cache hit (spec.md §4.H "readdir").
func (s *Surface) Readdir(ctx context.Context, dir vfsattr.FH, cookie uint64, reqMask vfsattr.AttrMask, emit func(DirEntry) bool, done func(ReaddirResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpReaddir
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Readdir = &request.ReaddirArgs{
		Cookie:  cookie,
		ReqMask: defaultMask(reqMask) | vfsattr.AttrFH,
		Emit: func(name string, fh vfsattr.FH, attr vfsattr.Attrs, entryCookie uint64) bool {
			if s.NameCache != nil {
				s.NameCache.Insert(dir, name, fh)
			}
			if s.AttrCache != nil {
				s.AttrCache.Put(fh, attr)
			}
			return emit(DirEntry{Name: name, FH: fh, Attr: attr, Cookie: entryCookie})
		},
	}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		done(ReaddirResult{EOF: r.Readdir.EOF, Code: r.Status})
	}
	s.Dispatcher.Dispatch(ctx, req)
}
