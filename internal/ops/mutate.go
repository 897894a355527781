package ops

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// RemoveResult carries remove's pre/post directory attrs (spec.md §4.H
// "remove").
type RemoveResult struct {
	DirPre  vfsattr.Attrs
	DirPost vfsattr.Attrs
	Code    vfserrors.Code
}

// Remove unlinks name from dir. The name cache entry for (dir, name) is
// invalidated unconditionally, since a stale hit here would hand a
// caller a deleted file's FH; the attribute cache for that FH is not
// touched; an unlinked-but-still-open file keeps serving cached attrs
// until its last reference drops, same as a live POSIX fd.
func (s *Surface) Remove(ctx context.Context, dir vfsattr.FH, name string, cb func(RemoveResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpRemove
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Remove = &request.RemoveArgs{Name: name}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if s.NameCache != nil {
			s.NameCache.Invalidate(dir, name)
		}
		if s.AttrCache != nil {
			s.AttrCache.Invalidate(dir)
		}
		if r.Status != vfserrors.OK {
			cb(RemoveResult{Code: r.Status})
			return
		}
		cb(RemoveResult{DirPre: r.Remove.DirPre, DirPost: r.Remove.DirPost, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// RenameResult carries rename's pre/post attrs for both parents.
type RenameResult struct {
	OldDirPre  vfsattr.Attrs
	OldDirPost vfsattr.Attrs
	NewDirPre  vfsattr.Attrs
	NewDirPost vfsattr.Attrs
	Code       vfserrors.Code
}

// Rename moves oldName under oldDir to newName under newDir. On success
// the name cache is invalidated for both parents, since either may have
// gained or lost the entry (spec.md §4.H "rename").
func (s *Surface) Rename(ctx context.Context, oldDir vfsattr.FH, oldName string, newDir vfsattr.FH, newName string, cb func(RenameResult)) {
	req := s.allocRequest()
	req.Opcode = request.OpRename
	req.FH = oldDir
	req.FHHash = oldDir.Hash()
	req.Rename = &request.RenameArgs{OldName: oldName, NewParent: newDir, NewName: newName}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(RenameResult{Code: r.Status})
			return
		}
		if s.NameCache != nil {
			s.NameCache.Invalidate(oldDir, oldName)
			s.NameCache.Invalidate(newDir, newName)
		}
		if s.AttrCache != nil {
			s.AttrCache.Invalidate(oldDir)
			s.AttrCache.Invalidate(newDir)
		}
		cb(RenameResult{
			OldDirPre: r.Rename.OldDirPre, OldDirPost: r.Rename.OldDirPost,
			NewDirPre: r.Rename.NewDirPre, NewDirPost: r.Rename.NewDirPost,
			Code: vfserrors.OK,
		})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Link creates a new hard link named name under dir pointing at target.
func (s *Surface) Link(ctx context.Context, target vfsattr.FH, dir vfsattr.FH, name string, cb func(vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpLink
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Link = &request.LinkArgs{TargetFH: target, Name: name}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status == vfserrors.OK && s.AttrCache != nil {
			s.AttrCache.Invalidate(target) // Nlink changed.
			s.AttrCache.Invalidate(dir)
		}
		cb(r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Symlink creates a symlink named name under dir pointing at target.
func (s *Surface) Symlink(ctx context.Context, dir vfsattr.FH, name, target string, cb AttrCallback) {
	req := s.allocRequest()
	req.Opcode = request.OpSymlink
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Symlink = &request.SymlinkArgs{Name: name, Target: target}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(AttrResult{Code: r.Status})
			return
		}
		s.cacheNewChild(dir, name, r.Symlink.ResultFH, r.Symlink.ResultAttr)
		cb(AttrResult{FH: r.Symlink.ResultFH, Attr: r.Symlink.ResultAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Mkdir creates a directory named name under dir.
func (s *Surface) Mkdir(ctx context.Context, dir vfsattr.FH, name string, setAttr vfsattr.Attrs, cb AttrCallback) {
	req := s.allocRequest()
	req.Opcode = request.OpMkdir
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Mkdir = &request.MkdirArgs{Name: name, SetAttr: setAttr}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(AttrResult{Code: r.Status})
			return
		}
		s.cacheNewChild(dir, name, r.Mkdir.ResultFH, r.Mkdir.ResultAttr)
		cb(AttrResult{FH: r.Mkdir.ResultFH, Attr: r.Mkdir.ResultAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Mknod creates a device/fifo/socket node named name under dir.
func (s *Surface) Mknod(ctx context.Context, dir vfsattr.FH, name string, mode uint32, rdev uint64, cb AttrCallback) {
	req := s.allocRequest()
	req.Opcode = request.OpMknod
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Mknod = &request.MknodArgs{Name: name, Mode: mode, Rdev: rdev}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(AttrResult{Code: r.Status})
			return
		}
		s.cacheNewChild(dir, name, r.Mknod.ResultFH, r.Mknod.ResultAttr)
		cb(AttrResult{FH: r.Mknod.ResultFH, Attr: r.Mknod.ResultAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// OpenAt opens (and optionally creates) name under dir.
func (s *Surface) OpenAt(ctx context.Context, dir vfsattr.FH, name string, create, exclusive, forWrite bool, mode uint32, cb AttrCallback) {
	req := s.allocRequest()
	req.Opcode = request.OpOpenAt
	req.FH = dir
	req.FHHash = dir.Hash()
	req.Open = &request.OpenArgs{Name: name, Create: create, Exclusive: exclusive, ForWrite: forWrite, Mode: mode}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		if r.Status != vfserrors.OK {
			cb(AttrResult{Code: r.Status})
			return
		}
		s.cacheNewChild(dir, name, r.Open.ResultFH, r.Open.ResultAttr)
		cb(AttrResult{FH: r.Open.ResultFH, Attr: r.Open.ResultAttr, Code: vfserrors.OK})
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// Readlink returns the target of the symlink at fh.
func (s *Surface) Readlink(ctx context.Context, fh vfsattr.FH, cb func(target string, code vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpReadlink
	req.FH = fh
	req.FHHash = fh.Hash()
	req.Readlink = &request.ReadlinkArgs{}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.Readlink.Target, r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

func (s *Surface) cacheNewChild(dir vfsattr.FH, name string, fh vfsattr.FH, attr vfsattr.Attrs) {
	if s.NameCache != nil {
		s.NameCache.Insert(dir, name, fh)
	}
	if s.AttrCache != nil {
		s.AttrCache.Invalidate(dir)
		s.AttrCache.Put(fh, attr)
	}
}
