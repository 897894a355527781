package ops

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// KVPut stores value under key, scoped to the key-value namespace rooted
// at fh (spec.md §4.H "KV").
func (s *Surface) KVPut(ctx context.Context, fh vfsattr.FH, key, value []byte, cb func(vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpKVPut
	req.FH = fh
	req.FHHash = fh.Hash()
	req.KV = &request.KVArgs{Key: key, Value: value}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// KVGet retrieves the value stored under key.
func (s *Surface) KVGet(ctx context.Context, fh vfsattr.FH, key []byte, cb func(value []byte, code vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpKVGet
	req.FH = fh
	req.FHHash = fh.Hash()
	req.KV = &request.KVArgs{Key: key}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.KV.Value, r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// KVDelete removes the value stored under key.
func (s *Surface) KVDelete(ctx context.Context, fh vfsattr.FH, key []byte, cb func(vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpKVDelete
	req.FH = fh
	req.FHHash = fh.Hash()
	req.KV = &request.KVArgs{Key: key}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}

// KVSearch yields every key/value pair whose key starts with prefix.
func (s *Surface) KVSearch(ctx context.Context, fh vfsattr.FH, prefix []byte, cb func(results map[string][]byte, code vfserrors.Code)) {
	req := s.allocRequest()
	req.Opcode = request.OpKVSearch
	req.FH = fh
	req.FHHash = fh.Hash()
	req.KV = &request.KVArgs{Prefix: prefix, Results: make(map[string][]byte)}
	req.Complete = func(r *request.Request) {
		defer s.releaseRequest(req)
		cb(r.KV.Results, r.Status)
	}
	s.Dispatcher.Dispatch(ctx, req)
}
