package ops

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/find"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

// Find performs a recursive tree walk rooted at root (spec.md §4.H
// "find", detailed in §4.I). It drives the dispatcher directly rather
// than going through Surface.Readdir, so a walk over millions of
// entries does not populate the attribute and name caches with results
// that are, by construction, visited once each.
func (s *Surface) Find(ctx context.Context, root vfsattr.FH, reqMask vfsattr.AttrMask, filter find.Filter, emit find.Emit, done func(vfserrors.Code)) {
	find.Find(ctx, s.Dispatcher, root, defaultMask(reqMask), filter, emit, done)
}
