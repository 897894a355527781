package resolver

import (
	"context"
	"fmt"
	"testing"

	"github.com/chimera-nas/vfscore/internal/backend/memmod"
	"github.com/chimera-nas/vfscore/internal/dispatch"
	"github.com/chimera-nas/vfscore/internal/mount"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

func newTestEnv(t *testing.T) (*dispatch.Dispatcher, vfsattr.FH) {
	t.Helper()

	mod := memmod.New()
	table := mount.New()
	if err := table.Register(mod); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, err := table.Mount(context.Background(), memmod.Magic, "/", "")
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	pool := dispatch.NewDelegationPool(dispatch.DelegationConfig{WorkerCount: 1}, nil, nil)
	t.Cleanup(pool.Shutdown)
	d := dispatch.New(table, pool, nil, nil)

	return d, m.RootFH
}

// mkdirSync issues an OpMkdir synchronously; memmod's non-blocking dispatch
// path runs to completion on the calling goroutine, so no channel is
// needed to observe the result.
func mkdirSync(t *testing.T, d *dispatch.Dispatcher, parent vfsattr.FH, name string) vfsattr.FH {
	t.Helper()
	req := &request.Request{Opcode: request.OpMkdir, FH: parent, FHHash: parent.Hash(), Mkdir: &request.MkdirArgs{Name: name}}
	d.Dispatch(context.Background(), req)
	if req.Status != vfserrors.OK {
		t.Fatalf("mkdir(%s) = %v", name, req.Status)
	}
	return req.Mkdir.ResultFH
}

func symlinkSync(t *testing.T, d *dispatch.Dispatcher, parent vfsattr.FH, name, target string) {
	t.Helper()
	req := &request.Request{Opcode: request.OpSymlink, FH: parent, FHHash: parent.Hash(), Symlink: &request.SymlinkArgs{Name: name, Target: target}}
	d.Dispatch(context.Background(), req)
	if req.Status != vfserrors.OK {
		t.Fatalf("symlink(%s -> %s) = %v", name, target, req.Status)
	}
}

func TestLookupPathResolvesNestedDirectories(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	a := mkdirSync(t, d, root, "a")
	mkdirSync(t, d, a, "b")

	var gotFH vfsattr.FH
	var gotCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/a/b", vfsattr.MaskStat, 0, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		gotFH = fh
		gotCode = code
	})

	if gotCode != vfserrors.OK {
		t.Fatalf("LookupPath status = %v", gotCode)
	}
	if gotFH == nil {
		t.Fatal("expected a resolved FH")
	}
}

func TestLookupPathMissingComponentReturnsNoent(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)

	var gotCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/nope", vfsattr.MaskStat, 0, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		gotCode = code
	})

	if gotCode != vfserrors.NOENT {
		t.Errorf("status = %v, want NOENT", gotCode)
	}
}

func TestCreatePathCreatesInteriorDirsAndLeaf(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)

	var gotAttr vfsattr.Attrs
	var gotCode vfserrors.Code
	CreatePath(context.Background(), d, root, "/x/y/leaf.txt", vfsattr.Attrs{Mode: 0644}, true, false,
		func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
			gotAttr = attr
			gotCode = code
		})

	if gotCode != vfserrors.OK {
		t.Fatalf("CreatePath status = %v", gotCode)
	}
	if gotAttr.Mode&0170000 == 0040000 {
		t.Error("leaf should not be a directory")
	}

	// A second lookup must now find the interior directories and leaf.
	var lookupCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/x/y/leaf.txt", vfsattr.MaskStat, 0, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		lookupCode = code
	})
	if lookupCode != vfserrors.OK {
		t.Errorf("lookup after create = %v, want OK", lookupCode)
	}
}

func TestCreatePathInteriorExistAlreadyIsBenign(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	mkdirSync(t, d, root, "shared")

	var gotCode vfserrors.Code
	CreatePath(context.Background(), d, root, "/shared/file.txt", vfsattr.Attrs{Mode: 0644}, true, false,
		func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
			gotCode = code
		})

	if gotCode != vfserrors.OK {
		t.Fatalf("CreatePath status = %v, want OK despite the interior directory already existing", gotCode)
	}
}

func TestLookupPathFollowsSymlinkWhenFlagSet(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	x := mkdirSync(t, d, root, "x")
	CreatePath(context.Background(), d, root, "/x/foo", vfsattr.Attrs{Mode: 0644}, true, false, func(vfsattr.FH, vfsattr.Attrs, vfserrors.Code) {})
	symlinkSync(t, d, root, "link", "/x/foo")
	_ = x

	var followAttr vfsattr.Attrs
	var followCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/link", vfsattr.MaskStat, LookupFollow, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		followAttr = attr
		followCode = code
	})
	if followCode != vfserrors.OK {
		t.Fatalf("follow lookup status = %v", followCode)
	}
	if followAttr.IsSymlink() {
		t.Error("following the symlink should yield the target's attrs, not the link's own")
	}

	var noFollowAttr vfsattr.Attrs
	var noFollowCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/link", vfsattr.MaskStat, 0, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		noFollowAttr = attr
		noFollowCode = code
	})
	if noFollowCode != vfserrors.OK {
		t.Fatalf("no-follow lookup status = %v", noFollowCode)
	}
	if !noFollowAttr.IsSymlink() {
		t.Error("without LookupFollow, lookup_path should return the symlink's own attrs")
	}
}

func TestLookupPathDeepSymlinkChainReturnsInval(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)

	// Build a loop link0 -> link1 -> ... -> link45 -> link0; following it
	// never ends, so the walk fails on the 41st expansion, one past the
	// 40-deep limit (spec.md §8 property 6 expects a chain of depth 41 to
	// fail).
	const depth = 45
	for i := 0; i < depth; i++ {
		target := fmt.Sprintf("/link%d", i+1)
		symlinkSync(t, d, root, fmt.Sprintf("link%d", i), target)
	}
	symlinkSync(t, d, root, fmt.Sprintf("link%d", depth), "/link0") // close the loop

	var gotCode vfserrors.Code
	LookupPath(context.Background(), d, root, "/link0", vfsattr.MaskStat, LookupFollow, func(fh vfsattr.FH, attr vfsattr.Attrs, code vfserrors.Code) {
		gotCode = code
	})

	if gotCode != vfserrors.INVAL {
		t.Errorf("status = %v, want INVAL (the taxonomy's stand-in for ELOOP)", gotCode)
	}
}
