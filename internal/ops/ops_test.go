package ops

import (
	"context"
	"testing"
	"time"

	"github.com/chimera-nas/vfscore/internal/attrcache"
	"github.com/chimera-nas/vfscore/internal/backend/memmod"
	"github.com/chimera-nas/vfscore/internal/dispatch"
	"github.com/chimera-nas/vfscore/internal/mount"
	"github.com/chimera-nas/vfscore/internal/opencache"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

type testEnv struct {
	surface *Surface
	root    vfsattr.FH
	attrs   *attrcache.AttrCache
	names   *attrcache.NameCache
}

func newTestEnv(t *testing.T) *testEnv {
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

	attrs := attrcache.NewAttrCache(time.Minute)
	names := attrcache.NewNameCache(time.Minute)
	t.Cleanup(attrs.Close)
	t.Cleanup(names.Close)

	return &testEnv{
		surface: New(d, dispatch.NewRequestPool(), attrs, names, nil, nil),
		root:    m.RootFH,
		attrs:   attrs,
		names:   names,
	}
}

func TestLookupPopulatesNameAndAttrCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.surface.Mkdir(context.Background(), env.root, "sub", vfsattr.Attrs{}, func(AttrResult) {})

	var got AttrResult
	env.surface.Lookup(context.Background(), env.root, "sub", vfsattr.MaskStat, func(r AttrResult) { got = r })
	if got.Code != vfserrors.OK {
		t.Fatalf("lookup status = %v", got.Code)
	}

	if _, ok := env.names.Lookup(env.root, "sub"); !ok {
		t.Error("expected name cache to hold an entry for sub after lookup")
	}
	if _, ok := env.attrs.Get(got.FH, vfsattr.MaskStat); !ok {
		t.Error("expected attr cache to hold an entry for the looked-up FH")
	}
}

func TestLookupServesFromCacheWithoutDispatching(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var created AttrResult
	env.surface.Mkdir(context.Background(), env.root, "sub", vfsattr.Attrs{}, func(r AttrResult) { created = r })

	env.names.Insert(env.root, "sub", created.FH)
	env.attrs.Put(created.FH, vfsattr.Attrs{SetMask: vfsattr.MaskStat, Mode: 0040755, FH: created.FH})

	var got AttrResult
	env.surface.Lookup(context.Background(), env.root, "sub", vfsattr.MaskStat, func(r AttrResult) { got = r })
	if got.Code != vfserrors.OK {
		t.Fatalf("lookup status = %v", got.Code)
	}
	if got.Attr.Mode != 0040755 {
		t.Errorf("Mode = %o, want the cached value 040755, proving the cache (not the backend) answered", got.Attr.Mode)
	}
}

func TestSetattrInvalidatesThenRepopulatesAttrCache(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var created AttrResult
	env.surface.OpenAt(context.Background(), env.root, "f", true, false, true, 0644, func(r AttrResult) { created = r })

	env.surface.Getattr(context.Background(), created.FH, vfsattr.MaskStat, func(vfsattr.Attrs, vfserrors.Code) {})
	if _, ok := env.attrs.Get(created.FH, vfsattr.MaskStat); !ok {
		t.Fatal("expected attrs to be cached after getattr")
	}

	var result SetattrResult
	env.surface.Setattr(context.Background(), created.FH, vfsattr.Attrs{SetMask: vfsattr.AttrSize, Size: 10}, func(r SetattrResult) { result = r })
	if result.Code != vfserrors.OK {
		t.Fatalf("setattr status = %v", result.Code)
	}
	if result.Post.Size != 10 {
		t.Errorf("post size = %d, want 10", result.Post.Size)
	}

	cached, ok := env.attrs.Get(created.FH, vfsattr.MaskStat)
	if !ok {
		t.Fatal("expected setattr to repopulate the attr cache")
	}
	if cached.Size != 10 {
		t.Errorf("cached size = %d, want 10", cached.Size)
	}
}

func TestRemoveInvalidatesNameCacheEntry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	var created AttrResult
	env.surface.OpenAt(context.Background(), env.root, "gone", true, false, true, 0644, func(r AttrResult) { created = r })
	env.names.Insert(env.root, "gone", created.FH)

	var result RemoveResult
	env.surface.Remove(context.Background(), env.root, "gone", func(r RemoveResult) { result = r })
	if result.Code != vfserrors.OK {
		t.Fatalf("remove status = %v", result.Code)
	}

	if _, ok := env.names.Lookup(env.root, "gone"); ok {
		t.Error("expected remove to invalidate the name cache entry")
	}
}

func TestRenameInvalidatesBothParents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srcDir := mustMkdir(t, env, env.root, "src")
	dstDir := mustMkdir(t, env, env.root, "dst")

	var created AttrResult
	env.surface.OpenAt(context.Background(), srcDir, "f", true, false, true, 0644, func(r AttrResult) { created = r })
	env.names.Insert(srcDir, "f", created.FH)

	var result RenameResult
	env.surface.Rename(context.Background(), srcDir, "f", dstDir, "f2", func(r RenameResult) { result = r })
	if result.Code != vfserrors.OK {
		t.Fatalf("rename status = %v", result.Code)
	}

	if _, ok := env.names.Lookup(srcDir, "f"); ok {
		t.Error("expected source name cache entry to be invalidated")
	}
}

func TestReaddirEmitsAndPopulatesCaches(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	mustMkdir(t, env, env.root, "a")
	mustMkdir(t, env, env.root, "b")

	var names []string
	var result ReaddirResult
	env.surface.Readdir(context.Background(), env.root, 0, vfsattr.MaskStat, func(e DirEntry) bool {
		names = append(names, e.Name)
		return true
	}, func(r ReaddirResult) { result = r })

	if result.Code != vfserrors.OK || !result.EOF {
		t.Fatalf("readdir result = %+v", result)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
	if _, ok := env.names.Lookup(env.root, "a"); !ok {
		t.Error("expected readdir to populate the name cache for its children")
	}
}

func TestFindWalksViaSurface(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sub := mustMkdir(t, env, env.root, "sub")
	env.surface.OpenAt(context.Background(), sub, "leaf", true, false, true, 0644, func(AttrResult) {})

	var paths []string
	var completeCode vfserrors.Code
	env.surface.Find(context.Background(), env.root, vfsattr.MaskStat, nil,
		func(path string, fh vfsattr.FH, attr vfsattr.Attrs) { paths = append(paths, path) },
		func(code vfserrors.Code) { completeCode = code })

	if completeCode != vfserrors.OK {
		t.Fatalf("find status = %v", completeCode)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want 2 entries", paths)
	}
}

func TestOpenDedupesConcurrentAcquiresThroughOpenCache(t *testing.T) {
	t.Parallel()

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

	opens := opencache.New(opencache.DefaultConfig())
	t.Cleanup(opens.Close)
	surface := New(d, dispatch.NewRequestPool(), nil, nil, opens, nil)

	var first, second AttrResult
	surface.Open(context.Background(), m.RootFH, false, func(r AttrResult) { first = r })
	surface.Open(context.Background(), m.RootFH, false, func(r AttrResult) { second = r })

	if first.Code != vfserrors.OK || second.Code != vfserrors.OK {
		t.Fatalf("open status = %v, %v", first.Code, second.Code)
	}
	if opens.Len() != 1 {
		t.Fatalf("open cache should hold exactly one entry, got %d", opens.Len())
	}

	surface.Close(m.RootFH)
	surface.Close(m.RootFH)
}

func mustMkdir(t *testing.T, env *testEnv, parent vfsattr.FH, name string) vfsattr.FH {
	t.Helper()
	var got AttrResult
	env.surface.Mkdir(context.Background(), parent, name, vfsattr.Attrs{}, func(r AttrResult) { got = r })
	if got.Code != vfserrors.OK {
		t.Fatalf("mkdir(%s) = %v", name, got.Code)
	}
	return got.FH
}
