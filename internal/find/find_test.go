package find

import (
	"context"
	"sort"
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

func mkdirSync(t *testing.T, d *dispatch.Dispatcher, parent vfsattr.FH, name string) vfsattr.FH {
	t.Helper()
	req := &request.Request{Opcode: request.OpMkdir, FH: parent, FHHash: parent.Hash(), Mkdir: &request.MkdirArgs{Name: name}}
	d.Dispatch(context.Background(), req)
	if req.Status != vfserrors.OK {
		t.Fatalf("mkdir(%s) = %v", name, req.Status)
	}
	return req.Mkdir.ResultFH
}

func touchSync(t *testing.T, d *dispatch.Dispatcher, parent vfsattr.FH, name string) {
	t.Helper()
	req := &request.Request{Opcode: request.OpOpenAt, FH: parent, FHHash: parent.Hash(), Open: &request.OpenArgs{Name: name, Create: true}}
	d.Dispatch(context.Background(), req)
	if req.Status != vfserrors.OK {
		t.Fatalf("create(%s) = %v", name, req.Status)
	}
}

func TestFindWalksEntireTree(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	a := mkdirSync(t, d, root, "a")
	touchSync(t, d, a, "x.txt")
	touchSync(t, d, a, "y.txt")
	touchSync(t, d, root, "b.txt")

	var paths []string
	var completeCode vfserrors.Code
	completed := false

	Find(context.Background(), d, root, vfsattr.MaskStat, nil,
		func(path string, fh vfsattr.FH, attr vfsattr.Attrs) { paths = append(paths, path) },
		func(code vfserrors.Code) { completeCode = code; completed = true })

	if !completed {
		t.Fatal("complete was never called")
	}
	if completeCode != vfserrors.OK {
		t.Fatalf("complete code = %v, want OK", completeCode)
	}

	sort.Strings(paths)
	want := []string{"a", "a/x.txt", "a/y.txt", "b.txt"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestFindFilterSkipsRejectedSubtree(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	hidden := mkdirSync(t, d, root, "hidden")
	touchSync(t, d, hidden, "secret.txt")
	touchSync(t, d, root, "visible.txt")

	var paths []string
	Find(context.Background(), d, root, vfsattr.MaskStat,
		func(path, name string, attr vfsattr.Attrs) bool { return name != "hidden" },
		func(path string, fh vfsattr.FH, attr vfsattr.Attrs) { paths = append(paths, path) },
		func(code vfserrors.Code) {})

	for _, p := range paths {
		if p == "hidden" || p == "hidden/secret.txt" {
			t.Errorf("rejected subtree leaked path %q", p)
		}
	}
	found := false
	for _, p := range paths {
		if p == "visible.txt" {
			found = true
		}
	}
	if !found {
		t.Error("expected visible.txt to be emitted")
	}
}

func TestFindEmptyDirectoryCompletesImmediately(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)

	var emitted int
	var completeCode vfserrors.Code
	completed := false
	Find(context.Background(), d, root, vfsattr.MaskStat, nil,
		func(path string, fh vfsattr.FH, attr vfsattr.Attrs) { emitted++ },
		func(code vfserrors.Code) { completeCode = code; completed = true })

	if !completed {
		t.Fatal("complete was never called")
	}
	if completeCode != vfserrors.OK {
		t.Errorf("complete code = %v, want OK", completeCode)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d, want 0 for an empty root", emitted)
	}
}

func TestFindOnRegularFileRootCompletesWithNoChildren(t *testing.T) {
	t.Parallel()

	d, root := newTestEnv(t)
	touchSync(t, d, root, "notadir")

	lookupReq := &request.Request{Opcode: request.OpLookup, FH: root, FHHash: root.Hash(), Lookup: &request.LookupArgs{Name: "notadir"}}
	d.Dispatch(context.Background(), lookupReq)
	if lookupReq.Status != vfserrors.OK {
		t.Fatalf("lookup notadir = %v", lookupReq.Status)
	}
	fileFH := lookupReq.Lookup.ResultAttr.FH

	// A readdir against a non-directory FH must not panic; the engine
	// treats it as a node with no children rather than special-casing it.
	var emitted int
	var completeCode vfserrors.Code
	completed := false
	Find(context.Background(), d, fileFH, vfsattr.MaskStat, nil,
		func(path string, fh vfsattr.FH, attr vfsattr.Attrs) { emitted++ },
		func(code vfserrors.Code) { completeCode = code; completed = true })

	if !completed {
		t.Fatal("complete was never called")
	}
	if completeCode != vfserrors.OK {
		t.Errorf("complete code = %v, want OK", completeCode)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d, want 0", emitted)
	}
}
