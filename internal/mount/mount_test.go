package mount

import (
	"context"
	"testing"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/pkg/vfsattr"
)

type fakeModule struct {
	magic byte
	caps  backend.Capability
}

func (f *fakeModule) Magic() byte                      { return f.magic }
func (f *fakeModule) Capabilities() backend.Capability  { return f.caps }
func (f *fakeModule) Init(ctx context.Context, _ string) error    { return nil }
func (f *fakeModule) Destroy(ctx context.Context) error           { return nil }
func (f *fakeModule) ThreadInit(ctx context.Context) (interface{}, error) { return nil, nil }
func (f *fakeModule) ThreadDestroy(ctx context.Context, _ interface{}) error { return nil }
func (f *fakeModule) Dispatch(ctx context.Context, req *request.Request, _ interface{}) {
	req.MarkComplete()
}

type fakeMounterModule struct {
	fakeModule
	suffix []byte
}

func (f *fakeMounterModule) Mount(ctx context.Context, mountPath, optionsData string) (interface{}, []byte, error) {
	return "private:" + mountPath, f.suffix, nil
}

func TestRegisterRejectsMagicZero(t *testing.T) {
	t.Parallel()

	table := New()
	err := table.Register(&fakeModule{magic: 0})
	if err == nil {
		t.Error("expected error registering magic 0")
	}
}

func TestRegisterDuplicateMagic(t *testing.T) {
	t.Parallel()

	table := New()
	if err := table.Register(&fakeModule{magic: 5}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := table.Register(&fakeModule{magic: 5}); err == nil {
		t.Error("expected error on duplicate magic")
	}
}

func TestMountAndResolve(t *testing.T) {
	t.Parallel()

	table := New()
	mod := &fakeMounterModule{fakeModule: fakeModule{magic: 7}, suffix: []byte{1, 2, 3}}
	if err := table.Register(mod); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	m, err := table.Mount(context.Background(), 7, "/data", "")
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}

	if m.RootFH.Magic() != 7 {
		t.Errorf("root FH magic = %d, want 7", m.RootFH.Magic())
	}
	if m.MountPrivate != "private:/data" {
		t.Errorf("MountPrivate = %v, want private:/data", m.MountPrivate)
	}

	resolvedModule, resolvedMount, err := table.Resolve(m.RootFH)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolvedModule.Magic() != 7 {
		t.Errorf("resolved module magic = %d, want 7", resolvedModule.Magic())
	}
	if resolvedMount.MountID != m.MountID {
		t.Error("resolved mount_id mismatch")
	}
}

func TestMountTwiceSamePathFails(t *testing.T) {
	t.Parallel()

	table := New()
	mod := &fakeModule{magic: 9}
	if err := table.Register(mod); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := table.Mount(context.Background(), 9, "/x", ""); err != nil {
		t.Fatalf("first mount failed: %v", err)
	}
	if _, err := table.Mount(context.Background(), 9, "/x", ""); err == nil {
		t.Error("expected error mounting the same path twice")
	}
}

func TestResolveUnknownMagic(t *testing.T) {
	t.Parallel()

	table := New()
	fh := vfsattr.NewFH(200, [vfsattr.MountIDLen]byte{}, nil)
	if _, _, err := table.Resolve(fh); err == nil {
		t.Error("expected error resolving an unregistered magic")
	}
}

func TestResolveRootFH(t *testing.T) {
	t.Parallel()

	table := New()
	_, m, err := table.Resolve(vfsattr.FH(vfsattr.RootFH))
	if err != nil {
		t.Fatalf("Resolve(root) error = %v", err)
	}
	if m.Path != "/" {
		t.Errorf("root mount path = %q, want /", m.Path)
	}
}

func TestUmountRemovesEntry(t *testing.T) {
	t.Parallel()

	table := New()
	mod := &fakeModule{magic: 3}
	if err := table.Register(mod); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	m, err := table.Mount(context.Background(), 3, "/tmp", "")
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}

	if err := table.Umount(context.Background(), m.MountID); err != nil {
		t.Fatalf("umount failed: %v", err)
	}

	if _, _, err := table.Resolve(m.RootFH); err == nil {
		t.Error("expected STALE after umount")
	}
}

func TestMultiMountFHRoutingByMagic(t *testing.T) {
	t.Parallel()

	table := New()
	modA := &fakeModule{magic: 11}
	modB := &fakeModule{magic: 22}
	if err := table.Register(modA); err != nil {
		t.Fatal(err)
	}
	if err := table.Register(modB); err != nil {
		t.Fatal(err)
	}

	mA, err := table.Mount(context.Background(), 11, "/a", "")
	if err != nil {
		t.Fatal(err)
	}
	mB, err := table.Mount(context.Background(), 22, "/b", "")
	if err != nil {
		t.Fatal(err)
	}

	resolvedA, _, err := table.Resolve(mA.RootFH)
	if err != nil || resolvedA.Magic() != 11 {
		t.Errorf("FH for mount A resolved to wrong module: %v, err=%v", resolvedA, err)
	}
	resolvedB, _, err := table.Resolve(mB.RootFH)
	if err != nil || resolvedB.Magic() != 22 {
		t.Errorf("FH for mount B resolved to wrong module: %v, err=%v", resolvedB, err)
	}
}
