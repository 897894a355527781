package vfsattr

import "testing"

func TestFHParts(t *testing.T) {
	t.Parallel()

	var mid [MountIDLen]byte
	for i := range mid {
		mid[i] = byte(i)
	}
	fh := NewFH(3, mid, []byte{0xAA, 0xBB})

	if fh.Magic() != 3 {
		t.Errorf("Magic() = %d, want 3", fh.Magic())
	}
	if len(fh.MountID()) != MountIDLen {
		t.Fatalf("MountID() len = %d, want %d", len(fh.MountID()), MountIDLen)
	}
	for i, b := range fh.MountID() {
		if b != byte(i) {
			t.Errorf("MountID()[%d] = %d, want %d", i, b, i)
		}
	}
	if got := fh.Private(); len(got) != 2 || got[0] != 0xAA || got[1] != 0xBB {
		t.Errorf("Private() = %v", got)
	}
}

func TestFHAnonymousAndRoot(t *testing.T) {
	t.Parallel()

	var zero FH
	if !zero.IsAnonymous() {
		t.Error("nil FH should be anonymous")
	}
	if RootFH[0] != RootMagic {
		t.Error("RootFH must start with RootMagic")
	}
	if FH(RootFH).Magic() != RootMagic {
		t.Error("RootFH.Magic() should be RootMagic")
	}
}

func TestFHHashIsStableAndDistinguishing(t *testing.T) {
	t.Parallel()

	a := FH{1, 2, 3}
	b := FH{1, 2, 3}
	c := FH{1, 2, 4}

	if a.Hash() != b.Hash() {
		t.Error("identical handles must hash identically")
	}
	if a.Hash() == c.Hash() {
		t.Error("different handles should (overwhelmingly likely) hash differently")
	}
}

func TestFHEqualAndClone(t *testing.T) {
	t.Parallel()

	a := FH{1, 2, 3}
	clone := a.Clone()
	if !a.Equal(clone) {
		t.Error("clone should equal original")
	}
	clone[0] = 9
	if a.Equal(clone) {
		t.Error("mutating a clone must not affect the original")
	}
	if a[0] == 9 {
		t.Error("Clone must copy backing storage")
	}
}

func TestComposeChild(t *testing.T) {
	t.Parallel()

	parent := FH{1, 2, 3}
	child := ComposeChild(parent, []byte{9, 9})
	if len(child) != 5 || child[3] != 9 || child[4] != 9 {
		t.Errorf("ComposeChild() = %v", child)
	}
	// Mutating the child must not affect the parent's backing array.
	child[0] = 0xFF
	if parent[0] == 0xFF {
		t.Error("ComposeChild must not alias the parent's storage")
	}
}

func TestEncodeDecodeUint64(t *testing.T) {
	t.Parallel()

	want := uint64(0x0102030405060708)
	if got := DecodeUint64(EncodeUint64(want)); got != want {
		t.Errorf("roundtrip = %x, want %x", got, want)
	}
}
