package request

import (
	"testing"
	"time"

	"github.com/chimera-nas/vfscore/pkg/vfserrors"
)

func TestMarkCompleteInvokesCallbackOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	req := &Request{
		Opcode:    OpGetattr,
		StartTime: time.Now(),
		Complete: func(r *Request) {
			calls++
		},
	}

	req.MarkComplete()

	if calls != 1 {
		t.Errorf("Complete invoked %d times, want 1", calls)
	}
	if !req.Completed() {
		t.Error("Completed() should report true after MarkComplete")
	}
	if req.ElapsedNS < 0 {
		t.Error("ElapsedNS should be non-negative")
	}
}

func TestMarkCompleteTwicePanics(t *testing.T) {
	t.Parallel()

	req := &Request{StartTime: time.Now(), Complete: func(*Request) {}}
	req.MarkComplete()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double MarkComplete")
		}
	}()
	req.MarkComplete()
}

func TestOpcodeString(t *testing.T) {
	t.Parallel()

	if OpRead.String() != "read" {
		t.Errorf("OpRead.String() = %q, want read", OpRead.String())
	}
	if Opcode(999).String() != "unknown" {
		t.Errorf("unknown opcode should stringify to 'unknown'")
	}
}

func TestStatusDefaultsToZeroValue(t *testing.T) {
	t.Parallel()

	req := &Request{}
	if req.Status != vfserrors.OK {
		t.Errorf("zero-value Request.Status = %v, want OK", req.Status)
	}
}
