package dispatch

import (
	"testing"

	"github.com/chimera-nas/vfscore/internal/request"
)

func TestRequestPoolGetReturnsZeroedRequest(t *testing.T) {
	t.Parallel()

	p := NewRequestPool()
	req := p.Get()
	if req.Opcode != request.OpLookup {
		t.Errorf("Opcode = %v, want zero value OpLookup", req.Opcode)
	}
	if req.FH != nil {
		t.Error("expected nil FH on a fresh request")
	}
}

func TestRequestPoolPutClearsBeforeReuse(t *testing.T) {
	t.Parallel()

	p := NewRequestPool()
	req := p.Get()
	req.Opcode = request.OpWrite
	req.FH = []byte{1, 2, 3}
	req.Scratch[0] = 0xFF

	p.Put(req)

	req2 := p.Get()
	if req2.Opcode != request.OpLookup {
		t.Errorf("Opcode = %v, want zero value after reuse", req2.Opcode)
	}
	if req2.FH != nil {
		t.Error("expected FH cleared after reuse")
	}
	if req2.Scratch[0] != 0 {
		t.Error("expected scratch page cleared after reuse")
	}
}
