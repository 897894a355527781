package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/request"
)

type blockingModule struct {
	magic     byte
	dispatch  func(ctx context.Context, req *request.Request, private interface{})
	initCalls int32
}

func (m *blockingModule) Magic() byte { return m.magic }
func (m *blockingModule) Capabilities() backend.Capability {
	return backend.Blocking
}
func (m *blockingModule) Init(context.Context, string) error    { return nil }
func (m *blockingModule) Destroy(context.Context) error         { return nil }
func (m *blockingModule) ThreadInit(context.Context) (interface{}, error) {
	atomic.AddInt32(&m.initCalls, 1)
	return "private", nil
}
func (m *blockingModule) ThreadDestroy(context.Context, interface{}) error { return nil }
func (m *blockingModule) Dispatch(ctx context.Context, req *request.Request, private interface{}) {
	m.dispatch(ctx, req, private)
}

func TestDelegationPoolDispatchesOnAWorker(t *testing.T) {
	t.Parallel()

	p := NewDelegationPool(DelegationConfig{WorkerCount: 2, QueueDepth: 4}, nil, nil)
	defer p.Shutdown()

	var gotPrivate interface{}
	done := make(chan struct{})
	mod := &blockingModule{magic: 1, dispatch: func(ctx context.Context, req *request.Request, private interface{}) {
		gotPrivate = private
		req.MarkComplete()
		close(done)
	}}

	req := &request.Request{}
	p.Submit(context.Background(), mod, req)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	if gotPrivate != "private" {
		t.Errorf("thread private = %v, want private", gotPrivate)
	}
	if atomic.LoadInt32(&mod.initCalls) != 1 {
		t.Errorf("ThreadInit called %d times, want 1", mod.initCalls)
	}
}

func TestDelegationPoolPreservesPerWorkerFIFO(t *testing.T) {
	t.Parallel()

	p := NewDelegationPool(DelegationConfig{WorkerCount: 1, QueueDepth: 16}, nil, nil)
	defer p.Shutdown()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	const n = 20
	wg.Add(n)
	mod := &blockingModule{magic: 1, dispatch: func(ctx context.Context, req *request.Request, private interface{}) {
		idx := int(req.FHHash)
		mu.Lock()
		order = append(order, idx)
		mu.Unlock()
		req.MarkComplete()
		wg.Done()
	}}

	for i := 0; i < n; i++ {
		req := &request.Request{FHHash: uint64(i)}
		p.Submit(context.Background(), mod, req)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if order[i] != i {
			t.Fatalf("completion order = %v, want sequential 0..%d", order, n-1)
		}
	}
}

func TestDelegationPoolShutdownDrainsQueuedWork(t *testing.T) {
	t.Parallel()

	p := NewDelegationPool(DelegationConfig{WorkerCount: 1, QueueDepth: 4}, nil, nil)

	var completed int32
	mod := &blockingModule{magic: 1, dispatch: func(ctx context.Context, req *request.Request, private interface{}) {
		atomic.AddInt32(&completed, 1)
		req.MarkComplete()
	}}

	for i := 0; i < 3; i++ {
		p.Submit(context.Background(), mod, &request.Request{})
	}
	p.Shutdown()

	if atomic.LoadInt32(&completed) != 3 {
		t.Errorf("completed = %d, want 3 (shutdown should drain queued work)", completed)
	}
}
