package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/internal/vfsmetrics"
	"github.com/chimera-nas/vfscore/pkg/retry"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
	"github.com/chimera-nas/vfscore/pkg/vfslog"
)

// DefaultWorkerCount is the default size of the blocking-backend pool
// (spec.md §6 configuration, delegation_threads).
const DefaultWorkerCount = 64

// DefaultQueueDepth bounds each worker's intake so a stuck blocking backend
// applies backpressure rather than growing memory without limit.
const DefaultQueueDepth = 256

// WatchdogInterval is how often the pool scans workers for a request that
// has been in flight too long.
const WatchdogInterval = 5 * time.Second

// WatchdogThreshold is how long a single dispatch may run before the
// watchdog logs a warning. It never aborts the request (spec.md §5
// "Cancellation and timeouts").
const WatchdogThreshold = 2 * time.Second

// DelegationConfig configures a DelegationPool.
type DelegationConfig struct {
	WorkerCount int
	QueueDepth  int
}

// DefaultDelegationConfig returns the pool's default sizing.
func DefaultDelegationConfig() DelegationConfig {
	return DelegationConfig{WorkerCount: DefaultWorkerCount, QueueDepth: DefaultQueueDepth}
}

type workItem struct {
	ctx    context.Context
	module backend.Module
	req    *request.Request
}

// worker is one delegation thread: its own intake queue, its own doorbell
// (the channel itself), and lazily-initialized per-module thread-private
// state (spec.md §4.F).
type worker struct {
	id     int
	intake chan workItem
	stopCh chan struct{}
	doneCh chan struct{}

	mu            sync.Mutex
	threadPrivate map[backend.Module]interface{}

	activeMu    sync.Mutex
	activeSince time.Time
	activeReq   *request.Request

	pool *DelegationPool
}

// DelegationPool is the fixed-size pool of delegation workers that lets
// blocking backend modules run without stalling the threads calling
// Dispatch (spec.md §4.F).
type DelegationPool struct {
	workers []*worker
	next    uint64 // atomic round-robin cursor

	metrics *vfsmetrics.Collector
	log     *vfslog.Logger
	retryer *retry.Retryer

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

// NewDelegationPool creates and starts a DelegationPool with cfg.WorkerCount
// workers, each with an intake queue of depth cfg.QueueDepth.
func NewDelegationPool(cfg DelegationConfig, metrics *vfsmetrics.Collector, log *vfslog.Logger) *DelegationPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if log == nil {
		log = vfslog.New(nil)
	}

	p := &DelegationPool{
		metrics:      metrics,
		log:          log.WithComponent("delegation"),
		watchdogStop: make(chan struct{}),
		watchdogDone: make(chan struct{}),
	}
	p.retryer = retry.New(retry.DefaultConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		p.log.Warn("retrying delegated dispatch after DELAY", map[string]interface{}{
			"attempt": attempt, "delay": delay.String(),
		})
	})

	p.workers = make([]*worker, cfg.WorkerCount)
	for i := range p.workers {
		w := &worker{
			id:            i,
			intake:        make(chan workItem, cfg.QueueDepth),
			stopCh:        make(chan struct{}),
			doneCh:        make(chan struct{}),
			threadPrivate: make(map[backend.Module]interface{}),
			pool:          p,
		}
		p.workers[i] = w
		go w.run()
	}

	go p.watchdogLoop()

	return p
}

// Submit pushes req onto one of the pool's workers, selected round-robin,
// for dispatch to module. Submission blocks if that worker's intake is
// full, which is the pool's backpressure mechanism (spec.md §5
// "Backpressure"). Requests submitted to the same worker complete in
// submission order (spec.md §8 property 9): a Go channel is already FIFO,
// so round-robin selection plus one worker goroutine per channel is
// sufficient without any extra sequencing.
func (p *DelegationPool) Submit(ctx context.Context, module backend.Module, req *request.Request) {
	idx := atomic.AddUint64(&p.next, 1) % uint64(len(p.workers))
	p.workers[idx].intake <- workItem{ctx: ctx, module: module, req: req}
	if p.metrics != nil {
		p.metrics.SetDelegationQueueDepth(fmt.Sprintf("%d", idx), len(p.workers[idx].intake))
	}
}

// Shutdown signals every worker to stop after draining its current intake,
// waits for all to exit, then stops the watchdog.
func (p *DelegationPool) Shutdown() {
	for _, w := range p.workers {
		close(w.stopCh)
	}
	for _, w := range p.workers {
		<-w.doneCh
	}
	close(p.watchdogStop)
	<-p.watchdogDone
}

func (w *worker) run() {
	defer close(w.doneCh)

	for {
		select {
		case item := <-w.intake:
			w.process(item)
		case <-w.stopCh:
			// Drain whatever is already queued before exiting so a
			// shutdown never silently drops a submitted request.
			for {
				select {
				case item := <-w.intake:
					w.process(item)
					continue
				default:
				}
				return
			}
		}
	}
}

func (w *worker) process(item workItem) {
	label := fmt.Sprintf("%d", w.id)
	if w.pool.metrics != nil {
		w.pool.metrics.SetDelegationWorkerBusy(label, true)
		defer w.pool.metrics.SetDelegationWorkerBusy(label, false)
	}

	w.activeMu.Lock()
	w.activeSince = time.Now()
	w.activeReq = item.req
	w.activeMu.Unlock()

	private := w.getThreadPrivate(item.ctx, item.module)
	w.dispatchWithRetry(item.ctx, item.module, item.req, private)

	w.activeMu.Lock()
	w.activeReq = nil
	w.activeMu.Unlock()
}

// dispatchWithRetry runs module.Dispatch against a private per-attempt copy
// of req, so a DELAY outcome (breaker open, or a module asking the caller
// to back off per spec.md §5) can be retried with backoff without tripping
// req's exactly-once Complete guarantee. Only the last attempt's outcome is
// ever delivered through req.MarkComplete; req.Open/req.Read/etc point at
// the same opcode-args struct across every attempt, since module.Dispatch
// writes its result fields there regardless of which *Request wraps it.
func (w *worker) dispatchWithRetry(ctx context.Context, module backend.Module, req *request.Request, private interface{}) {
	_ = w.pool.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		attempt := *req
		done := make(chan struct{})
		attempt.Complete = func(r *request.Request) {
			req.Status = r.Status
			close(done)
		}
		module.Dispatch(ctx, &attempt, private)
		<-done

		if req.Status == vfserrors.DELAY {
			return vfserrors.New(vfserrors.DELAY, "delegation: dispatch asked for retry")
		}
		return nil
	})
	req.MarkComplete()
}

func (w *worker) getThreadPrivate(ctx context.Context, module backend.Module) interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	if private, ok := w.threadPrivate[module]; ok {
		return private
	}
	private, err := module.ThreadInit(ctx)
	if err != nil {
		w.pool.log.Error("ThreadInit failed", map[string]interface{}{
			"worker": w.id, "magic": module.Magic(), "error": err.Error(),
		})
		return nil
	}
	w.threadPrivate[module] = private
	return private
}

func (p *DelegationPool) watchdogLoop() {
	defer close(p.watchdogDone)

	ticker := time.NewTicker(WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.watchdogStop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *DelegationPool) sweep() {
	now := time.Now()
	for _, w := range p.workers {
		w.activeMu.Lock()
		req, since := w.activeReq, w.activeSince
		w.activeMu.Unlock()

		if req != nil && now.Sub(since) > WatchdogThreshold {
			p.log.Warn("delegation worker stuck on a long-running request", map[string]interface{}{
				"worker":   w.id,
				"opcode":   req.Opcode.String(),
				"duration": now.Sub(since).String(),
			})
		}
	}
}
