package dispatch

import (
	"context"
	"time"

	"github.com/chimera-nas/vfscore/internal/backend"
	"github.com/chimera-nas/vfscore/internal/mount"
	"github.com/chimera-nas/vfscore/internal/request"
	"github.com/chimera-nas/vfscore/internal/vfsmetrics"
	"github.com/chimera-nas/vfscore/pkg/vfserrors"
	"github.com/chimera-nas/vfscore/pkg/vfslog"
)

// Dispatcher routes a Request to the module owning its FH's magic byte,
// either inline (non-blocking modules) or through the delegation pool
// (blocking modules), and instruments every completion (spec.md §4.E).
type Dispatcher struct {
	mounts     *mount.Table
	delegation *DelegationPool
	metrics    *vfsmetrics.Collector
	log        *vfslog.Logger
}

// New creates a Dispatcher wired to the given mount table and delegation
// pool. metrics and log may be nil, in which case instrumentation is
// skipped.
func New(mounts *mount.Table, delegation *DelegationPool, metrics *vfsmetrics.Collector, log *vfslog.Logger) *Dispatcher {
	if log == nil {
		log = vfslog.New(nil)
	}
	return &Dispatcher{
		mounts:     mounts,
		delegation: delegation,
		metrics:    metrics,
		log:        log.WithComponent("dispatch"),
	}
}

// Dispatch resolves req.FH to its owning module and routes the request,
// wrapping req.Complete so every completion is timed and recorded before
// the caller-supplied callback runs. It is safe to call concurrently from
// many goroutines.
func (d *Dispatcher) Dispatch(ctx context.Context, req *request.Request) {
	if req.StartTime.IsZero() {
		req.StartTime = time.Now()
	}

	module, _, err := d.mounts.Resolve(req.FH)
	if err != nil {
		d.failImmediately(req, err)
		return
	}
	if module == nil {
		// The magic-0 root pseudo-filesystem has no backend module of its
		// own; callers are expected to special-case it in the resolver
		// before reaching the dispatcher.
		d.failImmediately(req, vfserrors.New(vfserrors.NOTSUPP, "dispatch: request targets the root pseudo-filesystem"))
		return
	}

	original := req.Complete
	req.Complete = func(r *request.Request) {
		d.recordCompletion(r)
		if original != nil {
			original(r)
		}
	}

	if module.Capabilities().Has(backend.Blocking) {
		d.delegation.Submit(ctx, module, req)
		return
	}
	module.Dispatch(ctx, req, nil)
}

// failImmediately sets req.Status and runs completion synchronously,
// matching spec.md §7's "the operation is never dispatched (callback fires
// with the error on the calling thread)" path.
func (d *Dispatcher) failImmediately(req *request.Request, err error) {
	if vErr, ok := err.(*vfserrors.VFSError); ok {
		req.Status = vErr.Code
	} else {
		req.Status = vfserrors.SERVERFAULT
	}
	req.MarkComplete()
}

func (d *Dispatcher) recordCompletion(req *request.Request) {
	if d.metrics != nil {
		d.metrics.RecordOp(req.Opcode.String(), time.Duration(req.ElapsedNS), opBytes(req), req.Status.String())
	}

	fields := map[string]interface{}{
		"opcode":   req.Opcode.String(),
		"status":   req.Status.String(),
		"elapsed":  time.Duration(req.ElapsedNS).String(),
		"fh_hash":  req.FHHash,
	}
	if req.Status == vfserrors.OK {
		d.log.Debug("op completed", fields)
	} else {
		d.log.Warn("op completed with error", fields)
	}
}

// opBytes extracts the byte count relevant to read/write metrics from an
// opcode-specific args struct; zero for every other opcode.
func opBytes(req *request.Request) int64 {
	switch req.Opcode {
	case request.OpRead:
		if req.Read != nil {
			return int64(len(req.Read.Data))
		}
	case request.OpWrite:
		if req.Write != nil {
			return int64(req.Write.Written)
		}
	}
	return 0
}
