// Package dispatch implements the request pool, the module-routing
// dispatcher, and the delegation worker pool (spec.md §4.E, §4.F): the
// engine every op_* call in internal/ops ultimately drives.
package dispatch

import (
	"sync"

	"github.com/chimera-nas/vfscore/internal/request"
)

// RequestPool hands out zeroed *request.Request values and recycles them on
// Put, avoiding a fresh heap allocation (and a fresh 4 KiB scratch page) per
// op_* call. Grounded on the bucketed sync.Pool shape of the teacher's
// internal/buffer.BytePool, specialized to a single object type since a
// Request's scratch page is a fixed-size array rather than a variable-size
// slice.
type RequestPool struct {
	pool sync.Pool
}

// NewRequestPool creates an empty RequestPool.
func NewRequestPool() *RequestPool {
	return &RequestPool{
		pool: sync.Pool{
			New: func() interface{} { return &request.Request{} },
		},
	}
}

// Get returns a zeroed Request ready for a caller to populate.
func (p *RequestPool) Get() *request.Request {
	return p.pool.Get().(*request.Request)
}

// Put returns req to the pool for reuse. Callers must not touch req after
// calling Put; doing so would race the next Get's caller. The whole struct
// is zeroed, including the scratch page, the same way the teacher's byte
// pool clears a buffer before releasing it back for reuse.
func (p *RequestPool) Put(req *request.Request) {
	*req = request.Request{}
	p.pool.Put(req)
}
