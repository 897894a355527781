// Package backend declares the contract every VFS backend module
// implements: a magic byte, a capability bitmask, lifecycle hooks, and a
// single Dispatch entry point. Grounded on chimera-nas's
// chimera_vfs_module (original_source/src/vfs/vfs.h) and on objectfs's
// pkg/types.Backend interface, which plays the analogous "pluggable
// storage engine" role in that codebase.
package backend

import (
	"context"

	"github.com/chimera-nas/vfscore/internal/request"
)

// Capability is a bitmask a module declares at registration time.
type Capability uint32

const (
	// OpenPathRequired declares that path operations on this module need a
	// real open_at handle. The core does not read this bit or
	// OpenFileRequired: ops.Surface.Open dispatches a real OpOpen (through
	// the open-handle cache when one is configured) for every module, and
	// no synthetic handle is ever constructed.
	OpenPathRequired Capability = 1 << iota
	// OpenFileRequired is OpenPathRequired's counterpart for file handles
	// used by read/write.
	OpenFileRequired
	// Blocking marks a module whose Dispatch may block the calling
	// goroutine; the dispatcher routes its requests through the
	// delegation worker pool instead of calling Dispatch inline.
	Blocking
	// CreateUnlinked means the module supports creating a file with no
	// directory entry (op_create_unlinked), later linked or discarded.
	CreateUnlinked
)

// Has reports whether every bit in want is set in c.
func (c Capability) Has(want Capability) bool { return c&want == want }

// Module is the interface every backend implements. Init/Destroy manage
// module-wide state; ThreadInit/ThreadDestroy manage per-worker state (e.g.
// a connection pool checked out per delegation worker); Dispatch is the
// single entry point, branching internally on req.Opcode.
type Module interface {
	// Magic returns the 1-byte module_magic embedded in every FH this
	// module owns.
	Magic() byte

	// Capabilities returns the module's declared capability bitmask.
	Capabilities() Capability

	// Init performs one-time global setup. configData is the opaque
	// string from the module's config.ModuleConfig.ConfigData.
	Init(ctx context.Context, configData string) error

	// Destroy tears down global state created by Init.
	Destroy(ctx context.Context) error

	// ThreadInit returns per-worker private state threaded through to
	// every Dispatch call from that worker (e.g. a delegation worker
	// index). Returns nil if the module needs none.
	ThreadInit(ctx context.Context) (interface{}, error)

	// ThreadDestroy releases state returned by ThreadInit.
	ThreadDestroy(ctx context.Context, private interface{}) error

	// Dispatch fulfills req, populating its opcode-specific result fields
	// and calling req.Complete before returning (or, for Blocking
	// modules, before the call that invoked Dispatch returns — the
	// delegation worker treats Dispatch as synchronous).
	Dispatch(ctx context.Context, req *request.Request, threadPrivate interface{})
}
