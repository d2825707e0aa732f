package lockmgr

import (
	"context"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
)

// HolderFunc returns the identity used when a caller passes an empty holder.
type HolderFunc func() string

// ILockManager defines the interface for a lock manager.
//
// No method returns an error: contention, ownership violations, corrupted descriptors
// and I/O faults of the underlying store all collapse to a false (or empty) result.
// Store errors are logged by the manager.
type ILockManager interface {
	// AcquireLock acquires the lock on resource for holder with the given lease in seconds.
	// An empty holder is resolved with the manager's HolderFunc and a zero timeout means
	// the manager default. If holder already holds the lock it is renewed and true is
	// returned. Metadata is stored next to the reserved descriptor fields.
	AcquireLock(resource, holder string, timeout uint64, metadata map[string]any) (ok bool)

	// ReleaseLock releases the lock on resource.
	// Return true if the resource is unlocked afterward, which includes the case that it
	// was not locked at all, and false if it is held by a different holder.
	ReleaseLock(resource, holder string) (ok bool)

	// WaitForLock calls AcquireLock with default lease and no metadata until it succeeds,
	// maxWait has elapsed or ctx is done, sleeping pollInterval between attempts.
	WaitForLock(ctx context.Context, resource, holder string, maxWait, pollInterval time.Duration) (ok bool)

	// WaitForLockWith is WaitForLock with the lease and metadata of AcquireLock.
	WaitForLockWith(ctx context.Context, resource, holder string, timeout uint64, metadata map[string]any, maxWait, pollInterval time.Duration) (ok bool)

	// ForceRelease removes the lock on resource regardless of its holder.
	ForceRelease(resource string) (ok bool)

	// GetLockInfo returns the valid descriptor of resource, if there is one.
	GetLockInfo(resource string) (desc store.Descriptor, found bool)

	// ListActiveLocks returns every valid lock by resource.
	ListActiveLocks() map[string]store.Descriptor

	// CleanupStaleLocks removes all stale and corrupted descriptors and returns how many were removed.
	CleanupStaleLocks() (removed int)
}
