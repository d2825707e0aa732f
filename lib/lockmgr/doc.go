// Package lockmgr implements cooperative, lease based locks on named resources
// using lock stores that implement the store.ILockStore interface. It is used to
// serialize edits to shared files between independent agent processes on one machine.
//
// The lockmgr only ever stores in the provided ILockStore and has no other internal
// state. Therefore it is safe to be created multiple times on the same store, for
// example once per CLI invocation. As long as the same lock directory is used every
// time, all locks will work as expected.
//
// Core Functionality:
//   - Lock acquisition with holder identity and renewal by the same holder
//   - Automatic lock expiration through leases (lazy, on the next read)
//   - Safe release operations that verify the holder
//   - Polling wait with deadline and context cancellation
//   - Administrative force release and cleanup of stale locks
//
// Implementation Approach:
//
//	Locks are implemented by leveraging the atomic create of the underlying store:
//
//	- Lock Acquisition: The current descriptor is read first. If the caller already
//	  holds the lock its lease is renewed. Otherwise a descriptor is created with
//	  Create, which guarantees that only one requester can succeed. If Create fails
//	  the descriptor is read once more; a descriptor naming the caller (created by a
//	  concurrent attempt of the same holder) counts as success.
//
//	- Leases: Every descriptor carries locked_at and a lease in seconds. Strictly
//	  after locked_at + lease the descriptor is stale and the store treats it as absent,
//	  which prevents deadlocks if an agent crashes while holding a lock.
//
//	- Safe Release: ReleaseLock asks the store to remove the descriptor only if it
//	  names the caller. Releasing an unlocked resource succeeds.
//
// Identity:
//
//	Holders are plain strings compared for equality. An empty holder is resolved
//	through Options.Holder (see the identity package); this is not authentication.
//
// Error Handling:
//
//	Operations return booleans. Contention, foreign holders and store faults all
//	yield false, store faults are logged as warnings. Only WithLock returns errors:
//	ErrLockTimeout, the context error, or the error of the callback.
//
// Fairness:
//
//	There is none. When a lock is released any waiting process may win the next
//	acquire; waiters poll and are not woken.
//
// Usage Example:
//
//	s, err := fstore.NewFileStore(".agents/locks", store.Options{})
//	if err != nil {
//	    // lock directory unusable
//	}
//	mgr := lockmgr.NewLockManager(s, lockmgr.Options{Holder: identity.Detect})
//
//	err = lockmgr.WithLock(ctx, mgr, "backlog", "", 30*time.Second, func() error {
//	    // edit BACKLOG.md
//	    return nil
//	})
//	if errors.Is(err, lockmgr.ErrLockTimeout) {
//	    // somebody else is editing the backlog
//	}
//
// Metrics:
//
//	Counters for acquire, release, force release and cleanup outcomes and a histogram
//	of wait durations are kept per process and can be exported with WriteMetrics.
package lockmgr
