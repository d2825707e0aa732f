// Package lstore implements a local, in-memory lock store based on the
// store.ILockStore interface. Descriptors are held in a concurrent map and are not
// persisted between process restarts, so the store only coordinates goroutines of
// a single process.
//
// Implementation Details:
//
//   - Atomic Creation: Create uses LoadOrStore on the map, so of any number of
//     concurrent callers exactly one stores its descriptor.
//
//   - Read Repair: Read, Renew, Remove and Sweep run their check-then-act logic inside
//     a per-key Compute call. A stale descriptor is removed in the same atomic step
//     that judged it stale.
//
//   - Copy Semantics: Descriptors are cloned on the way in and on the way out, so
//     callers never share a metadata map with the store.
//
// Usage Example:
//
//	s := lstore.NewLocalStore(store.Options{DefaultTimeout: time.Minute})
//	mgr := lockmgr.NewLockManager(s, lockmgr.Options{})
//
//	if mgr.AcquireLock("backlog", "worker-1", 0, nil) {
//	    defer mgr.ReleaseLock("backlog", "worker-1")
//	    // ...
//	}
//
// Suitable Use Cases:
//
//	- Tests of code that depends on lockmgr.ILockManager
//	- Coordinating goroutines that share named resources inside one process
//
// For coordination between processes use the fstore package instead.
package lstore
