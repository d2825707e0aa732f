// Package fstore implements the filesystem lock store: one descriptor file per
// resource inside a lock directory, coordinated purely through atomic filesystem
// operations. There is no daemon and no coordinator process.
//
// Layout:
//
//	<dir>/backlog.lock              descriptor of resource "backlog"
//	<dir>/stories.lock              descriptor of resource "stories"
//	<dir>/.guard                    flock(2) target, never deleted
//	<dir>/.backlog.lock.tmp-123456  transient, only while a descriptor is written
//
// Creation:
//
//	A new descriptor is written completely into a private temporary file and then
//	hard-linked to "<resource>.lock". link(2) fails if the target exists, which makes
//	creation a single atomic syscall: of two processes racing for the same resource
//	exactly one wins, and no reader can ever observe a half-written descriptor.
//
// Read Repair:
//
//	There is no background sweeper. A reader that finds a stale or corrupted
//	descriptor takes the guard, reads the file again and removes it only if it is
//	still stale or corrupted. Renew, Remove, Delete and Sweep run under the same
//	guard. Renewal replaces the descriptor by renaming a temporary file over it.
//
// Failure Semantics:
//
//	NewFileStore fails if the lock directory cannot be created or written. All other
//	methods return *store.Error values with RetCIOError for filesystem faults; the
//	lock manager turns these into failed (false) operations.
//
// Requirements:
//
//	A local filesystem that supports hard links and flock(2) (or LockFileEx on
//	Windows). Network filesystems with weak link or lock semantics are not supported.
package fstore
