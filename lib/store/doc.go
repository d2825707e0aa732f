// Package store defines the persistence layer of the lock system: at most one lock
// descriptor per named resource, with lazy expiry and read repair.
//
// The package focuses on:
//   - A unified interface (ILockStore) for descriptor storage across different backends
//   - The Descriptor type and its on-disk JSON codec
//
// Key Components:
//
//   - ILockStore Interface: The core abstraction. Its Create method is the single
//     concurrency primitive of the whole lock system: it succeeds for exactly one of
//     any number of concurrent callers. All other methods are built so that a stale
//     or corrupted descriptor is never handed to a caller.
//
//   - Descriptor: Who holds a lock (LockedBy), since when (LockedAt), for how long
//     (Timeout) and any caller metadata. A descriptor is valid until
//     LockedAt + Timeout and stale afterwards.
//
//   - Error System: A structured error reporting mechanism using typed error codes,
//     descriptive messages and the wrapped cause. Store methods return these errors;
//     the lock manager collapses them into boolean outcomes.
//
// On-disk format:
//
//	{
//	  "locked_at": "2026-10-19T10:15:04.123456",
//	  "locked_by": "claude_code",
//	  "pid": 4242,
//	  "task": "3.1",
//	  "timeout": 300
//	}
//
// locked_at is naive local time with microseconds. Timestamps with a zone offset are
// accepted on read. Caller metadata is merged at the top level. The reserved keys locked_by, locked_at,
// pid and timeout always take precedence over metadata keys with the same name.
//
// Implementations:
//
//	- File Store (fstore): one "{resource}.lock" file per resource inside a lock
//	  directory. Creation hard-links a fully written temporary file into place, so two
//	  processes racing for the same resource can never both succeed. Read-modify-write
//	  sequences are serialized across processes with a flock(2) guard file.
//	  Available in the "github.com/inove-ai/agentlock/lib/store/fstore" package.
//
//	- Local Store (lstore): an in-process implementation on a concurrent map. It is
//	  suitable for coordinating goroutines inside a single process and for tests.
//	  Available in the "github.com/inove-ai/agentlock/lib/store/lstore" package.
//
// Every implementation is expected to pass the conformance suite in
// "github.com/inove-ai/agentlock/lib/store/testing".
package store
