package fstore

import (
	"context"
	"time"

	"github.com/gofrs/flock"
	"github.com/inove-ai/agentlock/lib/store"
)

const (
	guardTimeout    = 5 * time.Second
	guardRetryDelay = 10 * time.Millisecond
)

// guard serializes read-modify-write sequences on the lock directory across processes
// using flock(2). Every deletion and every in-place rewrite of a descriptor happens
// while the guard is held, so a descriptor judged stale under the guard cannot be
// swapped for a fresh one before it is removed. Create does not need the guard.
type guard struct {
	path string
}

func newGuard(path string) *guard {
	return &guard{path: path}
}

// do runs fn while holding the exclusive guard.
// A fresh flock handle is used per call: flock(2) locks belong to the open file
// description, so two handles in one process exclude each other like two processes do.
func (g *guard) do(fn func() error) error {
	fl := flock.New(g.path)

	ctx, cancel := context.WithTimeout(context.Background(), guardTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, guardRetryDelay)
	if err != nil {
		return store.WrapError(store.RetCIOError, "cannot acquire store guard "+g.path, err)
	}
	if !locked {
		return store.NewError(store.RetCIOError, "timed out waiting for store guard "+g.path)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			Logger.Warningf("cannot release store guard %s: %v", g.path, err)
		}
	}()

	return fn()
}
