package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned by WithLock if the lock could not be obtained in time.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// WithLock waits up to maxWait for the lock on resource, runs fn and releases the lock.
// The error of fn is returned unchanged. If the lock cannot be obtained an error
// wrapping ErrLockTimeout (or the context error) is returned and fn is not called.
func WithLock(ctx context.Context, m ILockManager, resource, holder string, maxWait time.Duration, fn func() error) error {
	if !m.WaitForLock(ctx, resource, holder, maxWait, DefaultPollInterval) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("lock %s: %w", resource, err)
		}
		return fmt.Errorf("lock %s: %w", resource, ErrLockTimeout)
	}
	defer func() {
		if !m.ReleaseLock(resource, holder) {
			Logger.Warningf("lock %s was lost before it could be released", resource)
		}
	}()
	return fn()
}
