package lockmgr

import (
	"context"
	"os"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

const (
	// DefaultTimeout is the lease in seconds used when AcquireLock is called with timeout 0.
	DefaultTimeout uint64 = 300
	// DefaultMaxWait is how long the CLI waits for a lock unless configured otherwise.
	DefaultMaxWait = 30 * time.Second
	// DefaultPollInterval is used by WaitForLock when pollInterval is not positive.
	DefaultPollInterval = 500 * time.Millisecond

	unknownHolder = "unknown"
)

var Logger = logger.GetLogger("lockmgr")

// Options configure a lock manager. The zero value is usable.
type Options struct {
	DefaultTimeout uint64           // lease in seconds for AcquireLock(timeout=0), defaults to DefaultTimeout
	Holder         HolderFunc       // resolves empty holders, "unknown" if nil or empty
	Now            func() time.Time // timestamps written into descriptors, defaults to time.Now
	PID            int              // process id written into descriptors, defaults to os.Getpid()
}

type lockMgrImpl struct {
	store store.ILockStore
	opts  Options
}

// NewLockManager creates a lock manager on top of s.
// The manager keeps no lock state of its own, so any number of managers may share a store.
func NewLockManager(s store.ILockStore, opts Options) ILockManager {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &lockMgrImpl{
		store: s,
		opts:  opts,
	}
}

// holder resolves the identity used for an operation.
func (m *lockMgrImpl) holder(h string) string {
	if h != "" {
		return h
	}
	if m.opts.Holder != nil {
		if h = m.opts.Holder(); h != "" {
			return h
		}
	}
	return unknownHolder
}

func (m *lockMgrImpl) AcquireLock(resource, holder string, timeout uint64, metadata map[string]any) bool {
	holder = m.holder(holder)
	if timeout == 0 {
		timeout = m.opts.DefaultTimeout
	}

	// Check the current state (stale or corrupted descriptors are removed by the read)
	existing, found, err := m.store.Read(resource)
	if err != nil {
		Logger.Warningf("cannot read lock %s: %v", resource, err)
		acquireErrors.Inc()
		return false
	}

	if found {
		if existing.LockedBy != holder {
			acquireContended.Inc()
			return false
		}

		// Renew our own lock
		renewed, err := m.store.Renew(resource, holder, m.opts.Now())
		if err != nil {
			Logger.Warningf("cannot renew lock %s for %s: %v", resource, holder, err)
			acquireErrors.Inc()
			return false
		}
		if renewed {
			Logger.Debugf("renewed lock %s for %s", resource, holder)
			acquireRenewed.Inc()
			return true
		}
		// the lease ran out between read and renew, try to create a new one
	}

	// Try to acquire the lock (create only if absent - the single atomic operation)
	created, err := m.store.Create(resource, store.Descriptor{
		LockedBy: holder,
		LockedAt: m.opts.Now(),
		PID:      m.opts.PID,
		Timeout:  timeout,
		Metadata: metadata,
	})
	if err != nil {
		Logger.Warningf("cannot create lock %s for %s: %v", resource, holder, err)
		acquireErrors.Inc()
		return false
	}
	if created {
		Logger.Debugf("acquired lock %s for %s (lease %ds)", resource, holder, timeout)
		acquireAcquired.Inc()
		return true
	}

	// Someone created the lock in the meantime, it may have been a concurrent attempt of the same holder
	existing, found, err = m.store.Read(resource)
	if err == nil && found && existing.LockedBy == holder {
		acquireAcquired.Inc()
		return true
	}
	acquireContended.Inc()
	return false
}

func (m *lockMgrImpl) ReleaseLock(resource, holder string) bool {
	holder = m.holder(holder)

	released, err := m.store.Remove(resource, holder)
	if err != nil {
		Logger.Warningf("cannot release lock %s for %s: %v", resource, holder, err)
		releaseErrors.Inc()
		return false
	}
	if !released {
		releaseDenied.Inc()
		return false
	}
	Logger.Debugf("released lock %s for %s", resource, holder)
	releaseReleased.Inc()
	return true
}

func (m *lockMgrImpl) WaitForLock(ctx context.Context, resource, holder string, maxWait, pollInterval time.Duration) bool {
	return m.WaitForLockWith(ctx, resource, holder, 0, nil, maxWait, pollInterval)
}

func (m *lockMgrImpl) WaitForLockWith(ctx context.Context, resource, holder string, timeout uint64, metadata map[string]any, maxWait, pollInterval time.Duration) bool {
	holder = m.holder(holder)
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	// waiting always uses the wall clock, the injected clock only stamps descriptors
	start := time.Now()
	deadline := start.Add(maxWait)
	defer waitDuration.UpdateDuration(start)

	for {
		if ctx.Err() != nil {
			waitCancelled.Inc()
			return false
		}
		if m.AcquireLock(resource, holder, timeout, metadata) {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			Logger.Infof("timed out after %v waiting for lock %s", maxWait, resource)
			waitTimeouts.Inc()
			return false
		}
		if desc, found := m.GetLockInfo(resource); found {
			Logger.Infof("resource %s is locked by %s, waiting", resource, desc.LockedBy)
		}

		timer := time.NewTimer(min(pollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			waitCancelled.Inc()
			return false
		case <-timer.C:
		}
	}
}

func (m *lockMgrImpl) ForceRelease(resource string) bool {
	if err := m.store.Delete(resource); err != nil {
		Logger.Warningf("cannot force release lock %s: %v", resource, err)
		return false
	}
	Logger.Infof("force released lock %s", resource)
	forceReleases.Inc()
	return true
}

func (m *lockMgrImpl) GetLockInfo(resource string) (store.Descriptor, bool) {
	desc, found, err := m.store.Read(resource)
	if err != nil {
		Logger.Warningf("cannot read lock %s: %v", resource, err)
		return store.Descriptor{}, false
	}
	return desc, found
}

func (m *lockMgrImpl) ListActiveLocks() map[string]store.Descriptor {
	active := make(map[string]store.Descriptor)

	resources, err := m.store.List()
	if err != nil {
		Logger.Warningf("cannot list locks: %v", err)
		return active
	}

	for _, resource := range resources {
		// Read drops stale descriptors
		if desc, found := m.GetLockInfo(resource); found {
			active[resource] = desc
		}
	}
	return active
}

func (m *lockMgrImpl) CleanupStaleLocks() int {
	removed, err := m.store.Sweep()
	if err != nil {
		Logger.Warningf("cleanup of stale locks incomplete: %v", err)
	}
	if removed > 0 {
		Logger.Infof("removed %d stale lock(s)", removed)
	}
	staleRemoved.Add(removed)
	return removed
}
