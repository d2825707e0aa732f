package lockmgr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
	"github.com/inove-ai/agentlock/lib/store/fstore"
	"github.com/inove-ai/agentlock/lib/store/lstore"
	storetesting "github.com/inove-ai/agentlock/lib/store/testing"
)

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

type storeFactory func(t *testing.T, opts store.Options) store.ILockStore

var storeFactories = map[string]storeFactory{
	"FileStore": func(t *testing.T, opts store.Options) store.ILockStore {
		s, err := fstore.NewFileStore(t.TempDir(), opts)
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		return s
	},
	"LocalStore": func(_ *testing.T, opts store.Options) store.ILockStore {
		return lstore.NewLocalStore(opts)
	},
}

// forEachStore runs fn once per store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, factory storeFactory)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory)
		})
	}
}

// newManager creates a manager and its store, both judged by clock.
func newManager(t *testing.T, factory storeFactory, clock *storetesting.FakeClock) (ILockManager, store.ILockStore) {
	t.Helper()
	s := factory(t, store.Options{Now: clock.Now})
	return NewLockManager(s, Options{Now: clock.Now, PID: 4242}), s
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

// TestConcreteScenario walks through the acquire/expire/release sequence of two agents
func TestConcreteScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		if !mgr.AcquireLock("backlog", "agent1", 5, nil) {
			t.Fatalf("agent1 should acquire the unlocked backlog")
		}
		if mgr.AcquireLock("backlog", "agent2", 0, nil) {
			t.Fatalf("agent2 must not acquire the backlog held by agent1")
		}

		clock.Advance(6 * time.Second)

		if !mgr.AcquireLock("backlog", "agent2", 0, nil) {
			t.Fatalf("agent2 should acquire the backlog after the lease of agent1 expired")
		}
		if mgr.ReleaseLock("backlog", "agent1") {
			t.Errorf("agent1 is no longer the holder and must not release")
		}
		if !mgr.ReleaseLock("backlog", "agent2") {
			t.Errorf("agent2 should release its own lock")
		}
		if _, found := mgr.GetLockInfo("backlog"); found {
			t.Errorf("backlog should be unlocked after release")
		}
	})
}

// TestMutualExclusion tests that a held lock excludes other holders until release
func TestMutualExclusion(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		if !mgr.AcquireLock("stories", "A", 60, nil) {
			t.Fatalf("A should acquire")
		}
		for i := 0; i < 5; i++ {
			clock.Advance(10 * time.Second)
			if mgr.AcquireLock("stories", "B", 60, nil) {
				t.Fatalf("B acquired a lock held by A after %v", time.Duration(i+1)*10*time.Second)
			}
		}

		if !mgr.ReleaseLock("stories", "A") {
			t.Fatalf("A should release")
		}
		if !mgr.AcquireLock("stories", "B", 60, nil) {
			t.Errorf("B should acquire after A released")
		}
	})
}

// TestReentrantRenewal tests that the holder can acquire again and extends its lease
func TestReentrantRenewal(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		meta := map[string]any{"task": "3.1"}
		if !mgr.AcquireLock("backlog", "A", 10, meta) {
			t.Fatalf("first acquire failed")
		}
		first, _ := mgr.GetLockInfo("backlog")

		clock.Advance(8 * time.Second)
		if !mgr.AcquireLock("backlog", "A", 0, nil) {
			t.Fatalf("renewal failed")
		}
		second, found := mgr.GetLockInfo("backlog")
		if !found {
			t.Fatalf("lock missing after renewal")
		}
		if second.LockedAt.Before(first.LockedAt) || !second.LockedAt.Equal(clock.Now()) {
			t.Errorf("renewal did not advance locked_at: first %v, second %v", first.LockedAt, second.LockedAt)
		}
		if second.Timeout != 10 || second.Metadata["task"] != "3.1" {
			t.Errorf("renewal must keep the other fields, got %+v", second)
		}

		// the renewed lease outlives the original one
		clock.Advance(8 * time.Second)
		if mgr.AcquireLock("backlog", "B", 0, nil) {
			t.Errorf("B acquired a renewed lock")
		}
	})
}

// TestIdempotentRelease tests releasing an unlocked resource
func TestIdempotentRelease(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		mgr, _ := newManager(t, factory, storetesting.NewFakeClock())

		if !mgr.ReleaseLock("backlog", "A") {
			t.Errorf("releasing an unlocked resource should succeed")
		}
		if !mgr.AcquireLock("backlog", "A", 0, nil) || !mgr.ReleaseLock("backlog", "A") {
			t.Fatalf("acquire/release failed")
		}
		if !mgr.ReleaseLock("backlog", "A") {
			t.Errorf("second release should succeed")
		}
	})
}

// TestReleaseAuthorization tests that only the holder may release
func TestReleaseAuthorization(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		mgr, _ := newManager(t, factory, storetesting.NewFakeClock())

		if !mgr.AcquireLock("backlog", "A", 0, nil) {
			t.Fatalf("acquire failed")
		}
		if mgr.ReleaseLock("backlog", "B") {
			t.Errorf("B must not release a lock held by A")
		}
		desc, found := mgr.GetLockInfo("backlog")
		if !found || desc.LockedBy != "A" {
			t.Errorf("lock should still be held by A, got found=%v desc=%+v", found, desc)
		}
	})
}

// TestStalenessExpiry tests that expired locks are invisible everywhere
func TestStalenessExpiry(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		if !mgr.AcquireLock("backlog", "A", 30, nil) || !mgr.AcquireLock("stories", "A", 300, nil) {
			t.Fatalf("acquire failed")
		}

		// valid up to and including locked_at + timeout
		clock.Advance(30 * time.Second)
		if _, found := mgr.GetLockInfo("backlog"); !found {
			t.Errorf("lock must be valid at exactly its expiry")
		}

		clock.Advance(time.Second)
		if _, found := mgr.GetLockInfo("backlog"); found {
			t.Errorf("expired lock must read as absent")
		}
		active := mgr.ListActiveLocks()
		if _, ok := active["backlog"]; ok {
			t.Errorf("expired lock listed as active")
		}
		if _, ok := active["stories"]; !ok || len(active) != 1 {
			t.Errorf("expected only stories to be active, got %v", active)
		}
		if !mgr.AcquireLock("backlog", "B", 0, nil) {
			t.Errorf("B should acquire an expired lock")
		}
	})
}

// TestDefaultTimeout tests the lease used for AcquireLock(timeout=0)
func TestDefaultTimeout(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		s := factory(t, store.Options{Now: clock.Now})

		mgr := NewLockManager(s, Options{Now: clock.Now})
		if !mgr.AcquireLock("backlog", "A", 0, nil) {
			t.Fatalf("acquire failed")
		}
		desc, _ := mgr.GetLockInfo("backlog")
		if desc.Timeout != DefaultTimeout {
			t.Errorf("expected default timeout %d, got %d", DefaultTimeout, desc.Timeout)
		}

		short := NewLockManager(s, Options{Now: clock.Now, DefaultTimeout: 2})
		if !short.AcquireLock("stories", "A", 0, nil) {
			t.Fatalf("acquire failed")
		}
		clock.Advance(3 * time.Second)
		if _, found := short.GetLockInfo("stories"); found {
			t.Errorf("lock with configured default timeout should have expired")
		}
		if _, found := mgr.GetLockInfo("backlog"); !found {
			t.Errorf("lock with default timeout expired too early")
		}
	})
}

// TestForceRelease tests that force release bypasses the holder check
func TestForceRelease(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		mgr, _ := newManager(t, factory, storetesting.NewFakeClock())

		if !mgr.AcquireLock("backlog", "A", 0, nil) {
			t.Fatalf("acquire failed")
		}
		before := forceReleases.Get()
		if !mgr.ForceRelease("backlog") {
			t.Fatalf("force release failed")
		}
		if forceReleases.Get() != before+1 {
			t.Errorf("force release not counted")
		}
		if _, found := mgr.GetLockInfo("backlog"); found {
			t.Errorf("lock still present after force release")
		}
		if !mgr.ForceRelease("backlog") {
			t.Errorf("force release of an unlocked resource should succeed")
		}
		if !mgr.AcquireLock("backlog", "C", 0, nil) {
			t.Errorf("C should acquire after force release")
		}
	})
}

// TestCleanupStaleLocks tests the sweep over all descriptors
func TestCleanupStaleLocks(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		for i, timeout := range []uint64{5, 10, 100} {
			if !mgr.AcquireLock(fmt.Sprintf("r%d", i), "A", timeout, nil) {
				t.Fatalf("acquire failed")
			}
		}
		clock.Advance(20 * time.Second)

		before := staleRemoved.Get()
		if n := mgr.CleanupStaleLocks(); n != 2 {
			t.Errorf("expected 2 removed locks, got %d", n)
		}
		if staleRemoved.Get() != before+2 {
			t.Errorf("removed locks not counted")
		}
		if n := mgr.CleanupStaleLocks(); n != 0 {
			t.Errorf("expected nothing left to remove, got %d", n)
		}
		if active := mgr.ListActiveLocks(); len(active) != 1 {
			t.Errorf("expected one active lock, got %v", active)
		}
	})
}

// TestMetadata tests that caller metadata is stored without overriding reserved fields
func TestMetadata(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		clock := storetesting.NewFakeClock()
		mgr, _ := newManager(t, factory, clock)

		meta := map[string]any{"task": "3.1", "locked_by": "impostor", "timeout": 1}
		if !mgr.AcquireLock("backlog", "A", 60, meta) {
			t.Fatalf("acquire failed")
		}
		meta["task"] = "changed"

		desc, found := mgr.GetLockInfo("backlog")
		if !found {
			t.Fatalf("lock missing")
		}
		if desc.LockedBy != "A" || desc.Timeout != 60 || desc.PID != 4242 {
			t.Errorf("reserved fields overridden: %+v", desc)
		}
		if desc.Metadata["task"] != "3.1" {
			t.Errorf("expected task metadata 3.1, got %v", desc.Metadata["task"])
		}
	})
}

// TestHolderResolution tests the identity used for empty holders
func TestHolderResolution(t *testing.T) {
	clock := storetesting.NewFakeClock()
	s := lstore.NewLocalStore(store.Options{Now: clock.Now})

	mgr := NewLockManager(s, Options{Now: clock.Now, Holder: func() string { return "claude_code" }})
	if !mgr.AcquireLock("backlog", "", 0, nil) {
		t.Fatalf("acquire failed")
	}
	desc, _ := mgr.GetLockInfo("backlog")
	if desc.LockedBy != "claude_code" {
		t.Errorf("expected holder from HolderFunc, got %s", desc.LockedBy)
	}
	if !mgr.AcquireLock("backlog", "claude_code", 0, nil) {
		t.Errorf("explicit holder should match the resolved one")
	}
	if !mgr.ReleaseLock("backlog", "") {
		t.Errorf("release with empty holder should resolve to the same identity")
	}

	anonymous := NewLockManager(s, Options{Now: clock.Now, Holder: func() string { return "" }})
	if !anonymous.AcquireLock("stories", "", 0, nil) {
		t.Fatalf("acquire failed")
	}
	desc, _ = anonymous.GetLockInfo("stories")
	if desc.LockedBy != unknownHolder {
		t.Errorf("expected %s, got %s", unknownHolder, desc.LockedBy)
	}
}

// TestInvalidResource tests that unusable resource names fail without side effects
func TestInvalidResource(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		mgr, s := newManager(t, factory, storetesting.NewFakeClock())

		for _, resource := range []string{"", ".", "..", "../backlog", ".guard", "a/b"} {
			if mgr.AcquireLock(resource, "A", 0, nil) {
				t.Errorf("AcquireLock(%q) should fail", resource)
			}
			if mgr.ReleaseLock(resource, "A") {
				t.Errorf("ReleaseLock(%q) should fail", resource)
			}
			if mgr.ForceRelease(resource) {
				t.Errorf("ForceRelease(%q) should fail", resource)
			}
			if _, found := mgr.GetLockInfo(resource); found {
				t.Errorf("GetLockInfo(%q) should report absent", resource)
			}
		}

		if resources, err := s.List(); err != nil || len(resources) != 0 {
			t.Errorf("expected empty store, got %v (%v)", resources, err)
		}
	})
}

// TestAcquireMetrics tests the acquire outcome counters
func TestAcquireMetrics(t *testing.T) {
	mgr, _ := newManager(t, storeFactories["LocalStore"], storetesting.NewFakeClock())

	acquired, renewed, contended := acquireAcquired.Get(), acquireRenewed.Get(), acquireContended.Get()

	mgr.AcquireLock("backlog", "A", 0, nil)
	mgr.AcquireLock("backlog", "A", 0, nil)
	mgr.AcquireLock("backlog", "B", 0, nil)

	if acquireAcquired.Get() != acquired+1 {
		t.Errorf("expected one acquired lock")
	}
	if acquireRenewed.Get() != renewed+1 {
		t.Errorf("expected one renewed lock")
	}
	if acquireContended.Get() != contended+1 {
		t.Errorf("expected one contended acquire")
	}

	var buf bytes.Buffer
	WriteMetrics(&buf)
	for _, name := range []string{
		`agentlock_acquire_total{result="acquired"}`,
		`agentlock_release_total{result="released"}`,
		`agentlock_wait_total{result="timeout"}`,
	} {
		if !strings.Contains(buf.String(), name) {
			t.Errorf("metrics output misses %s", name)
		}
	}
}

// TestCorruptedLockRecovery tests that unreadable descriptor files do not block the resource
func TestCorruptedLockRecovery(t *testing.T) {
	dir := t.TempDir()
	s, err := fstore.NewFileStore(dir, store.Options{})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	mgr := NewLockManager(s, Options{})

	path := filepath.Join(dir, "backlog.lock")
	if err := os.WriteFile(path, []byte("{\"locked_by\": \"A\", \"locked_at\": "), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if active := mgr.ListActiveLocks(); len(active) != 0 {
		t.Errorf("corrupted lock listed as active: %v", active)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupted lock file should have been removed")
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !mgr.AcquireLock("backlog", "B", 0, nil) {
		t.Errorf("B should acquire over a corrupted lock file")
	}
}

// TestConcurrentAcquire races many holders on separate stores over one directory
func TestConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()

	const workers = 16

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		s, err := fstore.NewFileStore(dir, store.Options{})
		if err != nil {
			t.Fatalf("NewFileStore failed: %v", err)
		}
		mgr := NewLockManager(s, Options{})

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if mgr.AcquireLock("backlog", fmt.Sprintf("agent%d", i), 60, nil) {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Errorf("expected exactly one winner, got %d", n)
	}
}

// TestWaitForLockTimeout tests that waiting on a permanently held lock gives up after maxWait
func TestWaitForLockTimeout(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		s := factory(t, store.Options{})
		mgr := NewLockManager(s, Options{})

		if !mgr.AcquireLock("backlog", "B", 3600, nil) {
			t.Fatalf("acquire failed")
		}

		timeouts := waitTimeouts.Get()
		start := time.Now()
		ok := mgr.WaitForLock(context.Background(), "backlog", "A", time.Second, 100*time.Millisecond)
		elapsed := time.Since(start)

		if ok {
			t.Fatalf("A must not obtain a lock held by B")
		}
		if elapsed < 900*time.Millisecond || elapsed > 1500*time.Millisecond {
			t.Errorf("expected to give up after about 1s, took %v", elapsed)
		}
		if waitTimeouts.Get() != timeouts+1 {
			t.Errorf("timeout not counted")
		}
	})
}

// TestWaitForLockAcquiresAfterRelease tests that a waiter wins once the holder releases
func TestWaitForLockAcquiresAfterRelease(t *testing.T) {
	forEachStore(t, func(t *testing.T, factory storeFactory) {
		s := factory(t, store.Options{})
		mgr := NewLockManager(s, Options{})

		if !mgr.AcquireLock("backlog", "B", 0, nil) {
			t.Fatalf("acquire failed")
		}
		go func() {
			time.Sleep(200 * time.Millisecond)
			mgr.ReleaseLock("backlog", "B")
		}()

		if !mgr.WaitForLockWith(context.Background(), "backlog", "A", 42, map[string]any{"task": "x"}, 5*time.Second, 50*time.Millisecond) {
			t.Fatalf("A should obtain the lock after B released it")
		}
		desc, _ := mgr.GetLockInfo("backlog")
		if desc.LockedBy != "A" || desc.Timeout != 42 || desc.Metadata["task"] != "x" {
			t.Errorf("unexpected descriptor %+v", desc)
		}
	})
}

// TestWaitForLockZeroMaxWait tests that a non-positive maxWait makes a single attempt
func TestWaitForLockZeroMaxWait(t *testing.T) {
	mgr := NewLockManager(lstore.NewLocalStore(store.Options{}), Options{})

	if !mgr.WaitForLock(context.Background(), "backlog", "A", 0, 0) {
		t.Errorf("single attempt on an unlocked resource should succeed")
	}
	start := time.Now()
	if mgr.WaitForLock(context.Background(), "backlog", "B", 0, 0) {
		t.Errorf("B must not obtain the lock")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("single attempt should not sleep, took %v", elapsed)
	}
}

// TestWaitForLockCancel tests that cancelling the context ends the wait
func TestWaitForLockCancel(t *testing.T) {
	mgr := NewLockManager(lstore.NewLocalStore(store.Options{}), Options{})
	if !mgr.AcquireLock("backlog", "B", 0, nil) {
		t.Fatalf("acquire failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if mgr.WaitForLock(ctx, "backlog", "A", 10*time.Second, 50*time.Millisecond) {
		t.Fatalf("A must not obtain the lock")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled wait took %v", elapsed)
	}
}

// TestWithLock tests the wait/run/release helper
func TestWithLock(t *testing.T) {
	mgr := NewLockManager(lstore.NewLocalStore(store.Options{}), Options{})

	ran := false
	err := WithLock(context.Background(), mgr, "backlog", "A", time.Second, func() error {
		ran = true
		if desc, found := mgr.GetLockInfo("backlog"); !found || desc.LockedBy != "A" {
			t.Errorf("lock should be held by A inside the callback")
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLock failed: ran=%v err=%v", ran, err)
	}
	if _, found := mgr.GetLockInfo("backlog"); found {
		t.Errorf("lock should be released after the callback")
	}

	errEdit := errors.New("edit failed")
	err = WithLock(context.Background(), mgr, "backlog", "A", time.Second, func() error { return errEdit })
	if !errors.Is(err, errEdit) {
		t.Errorf("expected callback error, got %v", err)
	}
	if _, found := mgr.GetLockInfo("backlog"); found {
		t.Errorf("lock should be released after a failing callback")
	}

	if !mgr.AcquireLock("backlog", "B", 0, nil) {
		t.Fatalf("acquire failed")
	}
	ran = false
	err = WithLock(context.Background(), mgr, "backlog", "A", 100*time.Millisecond, func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
	if ran {
		t.Errorf("callback must not run without the lock")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithLock(ctx, mgr, "backlog", "A", time.Second, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
