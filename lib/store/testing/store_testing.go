package testing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
)

// StoreFactory creates a new, empty instance of an ILockStore implementation.
// Every call must return a store that shares nothing with previously created ones.
type StoreFactory func(t testing.TB, opts store.Options) store.ILockStore

// RunStoreTests runs a comprehensive test suite for an ILockStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Create&Read", func(t *testing.T) {
			testCreateRead(t, factory)
		})

		t.Run("CreateExclusive", func(t *testing.T) {
			testCreateExclusive(t, factory)
		})

		t.Run("Renew", func(t *testing.T) {
			testRenew(t, factory)
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory)
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory)
		})

		t.Run("StaleRead", func(t *testing.T) {
			testStaleRead(t, factory)
		})

		t.Run("DefaultTimeout", func(t *testing.T) {
			testDefaultTimeout(t, factory)
		})

		t.Run("Sweep", func(t *testing.T) {
			testSweep(t, factory)
		})

		t.Run("List", func(t *testing.T) {
			testList(t, factory)
		})

		t.Run("Metadata", func(t *testing.T) {
			testMetadata(t, factory)
		})

		t.Run("InvalidResource", func(t *testing.T) {
			testInvalidResource(t, factory)
		})

		t.Run("ConcurrentCreate", func(t *testing.T) {
			testConcurrentCreate(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// newStore creates a store judged by the given clock with a one minute default lease.
func newStore(t testing.TB, factory StoreFactory, clock *FakeClock) store.ILockStore {
	return factory(t, store.Options{
		DefaultTimeout: time.Minute,
		Now:            clock.Now,
	})
}

func descriptor(holder string, at time.Time, timeout uint64) store.Descriptor {
	return store.Descriptor{
		LockedBy: holder,
		LockedAt: at,
		PID:      4242,
		Timeout:  timeout,
	}
}

func mustCreate(t testing.TB, s store.ILockStore, resource string, desc store.Descriptor) {
	t.Helper()
	created, err := s.Create(resource, desc)
	if err != nil {
		t.Fatalf("Create(%s) returned error: %v", resource, err)
	}
	if !created {
		t.Fatalf("Create(%s) should succeed on an unlocked resource", resource)
	}
}

func mustRead(t testing.TB, s store.ILockStore, resource string) (store.Descriptor, bool) {
	t.Helper()
	desc, found, err := s.Read(resource)
	if err != nil {
		t.Fatalf("Read(%s) returned error: %v", resource, err)
	}
	return desc, found
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateRead(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Expected unlocked resource before Create")
	}

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 30))

	desc, found := mustRead(t, s, "backlog")
	if !found {
		t.Fatalf("Expected descriptor after Create")
	}
	if desc.LockedBy != "agent1" {
		t.Errorf("Expected holder agent1, got %s", desc.LockedBy)
	}
	if !desc.LockedAt.Equal(clock.Now()) {
		t.Errorf("Expected LockedAt %v, got %v", clock.Now(), desc.LockedAt)
	}
	if desc.PID != 4242 {
		t.Errorf("Expected PID 4242, got %d", desc.PID)
	}
	if desc.Timeout != 30 {
		t.Errorf("Expected timeout 30, got %d", desc.Timeout)
	}
}

func testCreateExclusive(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 30))

	created, err := s.Create("backlog", descriptor("agent2", clock.Now(), 30))
	if err != nil {
		t.Fatalf("Create on an existing resource should not return an error: %v", err)
	}
	if created {
		t.Errorf("Create should fail if the resource already exists")
	}

	desc, _ := mustRead(t, s, "backlog")
	if desc.LockedBy != "agent1" {
		t.Errorf("Failed Create must not change the descriptor, holder is %s", desc.LockedBy)
	}

	// the same holder is not special to Create
	created, _ = s.Create("backlog", descriptor("agent1", clock.Now(), 30))
	if created {
		t.Errorf("Create should fail for the same holder as well")
	}
}

func testRenew(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	renewed, err := s.Renew("backlog", "agent1", clock.Now())
	if err != nil {
		t.Fatalf("Renew returned error: %v", err)
	}
	if renewed {
		t.Errorf("Renew of an unlocked resource should report false")
	}

	first := clock.Now()
	mustCreate(t, s, "backlog", descriptor("agent1", first, 30))

	clock.Advance(10 * time.Second)
	renewed, _ = s.Renew("backlog", "agent2", clock.Now())
	if renewed {
		t.Errorf("Renew by a different holder should report false")
	}

	renewed, _ = s.Renew("backlog", "agent1", clock.Now())
	if !renewed {
		t.Fatalf("Renew by the holder should succeed")
	}

	desc, found := mustRead(t, s, "backlog")
	if !found {
		t.Fatalf("Expected descriptor after Renew")
	}
	if !desc.LockedAt.Equal(clock.Now()) {
		t.Errorf("Expected LockedAt to advance to %v, got %v", clock.Now(), desc.LockedAt)
	}
	if desc.Timeout != 30 || desc.PID != 4242 {
		t.Errorf("Renew must keep timeout and pid, got timeout=%d pid=%d", desc.Timeout, desc.PID)
	}

	// the renewed lease is measured from the renewal
	clock.Advance(25 * time.Second)
	if _, found := mustRead(t, s, "backlog"); !found {
		t.Errorf("Renewed lock should still be valid 25s after renewal (35s after creation)")
	}

	clock.Advance(10 * time.Second)
	renewed, _ = s.Renew("backlog", "agent1", clock.Now())
	if renewed {
		t.Errorf("Renew of a stale lock should report false")
	}
	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Stale lock should be gone after a failed Renew")
	}
}

func testRemove(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	released, err := s.Remove("backlog", "agent1")
	if err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if !released {
		t.Errorf("Remove of an unlocked resource should report true")
	}

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 30))

	released, _ = s.Remove("backlog", "agent2")
	if released {
		t.Errorf("Remove by a different holder should report false")
	}
	if desc, found := mustRead(t, s, "backlog"); !found || desc.LockedBy != "agent1" {
		t.Errorf("Remove by a different holder must leave the lock held by agent1")
	}

	released, _ = s.Remove("backlog", "agent1")
	if !released {
		t.Errorf("Remove by the holder should report true")
	}
	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Resource should be unlocked after Remove")
	}

	// a stale lock counts as released for everybody
	mustCreate(t, s, "stories", descriptor("agent1", clock.Now(), 5))
	clock.Advance(6 * time.Second)
	released, _ = s.Remove("stories", "agent2")
	if !released {
		t.Errorf("Remove of a stale lock should report true")
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	if err := s.Delete("backlog"); err != nil {
		t.Errorf("Delete of an absent resource should not fail: %v", err)
	}

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 30))
	if err := s.Delete("backlog"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Resource should be unlocked after Delete")
	}

	if err := s.Delete("backlog"); err != nil {
		t.Errorf("Delete should be idempotent: %v", err)
	}

	// the resource can be created again
	mustCreate(t, s, "backlog", descriptor("agent2", clock.Now(), 30))
}

func testStaleRead(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 5))

	// valid up to and including locked_at + timeout
	clock.Advance(5 * time.Second)
	if _, found := mustRead(t, s, "backlog"); !found {
		t.Errorf("Lock should still be valid exactly at its expiry instant")
	}

	clock.Advance(time.Millisecond)
	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Lock should be stale after locked_at + timeout")
	}

	// read repair removed the representation, so Create works again
	resources, err := s.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(resources) != 0 {
		t.Errorf("Expected stale descriptor to be removed by Read, still listed: %v", resources)
	}
	mustCreate(t, s, "backlog", descriptor("agent2", clock.Now(), 5))
}

func testDefaultTimeout(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	// timeout 0 falls back to the store default of one minute
	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 0))

	clock.Advance(59 * time.Second)
	if _, found := mustRead(t, s, "backlog"); !found {
		t.Errorf("Lock without timeout should be valid within the default lease")
	}

	clock.Advance(2 * time.Second)
	if _, found := mustRead(t, s, "backlog"); found {
		t.Errorf("Lock without timeout should expire after the default lease")
	}
}

func testSweep(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	removed, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if removed != 0 {
		t.Errorf("Sweep of an empty store should remove nothing, removed %d", removed)
	}

	mustCreate(t, s, "short-1", descriptor("agent1", clock.Now(), 5))
	mustCreate(t, s, "short-2", descriptor("agent2", clock.Now(), 5))
	mustCreate(t, s, "long", descriptor("agent3", clock.Now(), 50))

	clock.Advance(10 * time.Second)

	removed, err = s.Sweep()
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected Sweep to remove 2 stale locks, removed %d", removed)
	}

	resources, _ := s.List()
	if len(resources) != 1 || resources[0] != "long" {
		t.Errorf("Expected only the valid lock to remain, got %v", resources)
	}

	removed, _ = s.Sweep()
	if removed != 0 {
		t.Errorf("Second Sweep should remove nothing, removed %d", removed)
	}
}

func testList(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	resources, err := s.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(resources) != 0 {
		t.Errorf("Expected empty list, got %v", resources)
	}

	mustCreate(t, s, "backlog", descriptor("agent1", clock.Now(), 5))
	mustCreate(t, s, "stories", descriptor("agent2", clock.Now(), 50))

	// List does not filter stale entries
	clock.Advance(10 * time.Second)

	resources, _ = s.List()
	if len(resources) != 2 {
		t.Fatalf("Expected 2 resources, got %v", resources)
	}
	seen := map[string]bool{}
	for _, r := range resources {
		seen[r] = true
	}
	if !seen["backlog"] || !seen["stories"] {
		t.Errorf("Expected backlog and stories to be listed, got %v", resources)
	}
}

func testMetadata(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	desc := descriptor("agent1", clock.Now(), 30)
	desc.Metadata = map[string]any{
		"task":   "3.1",
		"reason": "finish task",
	}
	mustCreate(t, s, "backlog", desc)

	// the caller's map is not shared with the store
	desc.Metadata["task"] = "changed"

	got, found := mustRead(t, s, "backlog")
	if !found {
		t.Fatalf("Expected descriptor")
	}
	if got.Metadata["task"] != "3.1" || got.Metadata["reason"] != "finish task" {
		t.Errorf("Metadata not preserved, got %v", got.Metadata)
	}

	got.Metadata["task"] = "mutated"
	again, _ := mustRead(t, s, "backlog")
	if again.Metadata["task"] != "3.1" {
		t.Errorf("Read should return a copy of the metadata")
	}
}

func testInvalidResource(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	for _, resource := range []string{"", ".", "..", ".hidden", "a/b", `a\b`} {
		if _, err := s.Create(resource, descriptor("agent1", clock.Now(), 30)); err == nil {
			t.Errorf("Create(%q) should fail", resource)
		}
		if _, _, err := s.Read(resource); err == nil {
			t.Errorf("Read(%q) should fail", resource)
		}
		if err := s.Delete(resource); err == nil {
			t.Errorf("Delete(%q) should fail", resource)
		}
	}
}

func testConcurrentCreate(t *testing.T, factory StoreFactory) {
	clock := NewFakeClock()
	s := newStore(t, factory, clock)

	const (
		rounds  = 20
		workers = 8
	)

	for round := 0; round < rounds; round++ {
		resource := fmt.Sprintf("race-%d", round)

		var (
			wg      sync.WaitGroup
			winners atomic.Int32
			start   = make(chan struct{})
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				<-start
				created, err := s.Create(resource, descriptor(fmt.Sprintf("agent%d", w), clock.Now(), 30))
				if err != nil {
					t.Errorf("Create returned error: %v", err)
					return
				}
				if created {
					winners.Add(1)
				}
			}(w)
		}
		close(start)
		wg.Wait()

		if n := winners.Load(); n != 1 {
			t.Fatalf("Round %d: expected exactly one winner, got %d", round, n)
		}
	}
}
