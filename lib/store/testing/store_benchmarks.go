package testing

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inove-ai/agentlock/lib/store"
)

// RunStoreBenchmarks runs all benchmarks for a lock store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("CreateDelete", func(b *testing.B) {
			benchmarkCreateDelete(b, factory)
		})

		b.Run("Read", func(b *testing.B) {
			benchmarkRead(b, factory)
		})

		b.Run("Read(absent)", func(b *testing.B) {
			benchmarkReadAbsent(b, factory)
		})

		b.Run("Renew", func(b *testing.B) {
			benchmarkRenew(b, factory)
		})

		b.Run("Contention", func(b *testing.B) {
			benchmarkContention(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkStore(b *testing.B, factory StoreFactory) store.ILockStore {
	return factory(b, store.Options{DefaultTimeout: time.Minute})
}

// Benchmark for a full lock cycle on distinct resources
func benchmarkCreateDelete(b *testing.B, factory StoreFactory) {
	s := benchmarkStore(b, factory)
	desc := descriptor("bench", time.Now(), 60)

	var counter atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resource := fmt.Sprintf("res-%d", counter.Add(1))
			if _, err := s.Create(resource, desc); err != nil {
				b.Errorf("Create failed: %v", err)
			}
			if err := s.Delete(resource); err != nil {
				b.Errorf("Delete failed: %v", err)
			}
		}
	})
}

// Benchmark for reading a valid descriptor
func benchmarkRead(b *testing.B, factory StoreFactory) {
	s := benchmarkStore(b, factory)
	if _, err := s.Create("backlog", descriptor("bench", time.Now(), 3600)); err != nil {
		b.Fatalf("Create failed: %v", err)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := s.Read("backlog"); err != nil {
				b.Errorf("Read failed: %v", err)
			}
		}
	})
}

// Benchmark for reading an unlocked resource
func benchmarkReadAbsent(b *testing.B, factory StoreFactory) {
	s := benchmarkStore(b, factory)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := s.Read("absent"); err != nil {
				b.Errorf("Read failed: %v", err)
			}
		}
	})
}

// Benchmark for renewing a held lock
func benchmarkRenew(b *testing.B, factory StoreFactory) {
	s := benchmarkStore(b, factory)
	if _, err := s.Create("backlog", descriptor("bench", time.Now(), 3600)); err != nil {
		b.Fatalf("Create failed: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Renew("backlog", "bench", time.Now()); err != nil {
			b.Errorf("Renew failed: %v", err)
		}
	}
}

// Benchmark for many workers competing for a single resource
func benchmarkContention(b *testing.B, factory StoreFactory) {
	s := benchmarkStore(b, factory)

	var (
		counter atomic.Int64
		wins    atomic.Int64
	)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		holder := fmt.Sprintf("worker-%d", counter.Add(1))
		desc := descriptor(holder, time.Now(), 60)
		for pb.Next() {
			created, err := s.Create("hot", desc)
			if err != nil {
				b.Errorf("Create failed: %v", err)
				continue
			}
			if created {
				wins.Add(1)
				if _, err := s.Remove("hot", holder); err != nil {
					b.Errorf("Remove failed: %v", err)
				}
			}
		}
	})
	b.ReportMetric(float64(wins.Load())/float64(b.N), "wins/op")
}
