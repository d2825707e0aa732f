// Package testing provides standardised tests and benchmarks for
// lock store implementations that satisfy the store.ILockStore interface.
//
// The package contains:
//   - testing: A comprehensive test suite for validating conformance to the ILockStore contract
//     (exclusive creation, renewal, holder-checked removal, lazy expiry, sweeping)
//   - benchmark: Performance tests for measuring throughput of common lock operations
//   - FakeClock: A manually advanced clock, so lease expiry can be tested without sleeping
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func(t testing.TB, opts store.Options) store.ILockStore {
//		return NewMyStore(opts)
//	}
//
//	// Running the standard test suite
//	storetesting.RunStoreTests(t, "MyStore", factory)
//
//	// Running performance benchmarks
//	storetesting.RunStoreBenchmarks(b, "MyStore", factory)
package testing
