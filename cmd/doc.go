// Package cmd implements the agentlock command line interface. Every command
// works directly on the lock directory; there is no server process.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for lock operations (list, cleanup, force-release, status,
//     acquire, release, exec)
//   - perf: Throughput and contention self-test of a lock directory
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Configuration is read from flags, from AGENTLOCK_* environment variables and from
// .env / .env.local files in the working directory, e.g. AGENTLOCK_LOCK_DIR or
// AGENTLOCK_HOLDER.
//
// Exit codes: 0 on success and for informational results, 1 for malformed
// invocations or an unusable lock directory, 2 if acquire, release or exec could
// not obtain or release the lock. exec otherwise exits with the code of its command.
//
// See agentlock --help for a list of all commands.
package cmd
