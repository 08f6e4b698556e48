// Package scheduler provides the companion's timer facility.
//
// Three pieces share one Clock abstraction:
//   - Scheduler runs named jobs from human descriptions such as
//     "every 5 minutes" (recurring) or "30 seconds" (one-shot)
//   - Debouncer coalesces bursts of work per key into one delayed action
//   - FakeClock drives both deterministically in tests
//
// Callbacks never run under a package lock and a panicking callback is
// recovered and logged, so one misbehaving job cannot stop the others.
package scheduler
