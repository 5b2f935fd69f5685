// Package tasks runs fire-and-forget background work that callers never await for
// correctness. Failures are delivered on an error channel, and Wait gives a bounded
// drain that reports how many tasks were still running when the deadline passed.
package tasks
