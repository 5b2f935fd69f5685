// Package sequencer decides whether a newly arrived chunk index is acceptable for a session.
//
// A session's "last" index is the highest index accepted so far. The exact successor is
// accepted silently; indices inside a bounded window around it are accepted with a warning so
// retries and limited upload parallelism do not fail; everything else is rejected with
// chunk.ErrChunkIndexOutOfRange. The last index is kept by a Tracker, in memory for a single
// process or in Redis when several service replicas share sessions.
package sequencer
