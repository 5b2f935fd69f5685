// Package store is durable chunk storage and the session metadata store.
//
// Chunks are keyed by the id derived from (session, index), so an upload of an index
// that already exists overwrites it; PutChunk reports whether the write created a new
// record so callers can count chunks exactly once. Postgres is the production backend,
// Memory serves tests and single-process runs.
package store
