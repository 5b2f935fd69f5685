// Package localstore is the client-side cache of captured chunks and of the recording
// state used for crash recovery.
//
// The cache is best-effort: callers treat any error (always wrapping
// chunk.ErrLocalCacheUnavailable) as "no local copy" and fall back to durable storage.
// Writes race the server upload and never gate it.
package localstore
