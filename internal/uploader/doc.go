// Package uploader is the authoritative write path for chunks.
//
// Upload validates the index with the sequencer, writes the chunk at its derived id, and
// publishes a chunk-stored event. The store raises the session's chunk count in the same
// write that creates a record, so retries after a lost response never skip or repeat it.
// Uploads of one session are admitted and committed one at a time. Storage failures come
// back as *chunk.UploadError so the caller can keep the chunk in its local cache for a
// later retry.
package uploader
