// Package remote is the HTTP client for the chunk service. It is the client-side
// durable storage: chunk uploads, session lifecycle updates, and chunk listing for
// reassembly. Transient failures are retried with exponential backoff; service errors
// are decoded back into the chunk error taxonomy so errors.Is works across the wire.
package remote
