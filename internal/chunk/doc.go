// Package chunk defines the recording data model shared by every stage of the pipeline.
// It holds the session, chunk and recovery-state types, the deterministic chunk id
// derivation that makes uploads idempotent, and the error taxonomy.
package chunk
