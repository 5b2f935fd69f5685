// Package logging builds the structured slog logger shared by the chunk service and
// the chunkctl harness from the logging section of the configuration. File outputs
// are rotated.
package logging
