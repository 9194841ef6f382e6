// Package services defines shared utilities consumed by the pipeline workers
// and the image collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, worker indexes, and item
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, transformation, external I/O, fatal worker crash) so
//     callers can branch with errors.Is.
//
// Use these helpers when wiring new stage logic so diagnostics stay uniform
// across the pipeline.
package services
