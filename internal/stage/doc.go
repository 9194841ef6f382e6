// Package stage describes the individual steps of a pipeline: a name, a
// fixed degree of parallelism, and the transformation each worker applies.
//
// Descriptors are plain values assembled before a run and never mutated
// while it executes. The image steps used by the prism CLI (scale,
// desaturate, flip, edge) are built by ImageSteps.
package stage
