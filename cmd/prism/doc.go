// Package main hosts the prism CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, applies per-invocation
// flag overrides, and hands the resulting topology to the pipeline package.
// Around a run it wires the directory reader and writer, the run journal,
// the metrics collector, and progress reporting, then renders a summary.
//
// Keep this package lean: behaviour lives in internal packages and is only
// surfaced here through commands and flags.
package main
