// Package preflight provides readiness checks for the filesystem paths a
// prism run depends on.
//
// These checks run in two contexts:
//   - "prism run" calls RunAll before building the pipeline and refuses to
//     start when a required check fails.
//   - "prism check" renders every result so an operator can fix the setup
//     before a long batch.
//
// Optional features (journal, metrics textfile) are only checked when enabled.
package preflight
