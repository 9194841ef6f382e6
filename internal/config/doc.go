// Package config loads, normalizes, and validates prism configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// PRISM_INPUT_DIR. The Config type centralizes every knob the CLI needs:
// directories, pipeline topology (queue capacity, per-step parallelism),
// output encoding, logging, metrics export, and the run journal.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical formats, and clear validation errors.
package config
