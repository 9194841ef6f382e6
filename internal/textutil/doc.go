// Package textutil provides small text helpers shared by the CLI and the
// image writer: filesystem-safe output names and human-facing stage labels.
package textutil
