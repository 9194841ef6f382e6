// Package imagedir connects the pipeline to the filesystem.
//
// Reader walks an input directory in lexical order and decodes each supported
// image into an imaging.Image with a sequential id starting at 1. Files that
// fail to decode are logged and skipped; they never end the stream.
//
// Writer encodes committed images into the output directory as
// "<id>-<stem>.<ext>". It is safe for concurrent use by every sink worker and
// holds an advisory lock on the directory for its lifetime so two runs never
// interleave their output.
package imagedir
