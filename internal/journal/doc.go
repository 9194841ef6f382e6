// Package journal persists a history of pipeline runs in SQLite.
//
// Each run gets one row in runs (topology, directories, final counts and
// status) and one row in run_items per item that did not take the happy
// path plus every committed item. The journal is write-mostly: Recorder
// buffers events in memory while the pipeline executes and Flush writes
// them in a single transaction after the run, so workers never wait on the
// database. The journal is a history for `prism history`; runs are never
// resumed from it.
package journal
