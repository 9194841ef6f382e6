// Package metrics exports pipeline activity as Prometheus metrics.
//
// A Collector owns a private registry so repeated runs in one process never
// collide on the global default registry. It observes pipeline events while a
// run executes and folds the final report into gauges afterwards. Batch runs
// have no scrape endpoint, so the registry is written to a node_exporter
// textfile when a path is configured.
package metrics
