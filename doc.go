// Package multiproc is the shared-state core of a multi-process
// Prometheus client: mmap-backed per-worker dictionaries, an on-disk
// entry codec compatible across processes, and an aggregator that merges
// every worker's files into scrape-ready metric families.
//
// Counter, Gauge, Histogram and Summary objects, label validation, text
// serialization, and HTTP exposition are built on top of this package and
// are out of its scope; it exposes only the Value capability trait and
// the Config used to wire a metric object to either in-process or
// cross-process storage.
package multiproc
