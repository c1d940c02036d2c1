// Package sinks implements concrete event consumers: an append-only NDJSON
// event log, structured logging, and Prometheus run metrics. Each sink
// satisfies the progress.Sink interface.
package sinks
