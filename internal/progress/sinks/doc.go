// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, a terminal progress bar and a repository-backed outcome log.
package sinks
