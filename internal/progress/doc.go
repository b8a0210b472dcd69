// Package progress carries build progress from the dispatcher to pluggable
// sinks. Events are batched on a background goroutine so emitting never
// blocks a region collector.
package progress
