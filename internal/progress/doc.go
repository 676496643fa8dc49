// Package progress carries run, listing and lookup events from the pipeline to
// pluggable sinks. The pipeline itself stays sequential; a Hub batches events
// on one background goroutine so reporting never blocks catalog work.
package progress
