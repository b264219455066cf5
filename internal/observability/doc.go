// Package observability groups the pipeline's logging and tracing helpers.
// Metrics live next to the code that records them, as promauto vars with
// Record helpers.
package observability
