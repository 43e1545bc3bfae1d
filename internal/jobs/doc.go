// Package jobs runs asynchronous work on a small worker pool and keeps a
// bounded, redacted history of the results each job recorded.
package jobs
