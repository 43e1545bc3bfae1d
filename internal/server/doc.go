// Package server exposes the control surface over HTTP. Publish requests run
// as background jobs; git, audit, routine, and session calls answer
// synchronously.
package server
