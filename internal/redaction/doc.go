// Package redaction replaces credentials in text before it is logged, stored
// in job state, or written to the action log.
package redaction
