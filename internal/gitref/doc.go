// Package gitref turns opaque remote-tracking ref failures reported by git
// into structured, actionable causes.
package gitref
