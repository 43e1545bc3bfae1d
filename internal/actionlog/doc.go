// Package actionlog persists every action result as a redacted JSON line
// in a date-named file. Writing is best effort.
package actionlog
