// Package progress renders command lifecycle events as short human-readable
// log lines for console runs. Arguments and stderr pass through a redactor
// before they are written.
package progress
