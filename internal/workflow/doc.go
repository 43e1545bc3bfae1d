// Package workflow adapts the external workflow tool (wgx) used for git
// audits and mutating routines. The tool prints JSON either directly, mixed
// into log noise, as a path to a file, or only into its output directory;
// an ordered chain of extraction strategies recovers the payload in all of
// those cases.
package workflow
