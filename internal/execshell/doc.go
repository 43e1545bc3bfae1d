// Package execshell runs external command lines (git, gh, the workflow tool)
// in a working directory with a per-command timeout and optional standard
// input. ShellExecutor never treats a non-zero exit status as an error; it
// only fails on timeouts, missing working directories, and processes that
// could not be started.
package execshell
