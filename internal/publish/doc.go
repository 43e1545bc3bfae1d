// Package publish sequences the git and GitHub CLI steps that turn local
// work into a pull request. Every step is reported as an action result and
// a failing step stops the run.
package publish
