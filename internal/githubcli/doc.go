// Package githubcli wraps the GitHub CLI operations used when publishing a
// branch: availability and authentication checks, pull request creation, and
// lookup of an already open pull request so retries stay idempotent.
package githubcli
