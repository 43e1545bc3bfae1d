// Package gitops implements the synchronous git actions exposed next to the
// publish pipeline: patch application, branch creation, commit, push, state
// inspection, pull request hints, and staged remote-tracking ref repair.
// Every action returns an actions.Result instead of an error.
package gitops
