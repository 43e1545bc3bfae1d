// Package sessions drives the coding-agent session CLI: listing sessions,
// starting one for a repository, and pulling the patch a session produced.
package sessions
