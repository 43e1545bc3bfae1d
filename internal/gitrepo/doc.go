// Package gitrepo holds git helpers shared by the orchestration packages:
// remote URL parsing and protocol rewriting, branch name validation and
// protection, porcelain status parsing, and a Manager that answers
// working-copy questions through the command executor.
package gitrepo
