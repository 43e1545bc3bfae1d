package gitrepo

import (
	"bufio"
	"strings"
)

const (
	branchOIDHeaderPrefixConstant  = "# branch.oid "
	branchHeadHeaderPrefixConstant = "# branch.head "
	initialCommitMarkerConstant    = "(initial)"
	detachedHeadMarkerConstant     = "(detached)"
	unknownHeadMarkerConstant      = "(unknown)"

	// DetachedHead is reported when HEAD does not point at a branch.
	DetachedHead = "HEAD"
)

// WorkingTreeState summarizes `git status --porcelain=v2 --branch` headers.
type WorkingTreeState struct {
	Branch string
	Head   string
}

// ParseStatusHeaders reads the branch headers of porcelain v2 status output.
// A detached, unknown, or missing branch head is reported as DetachedHead; an
// unborn branch has an empty Head.
func ParseStatusHeaders(porcelainOutput string) WorkingTreeState {
	state := WorkingTreeState{Branch: DetachedHead}
	scanner := bufio.NewScanner(strings.NewReader(porcelainOutput))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, branchOIDHeaderPrefixConstant):
			objectID := strings.TrimSpace(strings.TrimPrefix(line, branchOIDHeaderPrefixConstant))
			if objectID != initialCommitMarkerConstant {
				state.Head = objectID
			}
		case strings.HasPrefix(line, branchHeadHeaderPrefixConstant):
			branchName := strings.TrimSpace(strings.TrimPrefix(line, branchHeadHeaderPrefixConstant))
			if len(branchName) > 0 && branchName != detachedHeadMarkerConstant && branchName != unknownHeadMarkerConstant {
				state.Branch = branchName
			}
		}
	}
	return state
}

// ParsePorcelainPaths lists the paths named in `git status --porcelain` (v1) output.
// Renames report the destination path.
func ParsePorcelainPaths(porcelainOutput string) []string {
	paths := make([]string, 0)
	for _, line := range strings.Split(porcelainOutput, "\n") {
		if len(line) < 4 || strings.HasPrefix(line, "##") {
			continue
		}
		path := line[3:]
		if arrowIndex := strings.Index(path, " -> "); arrowIndex >= 0 {
			path = path[arrowIndex+len(" -> "):]
		}
		path = strings.Trim(path, "\"")
		if len(path) > 0 {
			paths = append(paths, path)
		}
	}
	return paths
}

// SplitLines returns the non-empty trimmed lines of output.
func SplitLines(output string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if len(trimmedLine) > 0 {
			lines = append(lines, trimmedLine)
		}
	}
	return lines
}
