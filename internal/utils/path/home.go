package pathutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	tildeSymbolConstant      = "~"
	tildeSlashPrefixConstant = "~/"
)

// HomeDirectoryProvider resolves the current user's home directory path.
type HomeDirectoryProvider func() (string, error)

// HomeExpander resolves `~` prefixes in configured paths.
type HomeExpander struct {
	provider      HomeDirectoryProvider
	homeDirectory string
	providerError error
	resolveOnce   sync.Once
}

// NewHomeExpander uses os.UserHomeDir when provider is nil.
func NewHomeExpander(provider HomeDirectoryProvider) *HomeExpander {
	if provider == nil {
		provider = os.UserHomeDir
	}
	return &HomeExpander{provider: provider}
}

// Expand replaces a leading `~` or `~/` with the home directory. Paths
// naming another user's home (`~other`) are returned unchanged.
func (expander *HomeExpander) Expand(candidatePath string) string {
	trimmedPath := strings.TrimSpace(candidatePath)
	if expander == nil || !strings.HasPrefix(trimmedPath, tildeSymbolConstant) {
		return trimmedPath
	}

	homeDirectory := expander.home()
	if len(homeDirectory) == 0 {
		return trimmedPath
	}
	if trimmedPath == tildeSymbolConstant {
		return homeDirectory
	}
	for _, prefix := range []string{tildeSlashPrefixConstant, tildeSymbolConstant + string(os.PathSeparator)} {
		if strings.HasPrefix(trimmedPath, prefix) {
			return filepath.Join(homeDirectory, strings.TrimPrefix(trimmedPath, prefix))
		}
	}
	return trimmedPath
}

// ExpandAbsolute expands the path and makes it absolute and clean.
func (expander *HomeExpander) ExpandAbsolute(candidatePath string) (string, error) {
	expandedPath := expander.Expand(candidatePath)
	if len(expandedPath) == 0 {
		return "", nil
	}
	return filepath.Abs(expandedPath)
}

func (expander *HomeExpander) home() string {
	expander.resolveOnce.Do(func() {
		expander.homeDirectory, expander.providerError = expander.provider()
	})
	if expander.providerError != nil {
		return ""
	}
	return expander.homeDirectory
}
