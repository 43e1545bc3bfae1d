package repos

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

const gitMetadataDirectoryNameConstant = ".git"

// DiscoverRepositories walks roots and returns allow-list candidates for
// every directory containing a .git entry. Keys are the directory names.
func DiscoverRepositories(roots []string) ([]Repository, error) {
	seen := make(map[string]struct{})
	var repositoryPaths []string

	for _, root := range roots {
		walkError := filepath.WalkDir(root, func(path string, directoryEntry fs.DirEntry, walkError error) error {
			if walkError != nil {
				return nil
			}
			if directoryEntry.Name() != gitMetadataDirectoryNameConstant {
				return nil
			}

			repositoryPath := filepath.Dir(path)
			if _, alreadySeen := seen[repositoryPath]; !alreadySeen {
				seen[repositoryPath] = struct{}{}
				repositoryPaths = append(repositoryPaths, repositoryPath)
			}
			if directoryEntry.IsDir() {
				return fs.SkipDir
			}
			return nil
		})
		if walkError != nil {
			return nil, walkError
		}
	}

	sort.Strings(repositoryPaths)
	candidates := make([]Repository, 0, len(repositoryPaths))
	for _, repositoryPath := range repositoryPaths {
		candidates = append(candidates, Repository{Key: filepath.Base(repositoryPath), Path: repositoryPath})
	}
	return candidates, nil
}

// IsWorkingCopy reports whether path contains a .git entry.
func IsWorkingCopy(path string) bool {
	_, statError := os.Stat(filepath.Join(path, gitMetadataDirectoryNameConstant))
	return statError == nil
}
