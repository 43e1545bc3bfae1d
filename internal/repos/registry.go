package repos

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	pathutils "github.com/temirov/acs/internal/utils/path"
)

const (
	mapstructureTagNameConstant     = "mapstructure"
	unknownRepositoryTemplate       = "repository not allowed: %s"
	invalidRepositoryTemplate       = "invalid repository entry %q: %s"
	duplicateKeyReasonConstant      = "duplicate key"
	invalidKeyReasonConstant        = "key must start with a letter or digit and contain only letters, digits, '.', '_' or '-'"
	missingPathReasonConstant       = "path is required"
	pathResolutionReasonTemplate    = "path cannot be resolved: %v"
	decodeRepositoriesErrorTemplate = "decode repositories: %w"
	readRepositoriesFileTemplate    = "read repositories file %s: %w"
	parseRepositoriesFileTemplate   = "parse repositories file %s: %w"
	repositoryKeyPatternExpression  = `^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`
	repositoriesFileRootKeyConstant = "repositories"
)

var repositoryKeyPattern = regexp.MustCompile(repositoryKeyPatternExpression)

// Repository is one allow-listed working copy.
type Repository struct {
	Key     string `mapstructure:"key" yaml:"key" json:"key"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
	Display string `mapstructure:"display" yaml:"display" json:"display"`
}

// UnknownRepositoryError reports a key outside the allow-list.
type UnknownRepositoryError struct {
	Key string
}

// Error describes the rejected key.
func (unknownError UnknownRepositoryError) Error() string {
	return fmt.Sprintf(unknownRepositoryTemplate, unknownError.Key)
}

// InvalidRepositoryError reports a malformed allow-list entry.
type InvalidRepositoryError struct {
	Key    string
	Reason string
}

// Error describes the malformed entry.
func (invalidError InvalidRepositoryError) Error() string {
	return fmt.Sprintf(invalidRepositoryTemplate, invalidError.Key, invalidError.Reason)
}

// Registry is the immutable allow-list of repositories the control surface may touch.
type Registry struct {
	ordered []Repository
	byKey   map[string]Repository
}

// NewRegistry validates entries, expands their paths, and preserves their order.
func NewRegistry(entries []Repository, expander *pathutils.HomeExpander) (*Registry, error) {
	if expander == nil {
		expander = pathutils.NewHomeExpander(nil)
	}
	registry := &Registry{byKey: make(map[string]Repository, len(entries))}
	for _, entry := range entries {
		key := strings.TrimSpace(entry.Key)
		if !repositoryKeyPattern.MatchString(key) {
			return nil, InvalidRepositoryError{Key: entry.Key, Reason: invalidKeyReasonConstant}
		}
		if _, duplicate := registry.byKey[key]; duplicate {
			return nil, InvalidRepositoryError{Key: key, Reason: duplicateKeyReasonConstant}
		}
		if len(strings.TrimSpace(entry.Path)) == 0 {
			return nil, InvalidRepositoryError{Key: key, Reason: missingPathReasonConstant}
		}
		absolutePath, resolveError := expander.ExpandAbsolute(entry.Path)
		if resolveError != nil {
			return nil, InvalidRepositoryError{Key: key, Reason: fmt.Sprintf(pathResolutionReasonTemplate, resolveError)}
		}
		display := strings.TrimSpace(entry.Display)
		if len(display) == 0 {
			display = key
		}
		repository := Repository{Key: key, Path: absolutePath, Display: display}
		registry.ordered = append(registry.ordered, repository)
		registry.byKey[key] = repository
	}
	return registry, nil
}

// Lookup resolves an allow-listed repository by key.
func (registry *Registry) Lookup(key string) (Repository, error) {
	if registry != nil {
		if repository, found := registry.byKey[key]; found {
			return repository, nil
		}
	}
	return Repository{}, UnknownRepositoryError{Key: key}
}

// All returns a copy of the allow-list in configuration order.
func (registry *Registry) All() []Repository {
	if registry == nil {
		return nil
	}
	return append([]Repository{}, registry.ordered...)
}

// Len reports the number of allow-listed repositories.
func (registry *Registry) Len() int {
	if registry == nil {
		return 0
	}
	return len(registry.ordered)
}

// DecodeRepositories converts a raw configuration value into entries.
func DecodeRepositories(raw any) ([]Repository, error) {
	if raw == nil {
		return nil, nil
	}
	var entries []Repository
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          mapstructureTagNameConstant,
		Result:           &entries,
		WeaklyTypedInput: true,
	})
	if decoderError != nil {
		return nil, fmt.Errorf(decodeRepositoriesErrorTemplate, decoderError)
	}
	if decodeError := decoder.Decode(raw); decodeError != nil {
		return nil, fmt.Errorf(decodeRepositoriesErrorTemplate, decodeError)
	}
	return entries, nil
}

// LoadRepositoriesFile reads entries from a YAML file with a top-level `repositories` list.
func LoadRepositoriesFile(filePath string) ([]Repository, error) {
	contents, readError := os.ReadFile(filePath)
	if readError != nil {
		return nil, fmt.Errorf(readRepositoriesFileTemplate, filePath, readError)
	}
	var document map[string][]Repository
	if parseError := yaml.Unmarshal(contents, &document); parseError != nil {
		return nil, fmt.Errorf(parseRepositoriesFileTemplate, filePath, parseError)
	}
	return document[repositoriesFileRootKeyConstant], nil
}
