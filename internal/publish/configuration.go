package publish

import (
	"strings"

	"github.com/temirov/acs/internal/gitrepo"
)

const (
	defaultRemoteNameConstant    = "origin"
	defaultBaseBranchConstant    = "main"
	defaultBranchPrefixConstant  = "acs"
	defaultCommitMessageConstant = "Apply agent changes"
)

// Configuration describes how branches are published.
type Configuration struct {
	Remote            string   `mapstructure:"remote" yaml:"remote"`
	BaseBranch        string   `mapstructure:"base_branch" yaml:"base_branch"`
	BranchPrefix      string   `mapstructure:"branch_prefix" yaml:"branch_prefix"`
	RewriteRemote     bool     `mapstructure:"rewrite_remote" yaml:"rewrite_remote"`
	ProtectedBranches []string `mapstructure:"protected_branches" yaml:"protected_branches"`
	CommitMessage     string   `mapstructure:"commit_message" yaml:"commit_message"`
}

// DefaultConfiguration returns the stock publish configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		Remote:            defaultRemoteNameConstant,
		BaseBranch:        defaultBaseBranchConstant,
		BranchPrefix:      defaultBranchPrefixConstant,
		RewriteRemote:     true,
		ProtectedBranches: append([]string{}, gitrepo.DefaultProtectedBranches...),
		CommitMessage:     defaultCommitMessageConstant,
	}
}

// Sanitize trims values and fills blanks with defaults. RewriteRemote is kept as given.
func (configuration Configuration) Sanitize() Configuration {
	defaults := DefaultConfiguration()
	sanitized := configuration
	sanitized.Remote = valueOrDefault(configuration.Remote, defaults.Remote)
	sanitized.BaseBranch = valueOrDefault(configuration.BaseBranch, defaults.BaseBranch)
	sanitized.BranchPrefix = valueOrDefault(configuration.BranchPrefix, defaults.BranchPrefix)
	sanitized.CommitMessage = valueOrDefault(configuration.CommitMessage, defaults.CommitMessage)

	protected := make([]string, 0, len(configuration.ProtectedBranches))
	for _, branchName := range configuration.ProtectedBranches {
		if trimmed := strings.TrimSpace(branchName); len(trimmed) > 0 {
			protected = append(protected, trimmed)
		}
	}
	if len(protected) == 0 {
		protected = defaults.ProtectedBranches
	}
	sanitized.ProtectedBranches = protected
	return sanitized
}

func valueOrDefault(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); len(trimmed) > 0 {
		return trimmed
	}
	return fallback
}
