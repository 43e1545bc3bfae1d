package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/temirov/acs/internal/execshell"
)

const (
	statusSubcommandConstant         = "status"
	porcelainV2FlagConstant          = "--porcelain=v2"
	porcelainFlagConstant            = "--porcelain"
	branchFlagConstant               = "--branch"
	showRefSubcommandConstant        = "show-ref"
	verifyFlagConstant               = "--verify"
	quietFlagConstant                = "--quiet"
	localBranchRefPrefixConstant     = "refs/heads/"
	remoteSubcommandConstant         = "remote"
	getURLSubcommandConstant         = "get-url"
	executorNotConfiguredMessage     = "git repository manager executor not configured"
	commandFailedTemplateConstant    = "git %s exited with code %d: %s"
	protectedBranchMessageConstant   = "Refusing to operate on main/master. Create a branch first."
	defaultLocalTimeoutConstant      = 60 * time.Second
	defaultNetworkTimeoutConstant    = 120 * time.Second
	commandArgumentSeparatorConstant = " "
)

// DefaultProtectedBranches are refused by the branch guard unless configured otherwise.
var DefaultProtectedBranches = []string{"main", "master"}

// ErrExecutorNotConfigured indicates the manager was built without an executor.
var ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessage)

// GitCommandExecutor runs git commands.
type GitCommandExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Timeouts bounds git invocations by kind.
type Timeouts struct {
	Local   time.Duration `mapstructure:"local" yaml:"local"`
	Network time.Duration `mapstructure:"network" yaml:"network"`
}

// DefaultTimeouts returns the stock git timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Local: defaultLocalTimeoutConstant, Network: defaultNetworkTimeoutConstant}
}

// Normalized replaces unset timeouts with defaults.
func (timeouts Timeouts) Normalized() Timeouts {
	defaults := DefaultTimeouts()
	if timeouts.Local <= 0 {
		timeouts.Local = defaults.Local
	}
	if timeouts.Network <= 0 {
		timeouts.Network = defaults.Network
	}
	return timeouts
}

// CommandError reports a git command that exited unsuccessfully.
type CommandError struct {
	Arguments []string
	Result    execshell.ExecutionResult
}

// Error describes the failed command.
func (commandError CommandError) Error() string {
	return fmt.Sprintf(commandFailedTemplateConstant, strings.Join(commandError.Arguments, commandArgumentSeparatorConstant), commandError.Result.ExitCode, strings.TrimSpace(commandError.Result.StandardError))
}

// Manager answers working-copy questions through git.
type Manager struct {
	executor GitCommandExecutor
	timeouts Timeouts
}

// NewManager constructs a Manager.
func NewManager(executor GitCommandExecutor, timeouts Timeouts) (*Manager, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &Manager{executor: executor, timeouts: timeouts.Normalized()}, nil
}

// Timeouts returns the effective timeouts.
func (manager *Manager) Timeouts() Timeouts {
	return manager.timeouts
}

// Run executes git with the local timeout. Non-zero exits are not errors.
func (manager *Manager) Run(executionContext context.Context, repositoryPath string, arguments ...string) (execshell.ExecutionResult, error) {
	return manager.run(executionContext, repositoryPath, manager.timeouts.Local, nil, arguments)
}

// RunNetwork executes git with the network timeout.
func (manager *Manager) RunNetwork(executionContext context.Context, repositoryPath string, arguments ...string) (execshell.ExecutionResult, error) {
	return manager.run(executionContext, repositoryPath, manager.timeouts.Network, nil, arguments)
}

// RunWithInput executes git with standardInput on stdin.
func (manager *Manager) RunWithInput(executionContext context.Context, repositoryPath string, standardInput []byte, arguments ...string) (execshell.ExecutionResult, error) {
	return manager.run(executionContext, repositoryPath, manager.timeouts.Local, standardInput, arguments)
}

// State reads the current branch and head commit.
func (manager *Manager) State(executionContext context.Context, repositoryPath string) (WorkingTreeState, error) {
	output, outputError := manager.output(executionContext, repositoryPath, statusSubcommandConstant, porcelainV2FlagConstant, branchFlagConstant)
	if outputError != nil {
		return WorkingTreeState{}, outputError
	}
	return ParseStatusHeaders(output), nil
}

// ChangedPaths lists paths with staged, unstaged, or untracked changes.
func (manager *Manager) ChangedPaths(executionContext context.Context, repositoryPath string) ([]string, error) {
	output, outputError := manager.output(executionContext, repositoryPath, statusSubcommandConstant, porcelainFlagConstant)
	if outputError != nil {
		return nil, outputError
	}
	return ParsePorcelainPaths(output), nil
}

// LocalBranchExists reports whether refs/heads/<branch> exists.
func (manager *Manager) LocalBranchExists(executionContext context.Context, repositoryPath string, branchName string) (bool, error) {
	executionResult, executionError := manager.Run(executionContext, repositoryPath, showRefSubcommandConstant, verifyFlagConstant, quietFlagConstant, localBranchRefPrefixConstant+branchName)
	if executionError != nil {
		return false, executionError
	}
	return executionResult.Succeeded(), nil
}

// RemoteURL returns the configured URL of remoteName.
func (manager *Manager) RemoteURL(executionContext context.Context, repositoryPath string, remoteName string) (string, error) {
	output, outputError := manager.output(executionContext, repositoryPath, remoteSubcommandConstant, getURLSubcommandConstant, remoteName)
	if outputError != nil {
		return "", outputError
	}
	return strings.TrimSpace(output), nil
}

func (manager *Manager) output(executionContext context.Context, repositoryPath string, arguments ...string) (string, error) {
	executionResult, executionError := manager.Run(executionContext, repositoryPath, arguments...)
	if executionError != nil {
		return "", executionError
	}
	if !executionResult.Succeeded() {
		return "", CommandError{Arguments: arguments, Result: executionResult}
	}
	return executionResult.StandardOutput, nil
}

func (manager *Manager) run(executionContext context.Context, repositoryPath string, timeout time.Duration, standardInput []byte, arguments []string) (execshell.ExecutionResult, error) {
	return manager.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: repositoryPath,
		StandardInput:    standardInput,
		Timeout:          timeout,
	})
}

// BranchGuard refuses operations on protected branches.
type BranchGuard struct {
	protected map[string]struct{}
}

// NewBranchGuard builds a guard; an empty list selects DefaultProtectedBranches.
func NewBranchGuard(protectedBranches []string) BranchGuard {
	if len(protectedBranches) == 0 {
		protectedBranches = DefaultProtectedBranches
	}
	guard := BranchGuard{protected: make(map[string]struct{}, len(protectedBranches))}
	for _, branchName := range protectedBranches {
		if trimmed := strings.TrimSpace(branchName); len(trimmed) > 0 {
			guard.protected[trimmed] = struct{}{}
		}
	}
	return guard
}

// Protected reports whether branchName is refused.
func (guard BranchGuard) Protected(branchName string) bool {
	_, protected := guard.protected[strings.TrimSpace(branchName)]
	return protected
}

// Message is the refusal shown to callers.
func (guard BranchGuard) Message() string {
	return protectedBranchMessageConstant
}
