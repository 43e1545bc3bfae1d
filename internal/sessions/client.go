package sessions

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/repos"
)

const (
	defaultBinaryConstant           = "jules"
	remoteSubcommandConstant        = "remote"
	listSubcommandConstant          = "list"
	pullSubcommandConstant          = "pull"
	newSubcommandConstant           = "new"
	sessionFlagConstant             = "--session"
	diffHeaderPrefixConstant        = "diff --git"
	executorNotConfiguredMessage    = "session client executor not configured"
	patchNotFoundMessageConstant    = "No patch returned for this session."
	titleRequiredMessageConstant    = "Session title required"
	invalidSessionTemplateConstant  = "invalid session id %q"
	commandFailedTemplateConstant   = "session command %q exited with code %d: %s"
	executionFailedTemplateConstant = "session command %q: %w"
	listOperationConstant           = "list"
	newOperationConstant            = "new"
	diffOperationConstant           = "diff"
)

// Per-operation timeouts.
const (
	ListTimeout = 30 * time.Second
	NewTimeout  = 60 * time.Second
	DiffTimeout = 180 * time.Second
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

var (
	// ErrExecutorNotConfigured indicates the client was built without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessage)
	// ErrPatchNotFound reports a session that produced no diff.
	ErrPatchNotFound = errors.New(patchNotFoundMessageConstant)
)

// CommandExecutor runs the session CLI.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Configuration selects the session CLI binary.
type Configuration struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// DefaultConfiguration returns the stock session CLI settings.
func DefaultConfiguration() Configuration {
	return Configuration{Binary: defaultBinaryConstant}
}

// InvalidInputError rejects a request before any command runs.
type InvalidInputError struct {
	Message string
}

// Error returns the rejection message.
func (inputError InvalidInputError) Error() string {
	return inputError.Message
}

// CommandFailedError reports a non-zero exit of the session CLI.
type CommandFailedError struct {
	Operation string
	ExitCode  int
	Output    string
}

// Error includes the combined output of the failed command.
func (failedError CommandFailedError) Error() string {
	return fmt.Sprintf(commandFailedTemplateConstant, failedError.Operation, failedError.ExitCode, failedError.Output)
}

// Client runs session CLI commands inside configured repositories.
type Client struct {
	executor CommandExecutor
	binary   execshell.CommandName
}

// NewClient constructs a Client.
func NewClient(executor CommandExecutor, configuration Configuration) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	binary := strings.TrimSpace(configuration.Binary)
	if len(binary) == 0 {
		binary = defaultBinaryConstant
	}
	return &Client{executor: executor, binary: execshell.CommandName(binary)}, nil
}

// List returns the combined output of the session listing.
func (client *Client) List(executionContext context.Context, repository repos.Repository) (string, error) {
	executionResult, executionError := client.execute(executionContext, repository, ListTimeout, listOperationConstant, remoteSubcommandConstant, listSubcommandConstant, sessionFlagConstant)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.CombinedOutput(), nil
}

// New starts a session titled title and returns the CLI output.
func (client *Client) New(executionContext context.Context, repository repos.Repository, title string) (string, error) {
	if len(strings.TrimSpace(title)) == 0 {
		return "", InvalidInputError{Message: titleRequiredMessageConstant}
	}
	executionResult, executionError := client.execute(executionContext, repository, NewTimeout, newOperationConstant, newSubcommandConstant, title)
	if executionError != nil {
		return "", executionError
	}
	return executionResult.CombinedOutput(), nil
}

// Diff pulls the patch of a session without applying it. The returned text
// starts at the first diff header.
func (client *Client) Diff(executionContext context.Context, repository repos.Repository, sessionID string) (string, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return "", InvalidInputError{Message: fmt.Sprintf(invalidSessionTemplateConstant, sessionID)}
	}
	executionResult, executionError := client.execute(executionContext, repository, DiffTimeout, diffOperationConstant, remoteSubcommandConstant, pullSubcommandConstant, sessionFlagConstant, sessionID)
	if executionError != nil {
		return "", executionError
	}
	if !executionResult.Succeeded() {
		return "", CommandFailedError{Operation: diffOperationConstant, ExitCode: executionResult.ExitCode, Output: executionResult.CombinedOutput()}
	}
	patch := NormalizePatchOutput(executionResult.CombinedOutput())
	if len(strings.TrimSpace(patch)) == 0 {
		return "", ErrPatchNotFound
	}
	return patch, nil
}

// NormalizePatchOutput drops everything before the first line that starts a
// git diff. Output without such a line normalizes to the empty string.
func NormalizePatchOutput(output string) string {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	for index, line := range lines {
		if strings.HasPrefix(line, diffHeaderPrefixConstant) {
			return strings.TrimSpace(strings.Join(lines[index:], "\n"))
		}
	}
	return ""
}

func (client *Client) execute(executionContext context.Context, repository repos.Repository, timeout time.Duration, operation string, arguments ...string) (execshell.ExecutionResult, error) {
	executionResult, executionError := client.executor.Execute(executionContext, execshell.ShellCommand{
		Name: client.binary,
		Details: execshell.CommandDetails{
			Arguments:        arguments,
			WorkingDirectory: repository.Path,
			Timeout:          timeout,
		},
	})
	if executionError != nil {
		return execshell.ExecutionResult{}, fmt.Errorf(executionFailedTemplateConstant, operation, executionError)
	}
	return executionResult, nil
}
