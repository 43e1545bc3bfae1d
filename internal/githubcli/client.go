package githubcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/temirov/acs/internal/execshell"
)

const (
	versionFlagConstant                     = "--version"
	authSubcommandConstant                  = "auth"
	statusSubcommandConstant                = "status"
	pullRequestSubcommandConstant           = "pr"
	createSubcommandConstant                = "create"
	listSubcommandConstant                  = "list"
	baseFlagConstant                        = "--base"
	headFlagConstant                        = "--head"
	titleFlagConstant                       = "--title"
	bodyFlagConstant                        = "--body"
	fillFlagConstant                        = "--fill"
	stateFlagConstant                       = "--state"
	openStateConstant                       = "open"
	jsonFlagConstant                        = "--json"
	urlFieldConstant                        = "url"
	limitFlagConstant                       = "--limit"
	singleResultLimitConstant               = "1"
	executorNotConfiguredMessageConstant    = "github cli executor not configured"
	requiredValueMessageConstant            = "value required"
	operationErrorMessageTemplateConstant   = "%s operation failed"
	operationErrorWithCauseTemplateConstant = "%s operation failed: %s"
	responseDecodingErrorTemplateConstant   = "%s response decoding failed: %s"
	invalidInputErrorTemplateConstant       = "%s: %s"
	baseFieldNameConstant                   = "base"
	headFieldNameConstant                   = "head"
	pullRequestURLTrailingPunctuation       = ".,;:!?)]}>'\""
	versionOperationNameConstant            = OperationName("Version")
	authStatusOperationNameConstant         = OperationName("AuthStatus")
	createPullRequestOperationNameConstant  = OperationName("CreatePullRequest")
	listPullRequestsOperationNameConstant   = OperationName("FindOpenPullRequest")
)

// Per-operation timeouts.
const (
	VersionTimeout           = 10 * time.Second
	AuthStatusTimeout        = 20 * time.Second
	CreatePullRequestTimeout = 120 * time.Second
	ListPullRequestsTimeout  = 30 * time.Second
)

var pullRequestURLPattern = regexp.MustCompile(`https://github\.com/[^\s/]+/[^\s/]+/pull/\d+[^\s]*`)

// OperationName describes a named GitHub CLI workflow supported by the client.
type OperationName string

// GitHubCommandExecutor is the subset of execshell.ShellExecutor the client needs.
type GitHubCommandExecutor interface {
	ExecuteGitHubCLI(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// PullRequestRequest describes a pull request to open.
type PullRequestRequest struct {
	Base  string
	Head  string
	Title string
	Body  string
}

// Client coordinates GitHub CLI invocations through execshell.
type Client struct {
	executor GitHubCommandExecutor
}

var (
	// ErrExecutorNotConfigured indicates the client was constructed without an executor.
	ErrExecutorNotConfigured = errors.New(executorNotConfiguredMessageConstant)
)

// InvalidInputError surfaces validation issues for operation inputs.
type InvalidInputError struct {
	FieldName string
	Message   string
}

// Error describes the invalid input.
func (inputError InvalidInputError) Error() string {
	return fmt.Sprintf(invalidInputErrorTemplateConstant, inputError.FieldName, inputError.Message)
}

// OperationError wraps hard execution failures (missing binary, timeout).
type OperationError struct {
	Operation OperationName
	Cause     error
}

// Error describes the operation failure.
func (operationError OperationError) Error() string {
	if operationError.Cause == nil {
		return fmt.Sprintf(operationErrorMessageTemplateConstant, operationError.Operation)
	}
	return fmt.Sprintf(operationErrorWithCauseTemplateConstant, operationError.Operation, operationError.Cause)
}

// Unwrap exposes the underlying cause.
func (operationError OperationError) Unwrap() error {
	return operationError.Cause
}

// ResponseDecodingError indicates JSON decoding failures.
type ResponseDecodingError struct {
	Operation OperationName
	Cause     error
}

// Error describes the decoding failure.
func (decodingError ResponseDecodingError) Error() string {
	return fmt.Sprintf(responseDecodingErrorTemplateConstant, decodingError.Operation, decodingError.Cause)
}

// Unwrap exposes the underlying JSON error.
func (decodingError ResponseDecodingError) Unwrap() error {
	return decodingError.Cause
}

// NewClient constructs a GitHub CLI client.
func NewClient(executor GitHubCommandExecutor) (*Client, error) {
	if executor == nil {
		return nil, ErrExecutorNotConfigured
	}
	return &Client{executor: executor}, nil
}

// Version runs `gh --version`. An error means the binary could not be run at all.
func (client *Client) Version(executionContext context.Context, workingDirectory string) (execshell.ExecutionResult, error) {
	return client.run(executionContext, versionOperationNameConstant, workingDirectory, VersionTimeout, versionFlagConstant)
}

// AuthStatus runs `gh auth status`; a non-zero exit means the user is not authenticated.
func (client *Client) AuthStatus(executionContext context.Context, workingDirectory string) (execshell.ExecutionResult, error) {
	return client.run(executionContext, authStatusOperationNameConstant, workingDirectory, AuthStatusTimeout, authSubcommandConstant, statusSubcommandConstant)
}

// CreatePullRequest runs `gh pr create`. Without a title the commit messages fill the PR.
func (client *Client) CreatePullRequest(executionContext context.Context, workingDirectory string, request PullRequestRequest) (execshell.ExecutionResult, error) {
	if validationError := requireBranches(request.Base, request.Head); validationError != nil {
		return execshell.ExecutionResult{}, validationError
	}

	arguments := []string{pullRequestSubcommandConstant, createSubcommandConstant, baseFlagConstant, request.Base, headFlagConstant, request.Head}
	if len(strings.TrimSpace(request.Title)) == 0 {
		arguments = append(arguments, fillFlagConstant)
	} else {
		arguments = append(arguments, titleFlagConstant, request.Title, bodyFlagConstant, request.Body)
	}
	return client.run(executionContext, createPullRequestOperationNameConstant, workingDirectory, CreatePullRequestTimeout, arguments...)
}

// FindOpenPullRequestURL returns the URL of an open pull request for head into base.
// Any failure, including malformed output, reports that no pull request was found.
func (client *Client) FindOpenPullRequestURL(executionContext context.Context, workingDirectory string, head string, base string) (string, bool) {
	if requireBranches(base, head) != nil {
		return "", false
	}

	executionResult, executionError := client.run(
		executionContext,
		listPullRequestsOperationNameConstant,
		workingDirectory,
		ListPullRequestsTimeout,
		pullRequestSubcommandConstant, listSubcommandConstant,
		headFlagConstant, head,
		baseFlagConstant, base,
		stateFlagConstant, openStateConstant,
		jsonFlagConstant, urlFieldConstant,
		limitFlagConstant, singleResultLimitConstant,
	)
	if executionError != nil || !executionResult.Succeeded() {
		return "", false
	}

	pullRequests, decodeError := decodePullRequestURLs(executionResult.StandardOutput)
	if decodeError != nil || len(pullRequests) == 0 {
		return "", false
	}
	return pullRequests[0], true
}

// ExtractPullRequestURL finds the first github.com pull request URL in text.
func ExtractPullRequestURL(text string) (string, bool) {
	match := pullRequestURLPattern.FindString(text)
	if len(match) == 0 {
		return "", false
	}
	return strings.TrimRight(match, pullRequestURLTrailingPunctuation), true
}

func decodePullRequestURLs(output string) ([]string, error) {
	var response []struct {
		URL string `json:"url"`
	}
	if decodeError := json.Unmarshal([]byte(output), &response); decodeError != nil {
		return nil, ResponseDecodingError{Operation: listPullRequestsOperationNameConstant, Cause: decodeError}
	}
	urls := make([]string, 0, len(response))
	for _, pullRequest := range response {
		if len(strings.TrimSpace(pullRequest.URL)) > 0 {
			urls = append(urls, strings.TrimSpace(pullRequest.URL))
		}
	}
	return urls, nil
}

func (client *Client) run(executionContext context.Context, operation OperationName, workingDirectory string, timeout time.Duration, arguments ...string) (execshell.ExecutionResult, error) {
	executionResult, executionError := client.executor.ExecuteGitHubCLI(executionContext, execshell.CommandDetails{
		Arguments:        arguments,
		WorkingDirectory: workingDirectory,
		Timeout:          timeout,
	})
	if executionError != nil {
		return execshell.ExecutionResult{}, OperationError{Operation: operation, Cause: executionError}
	}
	return executionResult, nil
}

func requireBranches(base string, head string) error {
	if len(strings.TrimSpace(base)) == 0 {
		return InvalidInputError{FieldName: baseFieldNameConstant, Message: requiredValueMessageConstant}
	}
	if len(strings.TrimSpace(head)) == 0 {
		return InvalidInputError{FieldName: headFieldNameConstant, Message: requiredValueMessageConstant}
	}
	return nil
}
