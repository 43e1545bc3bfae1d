package gitops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/gitrepo"
	"github.com/temirov/acs/internal/repos"
)

// Action names reported by the service.
const (
	ActionApplyPatch      = "git.apply"
	ActionCreateBranch    = "git.branch.create"
	ActionCommit          = "git.commit"
	ActionPush            = "git.push"
	ActionState           = "git.state"
	ActionPullRequestHint = "git.pr.prepare"
)

const (
	defaultRemoteNameConstant   = "origin"
	applySubcommandConstant     = "apply"
	checkFlagConstant           = "--check"
	threeWayFlagConstant        = "--3way"
	standardInputArgument       = "-"
	checkoutSubcommandConstant  = "checkout"
	createBranchFlagConstant    = "-b"
	addSubcommandConstant       = "add"
	allFlagConstant             = "-A"
	commitSubcommandConstant    = "commit"
	messageFlagConstant         = "-m"
	pushSubcommandConstant      = "push"
	upstreamFlagConstant        = "-u"
	headReferenceConstant       = "HEAD"
	nothingToCommitMarker       = "nothing to commit"
	newlineConstant             = "\n"
	loggerNotConfiguredMessage  = "git operations logger not configured"
	reposNotConfiguredMessage   = "git operations repository resolver not configured"
	gitNotConfiguredMessage     = "git operations executor not configured"
	guardNotConfiguredMessage   = "git operations apply recorder not configured"
	actionLogMessageConstant    = "git action finished"
	actionLogFieldConstant      = "action"
	repoLogFieldConstant        = "repo"
	okLogFieldConstant          = "ok"
	errorKindLogFieldConstant   = "error_kind"
	correlationLogFieldConstant = "correlation_id"
)

const (
	stateUnavailableTemplate       = "Unable to read repository state: %v"
	executorFailureTemplate        = "%s: %v"
	emptyPatchMessage              = "Patch is empty"
	patchCheckFailedMessage        = "Patch does not apply cleanly."
	patchApplyFailedMessage        = "Patch passed the check but failed to apply."
	patchNoChangesMessage          = "Patch applied but left the working tree unchanged."
	patchStatusUnavailableTemplate = "Patch applied but the working tree could not be inspected: %v"
	patchRecordFailedTemplate      = "Patch applied but its working tree signature could not be recorded: %v"
	patchAppliedTemplate           = "Patch applied; %d file(s) changed."
	branchCreateFailedTemplate     = "Unable to create branch %s."
	branchCreatedTemplate          = "Created and checked out branch %s."
	emptyCommitMessage             = "Commit message required"
	stageFailedMessage             = "git add -A failed."
	nothingToCommitMessage         = "Nothing to commit."
	commitFailedMessage            = "git commit failed."
	committedMessage               = "Committed staged changes."
	pushFailedTemplate             = "Push of HEAD to %s failed."
	pushedTemplate                 = "Pushed HEAD to %s."
	stateTemplate                  = "On branch %s."
	featureBranchFirstMessage      = "Create a feature branch first before preparing a PR."
	pullRequestHintTemplate        = "Branch %s is ready for a pull request. Suggested commands:\n  git push -u %s HEAD\n  gh pr create --fill"
)

var (
	// ErrLoggerNotConfigured indicates a missing logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessage)
	// ErrRepositoriesNotConfigured indicates a missing repository resolver.
	ErrRepositoriesNotConfigured = errors.New(reposNotConfiguredMessage)
	// ErrGitExecutorNotConfigured indicates a missing git executor.
	ErrGitExecutorNotConfigured = errors.New(gitNotConfiguredMessage)
	// ErrApplyRecorderNotConfigured indicates a missing idempotency recorder.
	ErrApplyRecorderNotConfigured = errors.New(guardNotConfiguredMessage)
)

// RepositoryResolver maps allow-list keys to working copies.
type RepositoryResolver interface {
	Lookup(key string) (repos.Repository, error)
}

// ApplyRecorder remembers the working tree produced by a patch apply.
type ApplyRecorder interface {
	RecordCurrent(executionContext context.Context, repositoryKey string, repositoryPath string, sessionID string) (string, error)
}

// PatchRequest describes a patch to apply.
type PatchRequest struct {
	Repo      string `json:"repo"`
	Patch     string `json:"patch"`
	ThreeWay  bool   `json:"three_way"`
	SessionID string `json:"session_id,omitempty"`
}

// Dependencies wires the collaborators of a Service.
type Dependencies struct {
	Logger            *zap.Logger
	Repositories      RepositoryResolver
	GitExecutor       gitrepo.GitCommandExecutor
	ApplyRecorder     ApplyRecorder
	Timeouts          gitrepo.Timeouts
	Clock             actions.Clock
	Remote            string
	ProtectedBranches []string
}

// Service runs synchronous git actions against allow-listed repositories.
type Service struct {
	logger        *zap.Logger
	repositories  RepositoryResolver
	manager       *gitrepo.Manager
	applyRecorder ApplyRecorder
	clock         actions.Clock
	remote        string
	branchGuard   gitrepo.BranchGuard
}

// NewService validates dependencies and constructs a Service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Repositories == nil {
		return nil, ErrRepositoriesNotConfigured
	}
	if dependencies.GitExecutor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	if dependencies.ApplyRecorder == nil {
		return nil, ErrApplyRecorderNotConfigured
	}
	manager, managerError := gitrepo.NewManager(dependencies.GitExecutor, dependencies.Timeouts)
	if managerError != nil {
		return nil, managerError
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = actions.SystemClock{}
	}
	remote := strings.TrimSpace(dependencies.Remote)
	if len(remote) == 0 {
		remote = defaultRemoteNameConstant
	}
	return &Service{
		logger:        dependencies.Logger,
		repositories:  dependencies.Repositories,
		manager:       manager,
		applyRecorder: dependencies.ApplyRecorder,
		clock:         clock,
		remote:        remote,
		branchGuard:   gitrepo.NewBranchGuard(dependencies.ProtectedBranches),
	}, nil
}

// ApplyPatch checks and then applies a unified diff read from stdin. A
// successful apply records the resulting working tree for later commits.
func (service *Service) ApplyPatch(executionContext context.Context, correlationID string, request PatchRequest) actions.Result {
	operation := service.begin(request.Repo, correlationID)
	repository, failure := operation.resolve(ActionApplyPatch)
	if failure != nil {
		return operation.finish(*failure)
	}
	if failure := operation.guard(executionContext, ActionApplyPatch, repository.Path); failure != nil {
		return operation.finish(*failure)
	}
	if len(strings.TrimSpace(request.Patch)) == 0 {
		return operation.finish(operation.builder.Failed(ActionApplyPatch, operation.startedAt, actions.ErrorKindInvalidInput, emptyPatchMessage))
	}

	patch := request.Patch
	if !strings.HasSuffix(patch, newlineConstant) {
		patch += newlineConstant
	}
	checkArguments := []string{applySubcommandConstant, checkFlagConstant}
	applyArguments := []string{applySubcommandConstant}
	if request.ThreeWay {
		checkArguments = append(checkArguments, threeWayFlagConstant)
		applyArguments = append(applyArguments, threeWayFlagConstant)
	}
	checkArguments = append(checkArguments, standardInputArgument)
	applyArguments = append(applyArguments, standardInputArgument)

	checkResult, checkError := service.manager.RunWithInput(executionContext, repository.Path, []byte(patch), checkArguments...)
	if failure := operation.commandFailure(ActionApplyPatch, actions.ErrorKindConflict, patchCheckFailedMessage, checkResult, checkError); failure != nil {
		return operation.finish(*failure)
	}
	applyResult, applyError := service.manager.RunWithInput(executionContext, repository.Path, []byte(patch), applyArguments...)
	if failure := operation.commandFailure(ActionApplyPatch, actions.ErrorKindConflict, patchApplyFailedMessage, applyResult, applyError); failure != nil {
		return operation.finish(*failure)
	}

	changedPaths, statusError := service.manager.ChangedPaths(executionContext, repository.Path)
	if statusError != nil {
		return operation.finish(operation.builder.Failed(ActionApplyPatch, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(patchStatusUnavailableTemplate, statusError)))
	}
	if len(changedPaths) == 0 {
		return operation.finish(operation.builder.Failed(ActionApplyPatch, operation.startedAt, actions.ErrorKindConflict, patchNoChangesMessage).
			WithChanged(false, nil).
			WithOutput(applyResult.StandardOutput, applyResult.StandardError, applyResult.ExitCode))
	}
	if _, recordError := service.applyRecorder.RecordCurrent(executionContext, repository.Key, repository.Path, request.SessionID); recordError != nil {
		return operation.finish(operation.builder.Failed(ActionApplyPatch, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(patchRecordFailedTemplate, recordError)).
			WithChanged(true, changedPaths))
	}
	return operation.finish(operation.builder.Succeeded(ActionApplyPatch, operation.startedAt, fmt.Sprintf(patchAppliedTemplate, len(changedPaths))).
		WithChanged(true, changedPaths).
		WithOutput(applyResult.StandardOutput, applyResult.StandardError, applyResult.ExitCode))
}

// CreateBranch validates branchName and checks it out as a new branch.
func (service *Service) CreateBranch(executionContext context.Context, correlationID string, repositoryKey string, branchName string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	repository, failure := operation.resolve(ActionCreateBranch)
	if failure != nil {
		return operation.finish(*failure)
	}
	branchName = strings.TrimSpace(branchName)
	if validationError := gitrepo.ValidateBranchName(branchName); validationError != nil {
		return operation.finish(operation.builder.Failed(ActionCreateBranch, operation.startedAt, actions.ErrorKindInvalidInput, validationError.Error()).WithBranch(branchName))
	}
	executionResult, executionError := service.manager.Run(executionContext, repository.Path, checkoutSubcommandConstant, createBranchFlagConstant, branchName)
	if failure := operation.commandFailure(ActionCreateBranch, actions.ErrorKindGitFailed, fmt.Sprintf(branchCreateFailedTemplate, branchName), executionResult, executionError); failure != nil {
		return operation.finish(failure.WithBranch(branchName))
	}
	return operation.finish(operation.builder.Succeeded(ActionCreateBranch, operation.startedAt, fmt.Sprintf(branchCreatedTemplate, branchName)).
		WithBranch(branchName).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode))
}

// Commit stages every change and commits it with message.
func (service *Service) Commit(executionContext context.Context, correlationID string, repositoryKey string, message string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	repository, failure := operation.resolve(ActionCommit)
	if failure != nil {
		return operation.finish(*failure)
	}
	if failure := operation.guard(executionContext, ActionCommit, repository.Path); failure != nil {
		return operation.finish(*failure)
	}
	message = strings.TrimSpace(message)
	if len(message) == 0 {
		return operation.finish(operation.builder.Failed(ActionCommit, operation.startedAt, actions.ErrorKindInvalidInput, emptyCommitMessage))
	}

	addResult, addError := service.manager.Run(executionContext, repository.Path, addSubcommandConstant, allFlagConstant)
	if failure := operation.commandFailure(ActionCommit, actions.ErrorKindGitFailed, stageFailedMessage, addResult, addError); failure != nil {
		return operation.finish(*failure)
	}
	commitResult, commitError := service.manager.Run(executionContext, repository.Path, commitSubcommandConstant, messageFlagConstant, message)
	if commitError == nil && !commitResult.Succeeded() && strings.Contains(commitResult.CombinedOutput(), nothingToCommitMarker) {
		return operation.finish(operation.builder.Failed(ActionCommit, operation.startedAt, actions.ErrorKindNothingToCommit, nothingToCommitMessage).
			WithChanged(false, nil).
			WithOutput(commitResult.StandardOutput, commitResult.StandardError, commitResult.ExitCode))
	}
	if failure := operation.commandFailure(ActionCommit, actions.ErrorKindGitFailed, commitFailedMessage, commitResult, commitError); failure != nil {
		return operation.finish(*failure)
	}
	return operation.finish(operation.builder.Succeeded(ActionCommit, operation.startedAt, committedMessage).
		WithOutput(commitResult.StandardOutput, commitResult.StandardError, commitResult.ExitCode))
}

// Push pushes HEAD to the configured remote and sets its upstream.
func (service *Service) Push(executionContext context.Context, correlationID string, repositoryKey string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	repository, failure := operation.resolve(ActionPush)
	if failure != nil {
		return operation.finish(*failure)
	}
	if failure := operation.guard(executionContext, ActionPush, repository.Path); failure != nil {
		return operation.finish(*failure)
	}
	executionResult, executionError := service.manager.RunNetwork(executionContext, repository.Path, pushSubcommandConstant, upstreamFlagConstant, service.remote, headReferenceConstant)
	if failure := operation.commandFailure(ActionPush, actions.ErrorKindPushFailed, fmt.Sprintf(pushFailedTemplate, service.remote), executionResult, executionError); failure != nil {
		return operation.finish(*failure)
	}
	return operation.finish(operation.builder.Succeeded(ActionPush, operation.startedAt, fmt.Sprintf(pushedTemplate, service.remote)).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode))
}

// State reports the current branch and head commit.
func (service *Service) State(executionContext context.Context, correlationID string, repositoryKey string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	repository, failure := operation.resolve(ActionState)
	if failure != nil {
		return operation.finish(*failure)
	}
	state, stateError := service.manager.State(executionContext, repository.Path)
	if stateError != nil {
		return operation.finish(operation.builder.Failed(ActionState, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(stateUnavailableTemplate, stateError)))
	}
	return operation.finish(operation.builder.Succeeded(ActionState, operation.startedAt, fmt.Sprintf(stateTemplate, state.Branch)).
		WithBranch(state.Branch).
		WithHead(state.Head))
}

// PullRequestHint suggests how to open a pull request from the current branch.
func (service *Service) PullRequestHint(executionContext context.Context, correlationID string, repositoryKey string) actions.Result {
	operation := service.begin(repositoryKey, correlationID)
	repository, failure := operation.resolve(ActionPullRequestHint)
	if failure != nil {
		return operation.finish(*failure)
	}
	state, stateError := service.manager.State(executionContext, repository.Path)
	if stateError != nil {
		return operation.finish(operation.builder.Failed(ActionPullRequestHint, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(stateUnavailableTemplate, stateError)))
	}
	if service.branchGuard.Protected(state.Branch) || state.Branch == gitrepo.DetachedHead {
		return operation.finish(operation.builder.Succeeded(ActionPullRequestHint, operation.startedAt, featureBranchFirstMessage).WithBranch(state.Branch))
	}
	return operation.finish(operation.builder.Succeeded(ActionPullRequestHint, operation.startedAt, fmt.Sprintf(pullRequestHintTemplate, state.Branch, service.remote)).
		WithBranch(state.Branch).
		WithHead(state.Head))
}

type operation struct {
	service       *Service
	repositoryKey string
	correlationID string
	startedAt     time.Time
	builder       actions.Builder
}

func (service *Service) begin(repositoryKey string, correlationID string) *operation {
	return &operation{
		service:       service,
		repositoryKey: repositoryKey,
		correlationID: correlationID,
		startedAt:     service.clock.Now(),
		builder:       actions.Builder{Repo: repositoryKey, CorrelationID: correlationID, Clock: service.clock},
	}
}

func (operation *operation) resolve(action string) (repos.Repository, *actions.Result) {
	repository, lookupError := operation.service.repositories.Lookup(operation.repositoryKey)
	if lookupError != nil {
		failure := operation.builder.Failed(action, operation.startedAt, actions.ErrorKindInvalidRepo, lookupError.Error())
		return repos.Repository{}, &failure
	}
	return repository, nil
}

func (operation *operation) guard(executionContext context.Context, action string, repositoryPath string) *actions.Result {
	state, stateError := operation.service.manager.State(executionContext, repositoryPath)
	if stateError != nil {
		failure := operation.builder.Failed(action, operation.startedAt, actions.ErrorKindGitFailed, fmt.Sprintf(stateUnavailableTemplate, stateError))
		return &failure
	}
	if operation.service.branchGuard.Protected(state.Branch) {
		failure := operation.builder.Failed(action, operation.startedAt, actions.ErrorKindBranchGuard, operation.service.branchGuard.Message()).WithBranch(state.Branch)
		return &failure
	}
	return nil
}

// commandFailure returns nil when the command ran and exited zero.
func (operation *operation) commandFailure(action string, kind actions.ErrorKind, message string, executionResult execshell.ExecutionResult, executionError error) *actions.Result {
	if executionError != nil {
		failure := operation.builder.Failed(action, operation.startedAt, kind, fmt.Sprintf(executorFailureTemplate, message, executionError))
		return &failure
	}
	if executionResult.Succeeded() {
		return nil
	}
	failure := operation.builder.Failed(action, operation.startedAt, kind, message).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode)
	return &failure
}

func (operation *operation) finish(result actions.Result) actions.Result {
	operation.service.logger.Info(actionLogMessageConstant,
		zap.String(actionLogFieldConstant, result.Action),
		zap.String(repoLogFieldConstant, operation.repositoryKey),
		zap.String(correlationLogFieldConstant, operation.correlationID),
		zap.Bool(okLogFieldConstant, result.OK),
		zap.String(errorKindLogFieldConstant, string(result.ErrorKind)),
	)
	return result
}
