package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/githubcli"
	"github.com/temirov/acs/internal/gitref"
	"github.com/temirov/acs/internal/gitrepo"
	"github.com/temirov/acs/internal/idempotency"
	"github.com/temirov/acs/internal/repos"
)

// Stage action names, in pipeline order.
const (
	ActionRepoResolve       = "repo.resolve"
	ActionBranch            = "git.branch"
	ActionBranchCheckout    = "git.branch.checkout"
	ActionBranchGuard       = "git.branch.guard"
	ActionRemoteCheck       = "git.remote.check"
	ActionGitHubVersion     = "gh.version"
	ActionGitHubAuth        = "gh.auth"
	ActionRemoteProtocol    = "git.remote.protocol"
	ActionRemoteRewrite     = "git.remote.rewrite"
	ActionCommit            = "git.commit"
	ActionPush              = "git.push"
	ActionBranchUpstream    = "git.branch.upstream"
	ActionFetch             = "git.fetch"
	ActionPullRequestCheck  = "git.pr.precheck"
	ActionPullRequestCreate = "gh.pr.create"
	ActionPullRequestEnsure = "gh.pr.ensure"
	ActionPublish           = "git.publish"
)

const (
	checkoutSubcommandConstant  = "checkout"
	createBranchFlagConstant    = "-b"
	lsRemoteSubcommandConstant  = "ls-remote"
	headsFlagConstant           = "--heads"
	remoteSubcommandConstant    = "remote"
	setURLSubcommandConstant    = "set-url"
	addSubcommandConstant       = "add"
	allFlagConstant             = "-A"
	diffSubcommandConstant      = "diff"
	cachedFlagConstant          = "--cached"
	nameOnlyFlagConstant        = "--name-only"
	commitSubcommandConstant    = "commit"
	messageFlagConstant         = "-m"
	pushSubcommandConstant      = "push"
	upstreamFlagConstant        = "-u"
	headReferenceConstant       = "HEAD"
	revParseSubcommandConstant  = "rev-parse"
	abbrevRefFlagConstant       = "--abbrev-ref"
	symbolicFullNameFlag        = "--symbolic-full-name"
	upstreamReferenceConstant   = "@{u}"
	fetchSubcommandConstant     = "fetch"
	revListSubcommandConstant   = "rev-list"
	countFlagConstant           = "--count"
	remoteTrackingPrefix        = "refs/remotes/"
	localBranchRefPrefix        = "refs/heads/"
	missingRemoteRefMarker      = "couldn't find remote ref "
	refspecTemplateConstant     = "%s:" + remoteTrackingPrefix + "%s/%s"
	revisionRangeTemplate       = "%s/%s..%s/%s"
	remoteBranchPrefixTemplate  = "%s/"
	executorErrorTemplate       = "%s: %v"
	loggerNotConfiguredMessage  = "publish pipeline logger not configured"
	reposNotConfiguredMessage   = "publish pipeline repository resolver not configured"
	gitNotConfiguredMessage     = "publish pipeline git executor not configured"
	githubNotConfiguredMessage  = "publish pipeline github client not configured"
	guardNotConfiguredMessage   = "publish pipeline idempotency guard not configured"
	stageLogMessageConstant     = "publish stage recorded"
	finishedLogMessageConstant  = "publish finished"
	actionLogFieldConstant      = "action"
	okLogFieldConstant          = "ok"
	errorKindLogFieldConstant   = "error_kind"
	repoLogFieldConstant        = "repo"
	correlationLogFieldConstant = "correlation_id"
	pullRequestLogFieldConstant = "pr_url"
)

const (
	branchSelectedTemplate         = "Publishing from branch %s."
	checkoutFailedTemplate         = "Unable to check out branch %s."
	checkedOutTemplate             = "Checked out branch %s."
	stateUnavailableTemplate       = "Unable to read repository state: %v"
	detachedHeadMessage            = "HEAD is detached; check out a branch before publishing."
	branchGuardPassedTemplate      = "Branch %s is not protected."
	remoteUnreachableTemplate      = "Remote %s is not reachable."
	remoteReachableTemplate        = "Remote %s is reachable."
	githubMissingMessage           = "GitHub CLI (gh) is not installed or not runnable."
	githubAvailableMessage         = "GitHub CLI is available."
	githubNotAuthenticatedMessage  = "GitHub CLI is not authenticated; run `gh auth login`."
	githubAuthenticatedMessage     = "GitHub CLI is authenticated."
	remoteURLUnavailableTemplate   = "Unable to read the URL of remote %s: %v"
	remoteUsesSSHTemplate          = "Remote %s uses ssh."
	remoteForeignHTTPSTemplate     = "Remote %s uses https on a host other than github.com; configure an ssh remote before publishing."
	remoteRewriteDisabledTemplate  = "Remote %s uses https and automatic rewriting is disabled; run `git remote set-url %s %s` or enable publish.rewrite_remote."
	remoteUnsupportedTemplate      = "Remote %s uses an unsupported protocol; configure an ssh remote before publishing."
	remoteRewriteFailedTemplate    = "Unable to rewrite remote %s to ssh."
	remoteRewrittenTemplate        = "Rewrote remote %s to %s."
	statusUnavailableTemplate      = "Unable to list working tree changes: %v"
	cleanTreeMessage               = "Working tree clean; nothing to commit."
	stageFailedMessage             = "git add -A failed."
	stagedListFailedMessage        = "Unable to list staged changes."
	nothingStagedMessage           = "No staged changes after git add -A."
	commitFailedMessage            = "git commit failed."
	committedTemplate              = "Committed %d file(s)."
	pushFailedTemplate             = "Push of HEAD to %s failed."
	pushedTemplate                 = "Pushed HEAD to %s."
	upstreamUnavailableTemplate    = "Upstream not available; using local branch %s."
	upstreamMissingTemplate        = "No upstream configured; using local branch %s."
	upstreamNonOriginTemplate      = "Upstream %s is on a non-%s remote; using local branch %s."
	upstreamResolvedTemplate       = "Upstream is %s."
	baseMissingTemplate            = "Base branch %s was not found on %s."
	headMissingTemplate            = "Branch %s was not found on %s."
	fetchFailedMessage             = "git fetch failed."
	fetchedTemplate                = "Fetched %s and %s from %s."
	revListFailedMessage           = "Unable to count commits between base and head."
	revListUnparsableTemplate      = "Unable to parse commit count %q."
	noCommitsTemplate              = "No commits between %s and %s; nothing to open a pull request for."
	commitsAheadTemplate           = "%d commit(s) ahead of %s."
	pullRequestCreatedMessage      = "Opened pull request."
	pullRequestAlreadyOpenTemplate = "Pull request already open: %s"
	pullRequestFailedMessage       = "gh pr create failed and no open pull request was found."
	publishedTemplate              = "Published %s: %s"
)

var (
	// ErrLoggerNotConfigured indicates a missing logger.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessage)
	// ErrRepositoriesNotConfigured indicates a missing repository resolver.
	ErrRepositoriesNotConfigured = errors.New(reposNotConfiguredMessage)
	// ErrGitExecutorNotConfigured indicates a missing git executor.
	ErrGitExecutorNotConfigured = errors.New(gitNotConfiguredMessage)
	// ErrGitHubClientNotConfigured indicates a missing GitHub client.
	ErrGitHubClientNotConfigured = errors.New(githubNotConfiguredMessage)
	// ErrGuardNotConfigured indicates a missing idempotency guard.
	ErrGuardNotConfigured = errors.New(guardNotConfiguredMessage)
)

// RepositoryResolver maps allow-list keys to working copies.
type RepositoryResolver interface {
	Lookup(key string) (repos.Repository, error)
}

// PullRequestClient is the GitHub CLI surface the pipeline needs.
type PullRequestClient interface {
	Version(executionContext context.Context, workingDirectory string) (execshell.ExecutionResult, error)
	AuthStatus(executionContext context.Context, workingDirectory string) (execshell.ExecutionResult, error)
	CreatePullRequest(executionContext context.Context, workingDirectory string, request githubcli.PullRequestRequest) (execshell.ExecutionResult, error)
	FindOpenPullRequestURL(executionContext context.Context, workingDirectory string, head string, base string) (string, bool)
}

// DirtyTreeVerifier decides whether uncommitted changes may be committed.
type DirtyTreeVerifier interface {
	VerifyDirty(executionContext context.Context, repositoryKey string, repositoryPath string) idempotency.Verdict
}

// ResultRecorder receives every stage result.
type ResultRecorder interface {
	Record(result actions.Result)
}

// Options describes one publish request.
type Options struct {
	RepositoryKey string `json:"repo"`
	Branch        string `json:"branch,omitempty"`
	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// Dependencies wires the collaborators of a Pipeline.
type Dependencies struct {
	Logger       *zap.Logger
	Repositories RepositoryResolver
	GitExecutor  gitrepo.GitCommandExecutor
	GitHubClient PullRequestClient
	Guard        DirtyTreeVerifier
	Timeouts     gitrepo.Timeouts
	Clock        actions.Clock
}

// Pipeline publishes a repository branch as a pull request.
type Pipeline struct {
	logger        *zap.Logger
	repositories  RepositoryResolver
	manager       *gitrepo.Manager
	github        PullRequestClient
	guard         DirtyTreeVerifier
	configuration Configuration
	branchGuard   gitrepo.BranchGuard
	clock         actions.Clock
	locks         *repositoryLocks
}

// NewPipeline validates dependencies and constructs a Pipeline.
func NewPipeline(dependencies Dependencies, configuration Configuration) (*Pipeline, error) {
	if dependencies.Logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if dependencies.Repositories == nil {
		return nil, ErrRepositoriesNotConfigured
	}
	if dependencies.GitExecutor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	if dependencies.GitHubClient == nil {
		return nil, ErrGitHubClientNotConfigured
	}
	if dependencies.Guard == nil {
		return nil, ErrGuardNotConfigured
	}
	manager, managerError := gitrepo.NewManager(dependencies.GitExecutor, dependencies.Timeouts)
	if managerError != nil {
		return nil, managerError
	}
	clock := dependencies.Clock
	if clock == nil {
		clock = actions.SystemClock{}
	}
	sanitized := configuration.Sanitize()
	return &Pipeline{
		logger:        dependencies.Logger,
		repositories:  dependencies.Repositories,
		manager:       manager,
		github:        dependencies.GitHubClient,
		guard:         dependencies.Guard,
		configuration: sanitized,
		branchGuard:   gitrepo.NewBranchGuard(sanitized.ProtectedBranches),
		clock:         clock,
		locks:         newRepositoryLocks(),
	}, nil
}

// Run executes every stage and reports whether a pull request is available.
// Runs against the same repository are serialized.
func (pipeline *Pipeline) Run(executionContext context.Context, correlationID string, options Options, recorder ResultRecorder) bool {
	execution := &publishRun{
		pipeline:         pipeline,
		executionContext: executionContext,
		options:          options,
		recorder:         recorder,
		startedAt:        pipeline.clock.Now(),
		builder:          actions.Builder{Repo: options.RepositoryKey, CorrelationID: correlationID, Clock: pipeline.clock},
		logger:           pipeline.logger.With(zap.String(repoLogFieldConstant, options.RepositoryKey), zap.String(correlationLogFieldConstant, correlationID)),
	}

	repository, resolved := execution.resolveRepository()
	if !resolved {
		return false
	}
	unlock := pipeline.locks.lock(repository.Key)
	defer unlock()

	pullRequestURL, published := execution.publish(repository)
	execution.logger.Info(finishedLogMessageConstant, zap.Bool(okLogFieldConstant, published), zap.String(pullRequestLogFieldConstant, pullRequestURL))
	return published
}

type publishRun struct {
	pipeline         *Pipeline
	executionContext context.Context
	options          Options
	recorder         ResultRecorder
	startedAt        time.Time
	builder          actions.Builder
	logger           *zap.Logger
}

func (execution *publishRun) publish(repository repos.Repository) (string, bool) {
	path := repository.Path

	branchName, branchSelected := execution.selectBranch(repository)
	if !branchSelected ||
		!execution.checkoutBranch(path, branchName) ||
		!execution.guardBranch(path) ||
		!execution.checkRemote(path) ||
		!execution.checkGitHub(path) ||
		!execution.ensureSSHRemote(path) ||
		!execution.commitChanges(repository, branchName) ||
		!execution.push(path) {
		return "", false
	}

	headBranch := execution.resolveUpstream(path, branchName)
	if !execution.fetch(path, headBranch) || !execution.precheck(path, headBranch) {
		return "", false
	}

	pullRequestURL, opened := execution.openPullRequest(path, headBranch)
	if !opened {
		return "", false
	}

	execution.record(execution.builder.Succeeded(ActionPublish, execution.startedAt, fmt.Sprintf(publishedTemplate, branchName, pullRequestURL)).
		WithBranch(branchName).
		WithHead(headBranch).
		WithPullRequest(pullRequestURL))
	return pullRequestURL, true
}

func (execution *publishRun) resolveRepository() (repos.Repository, bool) {
	stageStart := execution.now()
	repository, lookupError := execution.pipeline.repositories.Lookup(execution.options.RepositoryKey)
	if lookupError != nil {
		execution.record(execution.builder.Failed(ActionRepoResolve, stageStart, actions.ErrorKindInvalidRepo, lookupError.Error()))
		return repos.Repository{}, false
	}
	return repository, true
}

func (execution *publishRun) selectBranch(repository repos.Repository) (string, bool) {
	stageStart := execution.now()
	branchName := strings.TrimSpace(execution.options.Branch)
	if len(branchName) == 0 {
		branchName = gitrepo.DefaultBranchName(execution.pipeline.configuration.BranchPrefix, repository.Key, stageStart)
	}
	if validationError := gitrepo.ValidateBranchName(branchName); validationError != nil {
		execution.record(execution.builder.Failed(ActionBranch, stageStart, actions.ErrorKindInvalidInput, validationError.Error()).WithBranch(branchName))
		return "", false
	}
	execution.record(execution.builder.Succeeded(ActionBranch, stageStart, fmt.Sprintf(branchSelectedTemplate, branchName)).WithBranch(branchName))
	return branchName, true
}

func (execution *publishRun) checkoutBranch(path string, branchName string) bool {
	stageStart := execution.now()
	state, stateError := execution.pipeline.manager.State(execution.executionContext, path)
	if stateError != nil {
		execution.record(execution.builder.Failed(ActionBranchCheckout, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(stateUnavailableTemplate, stateError)).WithBranch(branchName))
		return false
	}
	if state.Branch == branchName {
		return true
	}

	exists, existsError := execution.pipeline.manager.LocalBranchExists(execution.executionContext, path, branchName)
	if existsError != nil {
		execution.record(execution.builder.Failed(ActionBranchCheckout, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(executorErrorTemplate, fmt.Sprintf(checkoutFailedTemplate, branchName), existsError)).WithBranch(branchName))
		return false
	}
	arguments := []string{checkoutSubcommandConstant, branchName}
	if !exists {
		arguments = []string{checkoutSubcommandConstant, createBranchFlagConstant, branchName}
	}
	executionResult, executionError := execution.pipeline.manager.Run(execution.executionContext, path, arguments...)
	if failed := execution.commandFailure(ActionBranchCheckout, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(checkoutFailedTemplate, branchName), executionResult, executionError); failed != nil {
		execution.record(failed.WithBranch(branchName))
		return false
	}
	execution.record(execution.builder.Succeeded(ActionBranchCheckout, stageStart, fmt.Sprintf(checkedOutTemplate, branchName)).
		WithBranch(branchName).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode))
	return true
}

func (execution *publishRun) guardBranch(path string) bool {
	stageStart := execution.now()
	state, stateError := execution.pipeline.manager.State(execution.executionContext, path)
	if stateError != nil {
		execution.record(execution.builder.Failed(ActionBranchGuard, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(stateUnavailableTemplate, stateError)))
		return false
	}
	if execution.pipeline.branchGuard.Protected(state.Branch) {
		execution.record(execution.builder.Failed(ActionBranchGuard, stageStart, actions.ErrorKindBranchGuard, execution.pipeline.branchGuard.Message()).WithBranch(state.Branch).WithHead(state.Head))
		return false
	}
	if state.Branch == gitrepo.DetachedHead {
		execution.record(execution.builder.Failed(ActionBranchGuard, stageStart, actions.ErrorKindBranchGuard, detachedHeadMessage).WithHead(state.Head))
		return false
	}
	execution.record(execution.builder.Succeeded(ActionBranchGuard, stageStart, fmt.Sprintf(branchGuardPassedTemplate, state.Branch)).WithBranch(state.Branch).WithHead(state.Head))
	return true
}

func (execution *publishRun) checkRemote(path string) bool {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	executionResult, executionError := execution.pipeline.manager.RunNetwork(execution.executionContext, path, lsRemoteSubcommandConstant, headsFlagConstant, remoteName)
	if failed := execution.commandFailure(ActionRemoteCheck, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteUnreachableTemplate, remoteName), executionResult, executionError); failed != nil {
		execution.record(*failed)
		return false
	}
	execution.record(execution.builder.Succeeded(ActionRemoteCheck, stageStart, fmt.Sprintf(remoteReachableTemplate, remoteName)))
	return true
}

func (execution *publishRun) checkGitHub(path string) bool {
	stageStart := execution.now()
	versionResult, versionError := execution.pipeline.github.Version(execution.executionContext, path)
	if failed := execution.commandFailure(ActionGitHubVersion, stageStart, actions.ErrorKindGitHubMissing, githubMissingMessage, versionResult, versionError); failed != nil {
		execution.record(*failed)
		return false
	}
	execution.record(execution.builder.Succeeded(ActionGitHubVersion, stageStart, githubAvailableMessage).
		WithOutput(versionResult.StandardOutput, versionResult.StandardError, versionResult.ExitCode))

	stageStart = execution.now()
	authResult, authError := execution.pipeline.github.AuthStatus(execution.executionContext, path)
	if failed := execution.commandFailure(ActionGitHubAuth, stageStart, actions.ErrorKindGitHubNotAuthenticated, githubNotAuthenticatedMessage, authResult, authError); failed != nil {
		execution.record(*failed)
		return false
	}
	execution.record(execution.builder.Succeeded(ActionGitHubAuth, stageStart, githubAuthenticatedMessage))
	return true
}

func (execution *publishRun) ensureSSHRemote(path string) bool {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	remoteURL, remoteError := execution.pipeline.manager.RemoteURL(execution.executionContext, path, remoteName)
	if remoteError != nil {
		execution.record(execution.builder.Failed(ActionRemoteProtocol, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteURLUnavailableTemplate, remoteName, remoteError)))
		return false
	}

	switch gitrepo.DetectProtocol(remoteURL) {
	case gitrepo.RemoteProtocolSSH:
		execution.record(execution.builder.Succeeded(ActionRemoteProtocol, stageStart, fmt.Sprintf(remoteUsesSSHTemplate, remoteName)))
		return true
	case gitrepo.RemoteProtocolHTTPS:
		sshURL, rewritable := gitrepo.GitHubHTTPSToSSH(remoteURL)
		if !rewritable {
			execution.record(execution.builder.Failed(ActionRemoteProtocol, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteForeignHTTPSTemplate, remoteName)))
			return false
		}
		if !execution.pipeline.configuration.RewriteRemote {
			execution.record(execution.builder.Failed(ActionRemoteProtocol, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteRewriteDisabledTemplate, remoteName, remoteName, sshURL)))
			return false
		}
		stageStart = execution.now()
		executionResult, executionError := execution.pipeline.manager.Run(execution.executionContext, path, remoteSubcommandConstant, setURLSubcommandConstant, remoteName, sshURL)
		if failed := execution.commandFailure(ActionRemoteRewrite, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteRewriteFailedTemplate, remoteName), executionResult, executionError); failed != nil {
			execution.record(*failed)
			return false
		}
		execution.record(execution.builder.Succeeded(ActionRemoteRewrite, stageStart, fmt.Sprintf(remoteRewrittenTemplate, remoteName, sshURL)))
		return true
	default:
		execution.record(execution.builder.Failed(ActionRemoteProtocol, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(remoteUnsupportedTemplate, remoteName)))
		return false
	}
}

func (execution *publishRun) commitChanges(repository repos.Repository, branchName string) bool {
	stageStart := execution.now()
	path := repository.Path
	changedPaths, statusError := execution.pipeline.manager.ChangedPaths(execution.executionContext, path)
	if statusError != nil {
		execution.record(execution.builder.Failed(ActionCommit, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(statusUnavailableTemplate, statusError)))
		return false
	}
	if len(changedPaths) == 0 {
		execution.record(execution.builder.Succeeded(ActionCommit, stageStart, cleanTreeMessage).WithBranch(branchName).WithChanged(false, nil))
		return true
	}

	verdict := execution.pipeline.guard.VerifyDirty(execution.executionContext, repository.Key, path)
	if !verdict.Allowed {
		execution.record(execution.builder.Failed(ActionCommit, stageStart, verdict.ErrorKind, verdict.Message).WithBranch(branchName).WithChanged(true, changedPaths))
		return false
	}

	addResult, addError := execution.pipeline.manager.Run(execution.executionContext, path, addSubcommandConstant, allFlagConstant)
	if failed := execution.commandFailure(ActionCommit, stageStart, actions.ErrorKindGitFailed, stageFailedMessage, addResult, addError); failed != nil {
		execution.record(*failed)
		return false
	}

	stagedResult, stagedError := execution.pipeline.manager.Run(execution.executionContext, path, diffSubcommandConstant, cachedFlagConstant, nameOnlyFlagConstant)
	if failed := execution.commandFailure(ActionCommit, stageStart, actions.ErrorKindGitFailed, stagedListFailedMessage, stagedResult, stagedError); failed != nil {
		execution.record(*failed)
		return false
	}
	stagedFiles := gitrepo.SplitLines(stagedResult.StandardOutput)
	if len(stagedFiles) == 0 {
		execution.record(execution.builder.Failed(ActionCommit, stageStart, actions.ErrorKindNothingToCommit, nothingStagedMessage).WithBranch(branchName).WithChanged(false, nil))
		return false
	}

	commitResult, commitError := execution.pipeline.manager.Run(execution.executionContext, path, commitSubcommandConstant, messageFlagConstant, execution.commitMessage())
	if failed := execution.commandFailure(ActionCommit, stageStart, actions.ErrorKindGitFailed, commitFailedMessage, commitResult, commitError); failed != nil {
		execution.record(failed.WithBranch(branchName))
		return false
	}
	execution.record(execution.builder.Succeeded(ActionCommit, stageStart, fmt.Sprintf(committedTemplate, len(stagedFiles))).
		WithBranch(branchName).
		WithChanged(true, stagedFiles).
		WithOutput(commitResult.StandardOutput, commitResult.StandardError, commitResult.ExitCode))
	return true
}

func (execution *publishRun) push(path string) bool {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	executionResult, executionError := execution.pipeline.manager.RunNetwork(execution.executionContext, path, pushSubcommandConstant, upstreamFlagConstant, remoteName, headReferenceConstant)
	if failed := execution.commandFailure(ActionPush, stageStart, actions.ErrorKindPushFailed, fmt.Sprintf(pushFailedTemplate, remoteName), executionResult, executionError); failed != nil {
		execution.record(*failed)
		return false
	}
	execution.record(execution.builder.Succeeded(ActionPush, stageStart, fmt.Sprintf(pushedTemplate, remoteName)).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode))
	return true
}

// resolveUpstream never aborts the run; it only decides which remote branch name to use.
func (execution *publishRun) resolveUpstream(path string, branchName string) string {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	executionResult, executionError := execution.pipeline.manager.Run(execution.executionContext, path, revParseSubcommandConstant, abbrevRefFlagConstant, symbolicFullNameFlag, upstreamReferenceConstant)
	if executionError != nil || !executionResult.Succeeded() {
		failure := execution.builder.Failed(ActionBranchUpstream, stageStart, actions.ErrorKindUpstreamUnavailable, fmt.Sprintf(upstreamUnavailableTemplate, branchName)).WithBranch(branchName)
		if executionError == nil {
			failure = failure.WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode)
		}
		execution.record(failure)
		return branchName
	}

	upstream := strings.TrimSpace(executionResult.StandardOutput)
	remotePrefix := fmt.Sprintf(remoteBranchPrefixTemplate, remoteName)
	switch {
	case len(upstream) == 0:
		execution.record(execution.builder.Noted(ActionBranchUpstream, stageStart, actions.ErrorKindUpstreamMissing, fmt.Sprintf(upstreamMissingTemplate, branchName)).WithBranch(branchName))
		return branchName
	case !strings.HasPrefix(upstream, remotePrefix) || len(upstream) == len(remotePrefix):
		execution.record(execution.builder.Noted(ActionBranchUpstream, stageStart, actions.ErrorKindUpstreamNonOrigin, fmt.Sprintf(upstreamNonOriginTemplate, upstream, remoteName, branchName)).WithBranch(branchName))
		return branchName
	}

	headBranch := strings.TrimPrefix(upstream, remotePrefix)
	execution.record(execution.builder.Succeeded(ActionBranchUpstream, stageStart, fmt.Sprintf(upstreamResolvedTemplate, upstream)).WithBranch(branchName).WithHead(headBranch))
	return headBranch
}

func (execution *publishRun) fetch(path string, headBranch string) bool {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	baseBranch := execution.pipeline.configuration.BaseBranch
	executionResult, executionError := execution.pipeline.manager.RunNetwork(
		execution.executionContext,
		path,
		fetchSubcommandConstant,
		remoteName,
		fmt.Sprintf(refspecTemplateConstant, baseBranch, remoteName, baseBranch),
		fmt.Sprintf(refspecTemplateConstant, headBranch, remoteName, headBranch),
	)
	if executionError != nil {
		execution.record(execution.builder.Failed(ActionFetch, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(executorErrorTemplate, fetchFailedMessage, executionError)).WithHead(headBranch))
		return false
	}
	if executionResult.Succeeded() {
		execution.record(execution.builder.Succeeded(ActionFetch, stageStart, fmt.Sprintf(fetchedTemplate, baseBranch, headBranch, remoteName)).WithHead(headBranch))
		return true
	}

	kind, message := classifyFetchFailure(executionResult.StandardError, remoteName, baseBranch, headBranch)
	execution.record(execution.builder.Failed(ActionFetch, stageStart, kind, message).
		WithHead(headBranch).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode))
	return false
}

func (execution *publishRun) precheck(path string, headBranch string) bool {
	stageStart := execution.now()
	remoteName := execution.pipeline.configuration.Remote
	baseBranch := execution.pipeline.configuration.BaseBranch
	revisionRange := fmt.Sprintf(revisionRangeTemplate, remoteName, baseBranch, remoteName, headBranch)
	executionResult, executionError := execution.pipeline.manager.Run(execution.executionContext, path, revListSubcommandConstant, countFlagConstant, revisionRange)
	if failed := execution.commandFailure(ActionPullRequestCheck, stageStart, actions.ErrorKindGitFailed, revListFailedMessage, executionResult, executionError); failed != nil {
		execution.record(failed.WithHead(headBranch))
		return false
	}

	countText := strings.TrimSpace(executionResult.StandardOutput)
	commitCount, parseError := strconv.Atoi(countText)
	if parseError != nil || commitCount < 0 {
		execution.record(execution.builder.Failed(ActionPullRequestCheck, stageStart, actions.ErrorKindGitFailed, fmt.Sprintf(revListUnparsableTemplate, countText)).WithHead(headBranch))
		return false
	}
	if commitCount == 0 {
		execution.record(execution.builder.Failed(ActionPullRequestCheck, stageStart, actions.ErrorKindNoCommits, fmt.Sprintf(noCommitsTemplate, baseBranch, headBranch)).WithHead(headBranch))
		return false
	}
	execution.record(execution.builder.Succeeded(ActionPullRequestCheck, stageStart, fmt.Sprintf(commitsAheadTemplate, commitCount, baseBranch)).WithHead(headBranch))
	return true
}

func (execution *publishRun) openPullRequest(path string, headBranch string) (string, bool) {
	stageStart := execution.now()
	baseBranch := execution.pipeline.configuration.BaseBranch
	createResult, createError := execution.pipeline.github.CreatePullRequest(execution.executionContext, path, githubcli.PullRequestRequest{
		Base:  baseBranch,
		Head:  headBranch,
		Title: execution.options.Title,
		Body:  execution.options.Body,
	})
	if createError == nil && createResult.Succeeded() {
		pullRequestURL, _ := githubcli.ExtractPullRequestURL(createResult.CombinedOutput())
		execution.record(execution.builder.Succeeded(ActionPullRequestCreate, stageStart, pullRequestCreatedMessage).
			WithHead(headBranch).
			WithPullRequest(pullRequestURL).
			WithOutput(createResult.StandardOutput, createResult.StandardError, createResult.ExitCode))
		return pullRequestURL, true
	}

	ensureStart := execution.now()
	if pullRequestURL, found := execution.pipeline.github.FindOpenPullRequestURL(execution.executionContext, path, headBranch, baseBranch); found {
		execution.record(execution.builder.Succeeded(ActionPullRequestEnsure, ensureStart, fmt.Sprintf(pullRequestAlreadyOpenTemplate, pullRequestURL)).
			WithHead(headBranch).
			WithPullRequest(pullRequestURL))
		return pullRequestURL, true
	}

	failure := execution.commandFailure(ActionPullRequestCreate, stageStart, actions.ErrorKindGitHubFailed, pullRequestFailedMessage, createResult, createError)
	if failure == nil {
		fallback := execution.builder.Failed(ActionPullRequestCreate, stageStart, actions.ErrorKindGitHubFailed, pullRequestFailedMessage)
		failure = &fallback
	}
	execution.record(failure.WithHead(headBranch))
	return "", false
}

func (execution *publishRun) commitMessage() string {
	for _, candidate := range []string{execution.options.CommitMessage, execution.options.Title} {
		if trimmed := strings.TrimSpace(candidate); len(trimmed) > 0 {
			return trimmed
		}
	}
	return execution.pipeline.configuration.CommitMessage
}

// commandFailure returns nil when the command ran and exited zero.
func (execution *publishRun) commandFailure(action string, stageStart time.Time, kind actions.ErrorKind, message string, executionResult execshell.ExecutionResult, executionError error) *actions.Result {
	if executionError != nil {
		failure := execution.builder.Failed(action, stageStart, kind, fmt.Sprintf(executorErrorTemplate, message, executionError))
		return &failure
	}
	if executionResult.Succeeded() {
		return nil
	}
	failure := execution.builder.Failed(action, stageStart, kind, message).
		WithOutput(executionResult.StandardOutput, executionResult.StandardError, executionResult.ExitCode)
	return &failure
}

func (execution *publishRun) record(result actions.Result) {
	execution.logger.Debug(stageLogMessageConstant,
		zap.String(actionLogFieldConstant, result.Action),
		zap.Bool(okLogFieldConstant, result.OK),
		zap.String(errorKindLogFieldConstant, string(result.ErrorKind)),
	)
	if execution.recorder != nil {
		execution.recorder.Record(result)
	}
}

func (execution *publishRun) now() time.Time {
	return execution.pipeline.clock.Now()
}

func classifyFetchFailure(standardError string, remoteName string, baseBranch string, headBranch string) (actions.ErrorKind, string) {
	switch {
	case mentionsMissingRemoteRef(standardError, baseBranch):
		return actions.ErrorKindBaseMissing, fmt.Sprintf(baseMissingTemplate, baseBranch, remoteName)
	case mentionsMissingRemoteRef(standardError, headBranch):
		return actions.ErrorKindHeadMissing, fmt.Sprintf(headMissingTemplate, headBranch, remoteName)
	}
	if classification := gitref.Classify(standardError); classification.Recognized() {
		return classification.ErrorKind, classification.Hint
	}
	return actions.ErrorKindGitFailed, fetchFailedMessage
}

func mentionsMissingRemoteRef(standardError string, branchName string) bool {
	for _, line := range strings.Split(standardError, "\n") {
		markerIndex := strings.Index(line, missingRemoteRefMarker)
		if markerIndex < 0 {
			continue
		}
		missingRef := strings.TrimSpace(line[markerIndex+len(missingRemoteRefMarker):])
		if missingRef == branchName || missingRef == localBranchRefPrefix+branchName {
			return true
		}
	}
	return false
}
