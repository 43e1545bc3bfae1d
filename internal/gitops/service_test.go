package gitops_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/gitops"
	"github.com/temirov/acs/internal/gitrepo"
	"github.com/temirov/acs/internal/repos"
)

const (
	testRepositoryKeyConstant  = "metarepo"
	testRepositoryPathConstant = "/tmp/metarepo"
	testCorrelationIDConstant  = "corr-1"
	testStatusKeyConstant      = "status --porcelain=v2 --branch"
	testChangedKeyConstant     = "status --porcelain"
	testFeatureStatusConstant  = "# branch.oid abc123\n# branch.head feature/x\n"
	testMainStatusConstant     = "# branch.oid abc123\n# branch.head main\n"
	testPatchConstant          = "diff --git a/f b/f\n--- a/f\n+++ b/f\n@@ -1 +1 @@\n-old\n+new"
)

type scriptedGitExecutor struct {
	responses       map[string]execshell.ExecutionResult
	recordedDetails []execshell.CommandDetails
}

func newScriptedGitExecutor(statusOutput string) *scriptedGitExecutor {
	return &scriptedGitExecutor{responses: map[string]execshell.ExecutionResult{
		testStatusKeyConstant: {StandardOutput: statusOutput},
	}}
}

func (executor *scriptedGitExecutor) ExecuteGit(_ context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error) {
	executor.recordedDetails = append(executor.recordedDetails, details)
	return executor.responses[strings.Join(details.Arguments, " ")], nil
}

func (executor *scriptedGitExecutor) commands() []string {
	commands := make([]string, 0, len(executor.recordedDetails))
	for _, details := range executor.recordedDetails {
		commands = append(commands, strings.Join(details.Arguments, " "))
	}
	return commands
}

type stubApplyRecorder struct {
	recordError error
	sessions    []string
}

func (recorder *stubApplyRecorder) RecordCurrent(_ context.Context, _ string, _ string, sessionID string) (string, error) {
	recorder.sessions = append(recorder.sessions, sessionID)
	return "signature", recorder.recordError
}

type stubResolver struct{}

func (stubResolver) Lookup(key string) (repos.Repository, error) {
	if key != testRepositoryKeyConstant {
		return repos.Repository{}, repos.UnknownRepositoryError{Key: key}
	}
	return repos.Repository{Key: key, Path: testRepositoryPathConstant, Display: key}, nil
}

func newService(testInstance *testing.T, executor *scriptedGitExecutor, recorder *stubApplyRecorder) *gitops.Service {
	testInstance.Helper()
	service, creationError := gitops.NewService(gitops.Dependencies{
		Logger:        zap.NewNop(),
		Repositories:  stubResolver{},
		GitExecutor:   executor,
		ApplyRecorder: recorder,
		Timeouts:      gitrepo.Timeouts{Local: time.Second, Network: 2 * time.Second},
	})
	require.NoError(testInstance, creationError)
	return service
}

func TestNewServiceValidation(testInstance *testing.T) {
	_, creationError := gitops.NewService(gitops.Dependencies{})
	require.ErrorIs(testInstance, creationError, gitops.ErrLoggerNotConfigured)

	_, creationError = gitops.NewService(gitops.Dependencies{Logger: zap.NewNop(), Repositories: stubResolver{}, GitExecutor: &scriptedGitExecutor{}})
	require.ErrorIs(testInstance, creationError, gitops.ErrApplyRecorderNotConfigured)
}

func TestApplyPatch(testInstance *testing.T) {
	testCases := []struct {
		name             string
		statusOutput     string
		patch            string
		threeWay         bool
		checkResult      execshell.ExecutionResult
		changedOutput    string
		recordError      error
		expectedOK       bool
		expectedKind     actions.ErrorKind
		expectedCommands []string
	}{
		{
			name:          "applied",
			statusOutput:  testFeatureStatusConstant,
			patch:         testPatchConstant,
			changedOutput: " M f\n",
			expectedOK:    true,
			expectedCommands: []string{
				testStatusKeyConstant,
				"apply --check -",
				"apply -",
				testChangedKeyConstant,
			},
		},
		{
			name:          "three_way",
			statusOutput:  testFeatureStatusConstant,
			patch:         testPatchConstant,
			threeWay:      true,
			changedOutput: " M f\n",
			expectedOK:    true,
			expectedCommands: []string{
				testStatusKeyConstant,
				"apply --check --3way -",
				"apply --3way -",
				testChangedKeyConstant,
			},
		},
		{
			name:             "empty_patch",
			statusOutput:     testFeatureStatusConstant,
			patch:            "  \n",
			expectedKind:     actions.ErrorKindInvalidInput,
			expectedCommands: []string{testStatusKeyConstant},
		},
		{
			name:             "protected_branch",
			statusOutput:     testMainStatusConstant,
			patch:            testPatchConstant,
			expectedKind:     actions.ErrorKindBranchGuard,
			expectedCommands: []string{testStatusKeyConstant},
		},
		{
			name:             "check_conflict",
			statusOutput:     testFeatureStatusConstant,
			patch:            testPatchConstant,
			checkResult:      execshell.ExecutionResult{ExitCode: 1, StandardError: "error: patch failed: f:1"},
			expectedKind:     actions.ErrorKindConflict,
			expectedCommands: []string{testStatusKeyConstant, "apply --check -"},
		},
		{
			name:         "no_changes",
			statusOutput: testFeatureStatusConstant,
			patch:        testPatchConstant,
			expectedKind: actions.ErrorKindConflict,
			expectedCommands: []string{
				testStatusKeyConstant,
				"apply --check -",
				"apply -",
				testChangedKeyConstant,
			},
		},
		{
			name:          "record_failure",
			statusOutput:  testFeatureStatusConstant,
			patch:         testPatchConstant,
			changedOutput: " M f\n",
			recordError:   errors.New("diff failed"),
			expectedKind:  actions.ErrorKindGitFailed,
			expectedCommands: []string{
				testStatusKeyConstant,
				"apply --check -",
				"apply -",
				testChangedKeyConstant,
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := newScriptedGitExecutor(testCase.statusOutput)
			executor.responses["apply --check -"] = testCase.checkResult
			executor.responses[testChangedKeyConstant] = execshell.ExecutionResult{StandardOutput: testCase.changedOutput}
			recorder := &stubApplyRecorder{recordError: testCase.recordError}
			service := newService(testInstance, executor, recorder)

			result := service.ApplyPatch(context.Background(), testCorrelationIDConstant, gitops.PatchRequest{
				Repo:      testRepositoryKeyConstant,
				Patch:     testCase.patch,
				ThreeWay:  testCase.threeWay,
				SessionID: "session-9",
			})

			require.Equal(testInstance, testCase.expectedOK, result.OK)
			require.Equal(testInstance, testCase.expectedKind, result.ErrorKind)
			require.Equal(testInstance, gitops.ActionApplyPatch, result.Action)
			require.Equal(testInstance, testCorrelationIDConstant, result.CorrelationID)
			require.Equal(testInstance, testCase.expectedCommands, executor.commands())
			if testCase.expectedOK {
				require.Equal(testInstance, []string{"session-9"}, recorder.sessions)
				require.Equal(testInstance, []string{"f"}, result.Files)
				require.Equal(testInstance, []byte(testPatchConstant+"\n"), executor.recordedDetails[1].StandardInput)
			}
		})
	}
}

func TestCreateBranch(testInstance *testing.T) {
	executor := newScriptedGitExecutor(testFeatureStatusConstant)
	service := newService(testInstance, executor, &stubApplyRecorder{})

	result := service.CreateBranch(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant, "feature/new")
	require.True(testInstance, result.OK)
	require.Equal(testInstance, "feature/new", result.Branch)
	require.Equal(testInstance, []string{"checkout -b feature/new"}, executor.commands())

	invalid := service.CreateBranch(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant, "has space")
	require.False(testInstance, invalid.OK)
	require.Equal(testInstance, actions.ErrorKindInvalidInput, invalid.ErrorKind)
	require.Len(testInstance, executor.recordedDetails, 1)

	unknown := service.CreateBranch(context.Background(), testCorrelationIDConstant, "other", "feature/new")
	require.Equal(testInstance, actions.ErrorKindInvalidRepo, unknown.ErrorKind)
}

func TestCommit(testInstance *testing.T) {
	testCases := []struct {
		name         string
		message      string
		commitResult execshell.ExecutionResult
		expectedOK   bool
		expectedKind actions.ErrorKind
	}{
		{name: "committed", message: "Fix bug", commitResult: execshell.ExecutionResult{StandardOutput: "[feature/x abc] Fix bug"}, expectedOK: true},
		{name: "empty_message", message: "   ", expectedKind: actions.ErrorKindInvalidInput},
		{name: "nothing_to_commit", message: "Fix bug", commitResult: execshell.ExecutionResult{ExitCode: 1, StandardOutput: "nothing to commit, working tree clean"}, expectedKind: actions.ErrorKindNothingToCommit},
		{name: "hook_failure", message: "Fix bug", commitResult: execshell.ExecutionResult{ExitCode: 1, StandardError: "pre-commit hook failed"}, expectedKind: actions.ErrorKindGitFailed},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := newScriptedGitExecutor(testFeatureStatusConstant)
			executor.responses["commit -m Fix bug"] = testCase.commitResult
			service := newService(testInstance, executor, &stubApplyRecorder{})

			result := service.Commit(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant, testCase.message)
			require.Equal(testInstance, testCase.expectedOK, result.OK)
			require.Equal(testInstance, testCase.expectedKind, result.ErrorKind)
			if testCase.expectedKind == actions.ErrorKindInvalidInput {
				require.Equal(testInstance, []string{testStatusKeyConstant}, executor.commands())
				return
			}
			require.Equal(testInstance, []string{testStatusKeyConstant, "add -A", "commit -m Fix bug"}, executor.commands())
		})
	}
}

func TestPushUsesNetworkTimeout(testInstance *testing.T) {
	executor := newScriptedGitExecutor(testFeatureStatusConstant)
	service := newService(testInstance, executor, &stubApplyRecorder{})

	result := service.Push(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
	require.True(testInstance, result.OK)
	require.Equal(testInstance, []string{testStatusKeyConstant, "push -u origin HEAD"}, executor.commands())
	require.Equal(testInstance, 2*time.Second, executor.recordedDetails[1].Timeout)

	executor.responses["push -u origin HEAD"] = execshell.ExecutionResult{ExitCode: 1, StandardError: "rejected"}
	failed := service.Push(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
	require.Equal(testInstance, actions.ErrorKindPushFailed, failed.ErrorKind)
	require.Equal(testInstance, "rejected", failed.Stderr)

	executor.responses[testStatusKeyConstant] = execshell.ExecutionResult{StandardOutput: testMainStatusConstant}
	guarded := service.Push(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
	require.Equal(testInstance, actions.ErrorKindBranchGuard, guarded.ErrorKind)
}

func TestStateAndPullRequestHint(testInstance *testing.T) {
	testCases := []struct {
		name            string
		statusOutput    string
		expectedBranch  string
		expectedHead    string
		expectedMessage string
	}{
		{name: "feature", statusOutput: testFeatureStatusConstant, expectedBranch: "feature/x", expectedHead: "abc123", expectedMessage: "gh pr create --fill"},
		{name: "main", statusOutput: testMainStatusConstant, expectedBranch: "main", expectedHead: "abc123", expectedMessage: "Create a feature branch first"},
		{name: "detached", statusOutput: "# branch.oid abc123\n# branch.head (detached)\n", expectedBranch: gitrepo.DetachedHead, expectedHead: "abc123", expectedMessage: "Create a feature branch first"},
		{name: "initial", statusOutput: "# branch.oid (initial)\n# branch.head feature/x\n", expectedBranch: "feature/x", expectedMessage: "gh pr create --fill"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			service := newService(testInstance, newScriptedGitExecutor(testCase.statusOutput), &stubApplyRecorder{})

			state := service.State(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
			require.True(testInstance, state.OK)
			require.Equal(testInstance, testCase.expectedBranch, state.Branch)
			require.Equal(testInstance, testCase.expectedHead, state.Head)

			hint := service.PullRequestHint(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
			require.True(testInstance, hint.OK)
			require.Contains(testInstance, hint.Message, testCase.expectedMessage)
		})
	}
}

func TestStateFailure(testInstance *testing.T) {
	executor := &scriptedGitExecutor{responses: map[string]execshell.ExecutionResult{
		testStatusKeyConstant: {ExitCode: 128, StandardError: "fatal: not a git repository"},
	}}
	service := newService(testInstance, executor, &stubApplyRecorder{})

	result := service.State(context.Background(), testCorrelationIDConstant, testRepositoryKeyConstant)
	require.False(testInstance, result.OK)
	require.Equal(testInstance, actions.ErrorKindGitFailed, result.ErrorKind)
	require.Contains(testInstance, result.Message, "not a git repository")
}
