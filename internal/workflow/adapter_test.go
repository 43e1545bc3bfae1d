package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/acs/internal/confirm"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/redaction"
	"github.com/temirov/acs/internal/repos"
	"github.com/temirov/acs/internal/workflow"
)

const (
	testRepositoryKeyConstant = "metarepo"
	testCorrelationIDConstant = "corr-42"
	testRoutineIDConstant     = "git.repair.remote-refs"
	testAuditJSONConstant     = `{
  "kind": "audit.git",
  "schema_version": "v1",
  "ts": "2024-05-01T12:00:00Z",
  "repo": "metarepo",
  "cwd": "/tmp/metarepo",
  "status": "warn",
  "facts": {"head_sha": "abc", "head_ref": "main", "is_detached_head": false, "local_branch": "main", "upstream": null, "remotes": ["origin"], "remote_default_branch": "main", "remote_refs": {"origin/main": true}, "working_tree": {"dirty": false}, "ahead_behind": {"ahead": 0, "behind": 1}},
  "checks": [{"id": "upstream", "status": "warn", "message": "behind by 1"}],
  "uncertainty": {"level": 0.1, "causes": [], "meta": "productive"},
  "suggested_routines": [{"id": "git.repair.remote-refs", "risk": "low", "mutating": true, "dry_run_supported": true, "reason": "stale refs"}],
  "correlation_id": "tool-generated"
}`
)

type scriptedWorkflowExecutor struct {
	responses      map[string]execshell.ExecutionResult
	executorError  error
	recordedCommands []execshell.ShellCommand
}

func (executor *scriptedWorkflowExecutor) Execute(_ context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	executor.recordedCommands = append(executor.recordedCommands, command)
	if executor.executorError != nil {
		return execshell.ExecutionResult{}, executor.executorError
	}
	return executor.responses[strings.Join(command.Details.Arguments, " ")], nil
}

func newAdapter(testInstance *testing.T, executor *scriptedWorkflowExecutor, tokens *confirm.Store) *workflow.Adapter {
	testInstance.Helper()
	adapter, creationError := workflow.NewAdapter(workflow.Dependencies{
		Logger:   zap.NewNop(),
		Executor: executor,
		Redactor: redaction.NewRedactor([]string{"super-secret-value"}),
		Tokens:   tokens,
	}, workflow.DefaultConfiguration())
	require.NoError(testInstance, creationError)
	return adapter
}

func newRepository(testInstance *testing.T) repos.Repository {
	testInstance.Helper()
	return repos.Repository{Key: testRepositoryKeyConstant, Path: testInstance.TempDir(), Display: testRepositoryKeyConstant}
}

func writeOutputFile(testInstance *testing.T, repository repos.Repository, name string, contents string) string {
	testInstance.Helper()
	outputDirectory := filepath.Join(repository.Path, ".wgx", "out")
	require.NoError(testInstance, os.MkdirAll(outputDirectory, 0o755))
	path := filepath.Join(outputDirectory, name)
	require.NoError(testInstance, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestNewAdapterValidation(testInstance *testing.T) {
	_, creationError := workflow.NewAdapter(workflow.Dependencies{}, workflow.Configuration{})
	require.ErrorIs(testInstance, creationError, workflow.ErrLoggerNotConfigured)

	_, creationError = workflow.NewAdapter(workflow.Dependencies{Logger: zap.NewNop(), Executor: &scriptedWorkflowExecutor{}, Redactor: redaction.NewRedactor(nil)}, workflow.Configuration{})
	require.ErrorIs(testInstance, creationError, workflow.ErrTokenStoreNotConfigured)
}

func TestRunAuditFromNoisyStdout(testInstance *testing.T) {
	executor := &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
		"audit git --repo metarepo --correlation-id corr-42 --stdout-json": {
			StandardOutput: "wgx: collecting facts\n" + testAuditJSONConstant + "\nwgx: done\n",
			ExitCode:       1,
		},
	}}
	adapter := newAdapter(testInstance, executor, confirm.NewStore(confirm.DefaultTokenTTL))
	repository := newRepository(testInstance)

	audit, auditError := adapter.RunAudit(context.Background(), repository, testCorrelationIDConstant)
	require.NoError(testInstance, auditError)
	require.Equal(testInstance, testCorrelationIDConstant, audit.CorrelationID)
	require.Equal(testInstance, "warn", audit.Status)
	require.Equal(testInstance, 1, *audit.ExitCode)
	require.Len(testInstance, audit.SuggestedRoutines, 1)
	require.Len(testInstance, executor.recordedCommands, 1)
	require.Equal(testInstance, execshell.CommandName("wgx"), executor.recordedCommands[0].Name)
	require.Equal(testInstance, repository.Path, executor.recordedCommands[0].Details.WorkingDirectory)
	require.Equal(testInstance, 60*time.Second, executor.recordedCommands[0].Details.Timeout)
}

func TestRunAuditFallsBackToFileMode(testInstance *testing.T) {
	testCases := []struct {
		name          string
		files         map[string]string
		expectedError bool
	}{
		{
			name:  "correlation_specific_file",
			files: map[string]string{"audit.git.v1.corr-42.json": testAuditJSONConstant, "audit.git.v1.json": "{broken"},
		},
		{
			name:  "generic_file",
			files: map[string]string{"audit.git.v1.json": testAuditJSONConstant},
		},
		{
			name:          "nothing_found",
			expectedError: true,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
				"audit git --repo metarepo --correlation-id corr-42 --stdout-json": {StandardOutput: "unknown flag --stdout-json", ExitCode: 2},
				"audit git --repo metarepo --correlation-id corr-42":               {StandardOutput: "audit written\nsuper-secret-value", StandardError: "warn: slow\nremote"},
			}}
			adapter := newAdapter(testInstance, executor, confirm.NewStore(confirm.DefaultTokenTTL))
			repository := newRepository(testInstance)
			for name, contents := range testCase.files {
				writeOutputFile(testInstance, repository, name, contents)
			}

			audit, auditError := adapter.RunAudit(context.Background(), repository, testCorrelationIDConstant)
			require.Len(testInstance, executor.recordedCommands, 2)
			if testCase.expectedError {
				var extractionError workflow.ExtractionError
				require.ErrorAs(testInstance, auditError, &extractionError)
				require.Contains(testInstance, extractionError.Details, `stdout='audit written\n[redacted]'`)
				require.NotContains(testInstance, auditError.Error(), "super-secret-value")
				require.Contains(testInstance, auditError.Error(), `stderr='warn: slow\nremote'`)
				return
			}
			require.NoError(testInstance, auditError)
			require.Equal(testInstance, testCorrelationIDConstant, audit.CorrelationID)
		})
	}
}

func TestRunAuditErrors(testInstance *testing.T) {
	failure := errors.New("executable file not found")
	executor := &scriptedWorkflowExecutor{executorError: failure}
	adapter := newAdapter(testInstance, executor, confirm.NewStore(confirm.DefaultTokenTTL))

	_, auditError := adapter.RunAudit(context.Background(), newRepository(testInstance), testCorrelationIDConstant)
	require.ErrorIs(testInstance, auditError, failure)
	require.Len(testInstance, executor.recordedCommands, 1)

	executor = &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
		"audit git --repo metarepo --correlation-id corr-42 --stdout-json": {StandardOutput: "boom", ExitCode: 3},
		"audit git --repo metarepo --correlation-id corr-42":               {StandardOutput: "boom", ExitCode: 3},
	}}
	adapter = newAdapter(testInstance, executor, confirm.NewStore(confirm.DefaultTokenTTL))
	_, auditError = adapter.RunAudit(context.Background(), newRepository(testInstance), testCorrelationIDConstant)
	var toolError workflow.ToolFailedError
	require.ErrorAs(testInstance, auditError, &toolError)
	require.Equal(testInstance, 3, toolError.ExitCode)
	require.Contains(testInstance, auditError.Error(), "workflow tool failed (code 3) and no JSON output found")

	executor = &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
		"audit git --repo metarepo --correlation-id corr-42 --stdout-json": {StandardOutput: `{"kind": "audit.git", "status": "fine"}`},
	}}
	adapter = newAdapter(testInstance, executor, confirm.NewStore(confirm.DefaultTokenTTL))
	_, auditError = adapter.RunAudit(context.Background(), newRepository(testInstance), testCorrelationIDConstant)
	require.IsType(testInstance, workflow.ValidationError{}, auditError)
}

func TestLatestAuditArtifact(testInstance *testing.T) {
	adapter := newAdapter(testInstance, &scriptedWorkflowExecutor{}, confirm.NewStore(confirm.DefaultTokenTTL))
	repository := newRepository(testInstance)

	_, found := adapter.LatestAuditArtifact(repository, "")
	require.False(testInstance, found)

	older := strings.Replace(testAuditJSONConstant, `"status": "warn"`, `"status": "ok"`, 1)
	olderPath := writeOutputFile(testInstance, repository, "audit.git.v1.old.json", older)
	newerPath := writeOutputFile(testInstance, repository, "audit.git.v1.new.json", testAuditJSONConstant)
	genericPath := writeOutputFile(testInstance, repository, "audit.git.v1.json", strings.Replace(testAuditJSONConstant, `"status": "warn"`, `"status": "error"`, 1))
	writeOutputFile(testInstance, repository, "unrelated.json", testAuditJSONConstant)

	baseTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(testInstance, os.Chtimes(olderPath, baseTime, baseTime))
	require.NoError(testInstance, os.Chtimes(newerPath, baseTime.Add(time.Minute), baseTime.Add(time.Minute)))
	require.NoError(testInstance, os.Chtimes(genericPath, baseTime.Add(time.Hour), baseTime.Add(time.Hour)))

	audit, found := adapter.LatestAuditArtifact(repository, "")
	require.True(testInstance, found)
	require.Equal(testInstance, "warn", audit.Status)

	_, found = adapter.LatestAuditArtifact(repository, "other-repo")
	require.False(testInstance, found)

	require.NoError(testInstance, os.Remove(olderPath))
	require.NoError(testInstance, os.Remove(newerPath))
	audit, found = adapter.LatestAuditArtifact(repository, testRepositoryKeyConstant)
	require.True(testInstance, found)
	require.Equal(testInstance, "error", audit.Status)
}

func TestRoutinePreviewAndApply(testInstance *testing.T) {
	executor := &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
		"routine git.repair.remote-refs preview": {StandardOutput: `{"steps": ["prune"], "mutating": true}`},
		"routine git.repair.remote-refs apply":   {StandardOutput: `{"ok": true, "applied": 1}`},
	}}
	tokens := confirm.NewStore(confirm.DefaultTokenTTL)
	adapter := newAdapter(testInstance, executor, tokens)
	repository := newRepository(testInstance)

	preview, previewError := adapter.PreviewRoutine(context.Background(), repository, testRoutineIDConstant)
	require.NoError(testInstance, previewError)
	require.NotEmpty(testInstance, preview.ConfirmToken)
	expectedHash, hashError := workflow.PreviewHash(preview.Preview)
	require.NoError(testInstance, hashError)
	require.Equal(testInstance, expectedHash, preview.PreviewHash)
	previewObject, isObject := preview.Preview.(map[string]any)
	require.True(testInstance, isObject)
	require.Equal(testInstance, 0, previewObject["_exit_code"])

	_, applyError := adapter.ApplyRoutine(context.Background(), repository, testRoutineIDConstant, preview.ConfirmToken, "different-hash")
	require.ErrorIs(testInstance, applyError, workflow.ErrConfirmationRejected)

	preview, previewError = adapter.PreviewRoutine(context.Background(), repository, testRoutineIDConstant)
	require.NoError(testInstance, previewError)
	result, applyError := adapter.ApplyRoutine(context.Background(), repository, testRoutineIDConstant, preview.ConfirmToken, preview.PreviewHash)
	require.NoError(testInstance, applyError)
	reported, present := result.Reported()
	require.True(testInstance, present)
	require.True(testInstance, reported)
	require.Equal(testInstance, 300*time.Second, executor.recordedCommands[len(executor.recordedCommands)-1].Details.Timeout)

	_, replayError := adapter.ApplyRoutine(context.Background(), repository, testRoutineIDConstant, preview.ConfirmToken, preview.PreviewHash)
	require.ErrorIs(testInstance, replayError, workflow.ErrConfirmationRejected)
}

func TestApplyRoutineExitCodeRules(testInstance *testing.T) {
	testCases := []struct {
		name           string
		applyResult    execshell.ExecutionResult
		fallbackResult string
		expectError    bool
		expectedOK     bool
		expectPresent  bool
	}{
		{
			name:          "failure_with_ok_field",
			applyResult:   execshell.ExecutionResult{StandardOutput: `{"ok": false, "reason": "dirty"}`, ExitCode: 1},
			expectPresent: true,
		},
		{
			name:        "failure_without_ok_field",
			applyResult: execshell.ExecutionResult{StandardOutput: `{"reason": "dirty"}`, ExitCode: 1},
			expectError: true,
		},
		{
			name:           "result_file_fallback",
			applyResult:    execshell.ExecutionResult{StandardOutput: "applied"},
			fallbackResult: `{"ok": true}`,
			expectedOK:     true,
			expectPresent:  true,
		},
		{
			name:        "success_without_ok_field",
			applyResult: execshell.ExecutionResult{StandardOutput: `{"applied": 2}`},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			executor := &scriptedWorkflowExecutor{responses: map[string]execshell.ExecutionResult{
				"routine git.repair.remote-refs apply": testCase.applyResult,
			}}
			tokens := confirm.NewStore(confirm.DefaultTokenTTL)
			adapter := newAdapter(testInstance, executor, tokens)
			repository := newRepository(testInstance)
			if len(testCase.fallbackResult) > 0 {
				writeOutputFile(testInstance, repository, "routine.result.json", testCase.fallbackResult)
			}
			token := tokens.Create(confirm.Subject{Repo: testRepositoryKeyConstant, RoutineID: testRoutineIDConstant})

			result, applyError := adapter.ApplyRoutine(context.Background(), repository, testRoutineIDConstant, token, "")
			if testCase.expectError {
				require.IsType(testInstance, workflow.RoutineResultError{}, applyError)
				return
			}
			require.NoError(testInstance, applyError)
			reported, present := result.Reported()
			require.Equal(testInstance, testCase.expectPresent, present)
			require.Equal(testInstance, testCase.expectedOK, reported)
			require.Equal(testInstance, testCase.applyResult.ExitCode, result.ExitCode)
		})
	}
}

func TestRoutineIDValidation(testInstance *testing.T) {
	adapter := newAdapter(testInstance, &scriptedWorkflowExecutor{}, confirm.NewStore(confirm.DefaultTokenTTL))
	repository := newRepository(testInstance)

	for _, routineID := range []string{"", "Upper", "-leading", "has space", "../escape", strings.Repeat("a", 65)} {
		_, previewError := adapter.PreviewRoutine(context.Background(), repository, routineID)
		require.IsType(testInstance, workflow.InvalidRoutineError{}, previewError, routineID)
		_, applyError := adapter.ApplyRoutine(context.Background(), repository, routineID, "token", "hash")
		require.IsType(testInstance, workflow.InvalidRoutineError{}, applyError, routineID)
	}
	require.True(testInstance, workflow.ValidRoutineID("git.repair_2-b"))
}
