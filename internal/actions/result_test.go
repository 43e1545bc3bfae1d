package actions_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/acs/internal/actions"
)

type fixedClock struct {
	instant time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.instant
}

func TestHTTPStatus(testInstance *testing.T) {
	testCases := []struct {
		name     string
		result   actions.Result
		expected int
	}{
		{name: "ok", result: actions.Result{OK: true}, expected: http.StatusOK},
		{name: "ok_with_diagnostic_kind", result: actions.Result{OK: true, ErrorKind: actions.ErrorKindUpstreamMissing}, expected: http.StatusOK},
		{name: "invalid_repo", result: actions.Result{ErrorKind: actions.ErrorKindInvalidRepo}, expected: http.StatusBadRequest},
		{name: "invalid_input", result: actions.Result{ErrorKind: actions.ErrorKindInvalidInput}, expected: http.StatusBadRequest},
		{name: "branch_guard", result: actions.Result{ErrorKind: actions.ErrorKindBranchGuard}, expected: http.StatusConflict},
		{name: "nothing_to_commit", result: actions.Result{ErrorKind: actions.ErrorKindNothingToCommit}, expected: http.StatusConflict},
		{name: "conflict", result: actions.Result{ErrorKind: actions.ErrorKindConflict}, expected: http.StatusConflict},
		{name: "push_failed", result: actions.Result{ErrorKind: actions.ErrorKindPushFailed}, expected: http.StatusConflict},
		{name: "internal", result: actions.Result{ErrorKind: actions.ErrorKindInternal}, expected: http.StatusInternalServerError},
		{name: "untagged_failure", result: actions.Result{}, expected: http.StatusInternalServerError},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expected, actions.HTTPStatus(testCase.result))
		})
	}
}

func TestBuilderStampsDurationAndCorrelation(testInstance *testing.T) {
	startedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	builder := actions.Builder{Repo: "metarepo", CorrelationID: "corr-1", Clock: fixedClock{instant: startedAt.Add(1500 * time.Millisecond)}}

	succeeded := builder.Succeeded("git.push", startedAt, "pushed")
	require.True(testInstance, succeeded.OK)
	require.Equal(testInstance, int64(1500), succeeded.DurationMilli)
	require.Equal(testInstance, "corr-1", succeeded.CorrelationID)
	require.Equal(testInstance, "metarepo", succeeded.Repo)
	require.Equal(testInstance, "2024-05-01T10:00:01.5Z", succeeded.Timestamp)

	failed := builder.Failed("git.push", time.Time{}, actions.ErrorKindPushFailed, "rejected")
	require.False(testInstance, failed.OK)
	require.Equal(testInstance, actions.ErrorKindPushFailed, failed.ErrorKind)
	require.Zero(testInstance, failed.DurationMilli)

	noted := builder.Noted("git.branch.upstream", startedAt, actions.ErrorKindUpstreamMissing, "No upstream configured")
	require.True(testInstance, noted.OK)
	require.Equal(testInstance, actions.ErrorKindUpstreamMissing, noted.ErrorKind)
}

func TestMapStringsLeavesOriginalUntouched(testInstance *testing.T) {
	original := actions.NewBuilder("repo", "corr-secret").
		Succeeded("git.commit", time.Now(), "secret message").
		WithOutput("secret out", "secret err", 0).
		WithChanged(true, []string{"secret.txt"})

	mapped := original.MapStrings(func(text string) string {
		return strings.ReplaceAll(text, "secret", "[redacted]")
	})

	require.Equal(testInstance, "[redacted] message", mapped.Message)
	require.Equal(testInstance, "[redacted] out", mapped.Stdout)
	require.Equal(testInstance, "[redacted] err", mapped.Stderr)
	require.Equal(testInstance, []string{"[redacted].txt"}, mapped.Files)
	require.Equal(testInstance, "corr-[redacted]", mapped.CorrelationID)
	require.Equal(testInstance, "repo", mapped.Repo)
	require.Equal(testInstance, "secret message", original.Message)
	require.Equal(testInstance, "corr-secret", original.CorrelationID)
	require.Equal(testInstance, []string{"secret.txt"}, original.Files)
	require.NotSame(testInstance, original.ExitCode, mapped.ExitCode)
}
