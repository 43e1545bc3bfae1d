package actionlog_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/temirov/acs/internal/actionlog"
	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/redaction"
)

type manualClock struct {
	now time.Time
}

func (clock *manualClock) Now() time.Time {
	return clock.now
}

func readEntries(testInstance *testing.T, filePath string) []actions.Result {
	testInstance.Helper()
	file, openError := os.Open(filePath)
	require.NoError(testInstance, openError)
	defer file.Close()

	var entries []actions.Result
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry actions.Result
		require.NoError(testInstance, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	require.NoError(testInstance, scanner.Err())
	return entries
}

func TestNewWriterValidation(testInstance *testing.T) {
	redactor := redaction.NewRedactor(nil)
	_, creationError := actionlog.NewWriter(nil, testInstance.TempDir(), redactor)
	require.ErrorIs(testInstance, creationError, actionlog.ErrLoggerNotConfigured)
	_, creationError = actionlog.NewWriter(zap.NewNop(), "", redactor)
	require.ErrorIs(testInstance, creationError, actionlog.ErrDirectoryNotConfigured)
	_, creationError = actionlog.NewWriter(zap.NewNop(), testInstance.TempDir(), nil)
	require.ErrorIs(testInstance, creationError, actionlog.ErrRedactorNotConfigured)
}

func TestWriterAppendsRedactedEntriesPerDay(testInstance *testing.T) {
	directory := filepath.Join(testInstance.TempDir(), "state", "agent-control-surface")
	clock := &manualClock{now: time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)}
	writer, creationError := actionlog.NewWriter(zap.NewNop(), directory, redaction.NewRedactor([]string{"hunter22"}), actionlog.WithClock(clock.Now))
	require.NoError(testInstance, creationError)
	defer func() { require.NoError(testInstance, writer.Close()) }()

	writer.Log(actions.Result{OK: true, Action: "git.push", Repo: "metarepo", Stdout: "pushed with hunter22"})
	writer.Log(actions.Result{OK: false, Action: "git.commit", Repo: "metarepo", Message: "token=abcdef"})
	clock.now = clock.now.Add(2 * time.Minute)
	writer.Log(actions.Result{OK: true, Action: "git.publish", Repo: "metarepo"})

	firstDay := readEntries(testInstance, filepath.Join(directory, "2024-05-01.jsonl"))
	require.Len(testInstance, firstDay, 2)
	require.Equal(testInstance, "pushed with "+redaction.Marker, firstDay[0].Stdout)
	require.Equal(testInstance, "token="+redaction.Marker, firstDay[1].Message)

	secondDay := readEntries(testInstance, filepath.Join(directory, "2024-05-02.jsonl"))
	require.Len(testInstance, secondDay, 1)
	require.Equal(testInstance, "git.publish", secondDay[0].Action)
	require.Equal(testInstance, filepath.Join(directory, "2024-05-02.jsonl"), writer.Path())
}

func TestWriterDropsEntryAfterRetries(testInstance *testing.T) {
	directory := testInstance.TempDir()
	observedCore, observedLogs := observer.New(zap.WarnLevel)
	writer, creationError := actionlog.NewWriter(zap.New(observedCore), directory, redaction.NewRedactor(nil),
		actionlog.WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1) }))
	require.NoError(testInstance, creationError)

	blockingPath := writer.Path()
	require.NoError(testInstance, os.MkdirAll(blockingPath, 0o700))

	require.NotPanics(testInstance, func() {
		writer.Log(actions.Result{OK: true, Action: "git.push"})
	})
	require.Equal(testInstance, 1, observedLogs.FilterMessage("action log entry dropped").Len())
	require.NoError(testInstance, writer.Close())
}

func TestNilWriterIsNoop(testInstance *testing.T) {
	var writer *actionlog.Writer
	require.NotPanics(testInstance, func() {
		writer.Log(actions.Result{Action: "noop"})
	})
	require.NoError(testInstance, writer.Close())
}
