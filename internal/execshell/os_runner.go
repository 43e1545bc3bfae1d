package execshell

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"time"
)

const (
	environmentAssignmentSeparatorConstant = "="
	pipeDrainDelayConstant                 = 5 * time.Second
)

// nonInteractiveEnvironment stops git and gh from waiting on a terminal
// prompt that nobody will answer.
var nonInteractiveEnvironment = map[string]string{
	"GH_NO_UPDATE_NOTIFIER": "1",
	"GH_PROMPT_DISABLED":    "1",
	"GIT_PAGER":             "cat",
	"GIT_TERMINAL_PROMPT":   "0",
}

// OSCommandRunner executes commands with os/exec.
type OSCommandRunner struct {
	baseEnvironment func() []string
}

// NewOSCommandRunner constructs a runner that inherits the process environment.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{baseEnvironment: os.Environ}
}

// Run starts the process, feeds standard input when present, and waits for it
// to exit. Exit failures are reported through ExecutionResult.ExitCode; only a
// process that could not start or was cancelled returns an error.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executable := exec.CommandContext(executionContext, string(command.Name), append([]string{}, command.Details.Arguments...)...)
	executable.Dir = command.Details.WorkingDirectory
	executable.Env = runner.environment(command.Details.EnvironmentVariables)
	executable.WaitDelay = pipeDrainDelayConstant

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executable.Stdout = &standardOutputBuffer
	executable.Stderr = &standardErrorBuffer
	if command.Details.StandardInput != nil {
		executable.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	runError := executable.Run()
	if contextError := executionContext.Err(); contextError != nil {
		return ExecutionResult{}, contextError
	}

	result := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}
	if runError == nil {
		return result, nil
	}
	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return ExecutionResult{}, runError
}

// environment layers the non-interactive settings and then the command's own
// variables over the inherited environment. Later entries win.
func (runner *OSCommandRunner) environment(overrides map[string]string) []string {
	baseEnvironment := os.Environ
	if runner != nil && runner.baseEnvironment != nil {
		baseEnvironment = runner.baseEnvironment
	}
	merged := append([]string{}, baseEnvironment()...)
	for _, layer := range []map[string]string{nonInteractiveEnvironment, overrides} {
		keys := make([]string, 0, len(layer))
		for key := range layer {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			merged = append(merged, key+environmentAssignmentSeparatorConstant+layer[key])
		}
	}
	return merged
}
