package execshell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	loggerNotConfiguredMessageConstant        = "shell executor logger not configured"
	commandRunnerNotConfiguredMessageConstant = "shell executor command runner not configured"
	commandTimeoutTemplateConstant            = "%s timed out after %s"
	commandExecutionTemplateConstant          = "%s failed: %s"
	workingDirectoryTemplateConstant          = "working directory %q unavailable: %s"
	workingDirectoryNotDirectoryConstant      = "not a directory"
	commandStartedLogMessageConstant          = "command started"
	commandCompletedLogMessageConstant        = "command completed"
	commandNonZeroExitLogMessageConstant      = "command exited with non-zero status"
	commandFailedLogMessageConstant           = "command failed"
	logFieldCommandConstant                   = "command"
	logFieldArgumentsConstant                 = "arguments"
	logFieldWorkingDirectoryConstant          = "working_directory"
	logFieldExitCodeConstant                  = "exit_code"
	logFieldDurationConstant                  = "duration"
	logFieldTimeoutConstant                   = "timeout"
	argumentJoinSeparatorConstant             = " "

	// DefaultCommandTimeout applies when a command does not declare its own timeout.
	DefaultCommandTimeout = 60 * time.Second
)

// CommandName identifies an executable.
type CommandName string

// Executables driven by the control surface.
const (
	CommandGit    CommandName = CommandName("git")
	CommandGitHub CommandName = CommandName("gh")
)

// CommandDetails describes a single invocation of an executable.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
	Timeout              time.Duration
}

// ShellCommand pairs an executable with its invocation details.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

// ExecutionResult captures the observable outcome of a finished process.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// Succeeded reports whether the process exited with status zero.
func (result ExecutionResult) Succeeded() bool {
	return result.ExitCode == 0
}

// CombinedOutput joins standard output and standard error the way a terminal would show them.
func (result ExecutionResult) CombinedOutput() string {
	if len(result.StandardError) == 0 {
		return result.StandardOutput
	}
	if len(result.StandardOutput) == 0 {
		return result.StandardError
	}
	return result.StandardOutput + "\n" + result.StandardError
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// TextFilter scrubs text before it reaches the logs.
type TextFilter interface {
	Redact(text string) string
}

var (
	// ErrLoggerNotConfigured indicates a nil logger was supplied.
	ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)
	// ErrCommandRunnerNotConfigured indicates a nil runner was supplied.
	ErrCommandRunnerNotConfigured = errors.New(commandRunnerNotConfiguredMessageConstant)
)

// CommandTimeoutError reports a command that exceeded its deadline.
type CommandTimeoutError struct {
	Command ShellCommand
	Timeout time.Duration
}

// Error describes the timeout.
func (timeoutError CommandTimeoutError) Error() string {
	return fmt.Sprintf(commandTimeoutTemplateConstant, timeoutError.Command.Name, timeoutError.Timeout)
}

// CommandExecutionError reports a process that could not be started or awaited.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error describes the execution failure.
func (executionError CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionTemplateConstant, executionError.Command.Name, executionError.Cause)
}

// Unwrap exposes the underlying failure.
func (executionError CommandExecutionError) Unwrap() error {
	return executionError.Cause
}

// WorkingDirectoryError reports a missing or unusable working directory.
type WorkingDirectoryError struct {
	Path  string
	Cause error
}

// Error describes the working directory problem.
func (directoryError WorkingDirectoryError) Error() string {
	return fmt.Sprintf(workingDirectoryTemplateConstant, directoryError.Path, directoryError.Cause)
}

// Unwrap exposes the underlying stat failure.
func (directoryError WorkingDirectoryError) Unwrap() error {
	return directoryError.Cause
}

// ShellExecutor runs commands through a CommandRunner, enforcing timeouts and logging lifecycle events.
// A non-zero exit status is data, not an error.
type ShellExecutor struct {
	logger   *zap.Logger
	runner   CommandRunner
	filter   TextFilter
	observer CommandEventObserver
	now      func() time.Time
}

// NewShellExecutor constructs a ShellExecutor.
func NewShellExecutor(logger *zap.Logger, runner CommandRunner) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if runner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{
		logger:   logger,
		runner:   runner,
		observer: noopCommandEventObserver{},
		now:      time.Now,
	}, nil
}

// WithTextFilter configures the filter applied to logged arguments and output.
func (executor *ShellExecutor) WithTextFilter(filter TextFilter) *ShellExecutor {
	executor.filter = filter
	return executor
}

// WithObserver configures a lifecycle observer.
func (executor *ShellExecutor) WithObserver(observer CommandEventObserver) *ShellExecutor {
	if observer == nil {
		observer = noopCommandEventObserver{}
	}
	executor.observer = observer
	return executor
}

// Execute runs the command and returns its exit code and captured streams.
func (executor *ShellExecutor) Execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}

	if directoryError := verifyWorkingDirectory(command.Details.WorkingDirectory); directoryError != nil {
		executor.observer.CommandExecutionFailed(command, directoryError)
		executor.logger.Warn(commandFailedLogMessageConstant, append(executor.commandFields(command), zap.Error(directoryError))...)
		return ExecutionResult{}, directoryError
	}

	timeout := command.Details.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	boundedContext, cancel := context.WithTimeout(executionContext, timeout)
	defer cancel()

	executor.observer.CommandStarted(command)
	executor.logger.Debug(commandStartedLogMessageConstant, executor.commandFields(command)...)

	startedAt := executor.now()
	executionResult, runError := executor.runner.Run(boundedContext, command)
	elapsed := executor.now().Sub(startedAt)

	if errors.Is(boundedContext.Err(), context.DeadlineExceeded) {
		timeoutError := CommandTimeoutError{Command: command, Timeout: timeout}
		executor.observer.CommandExecutionFailed(command, timeoutError)
		executor.logger.Warn(commandFailedLogMessageConstant, append(executor.commandFields(command), zap.Duration(logFieldTimeoutConstant, timeout), zap.Error(timeoutError))...)
		return ExecutionResult{}, timeoutError
	}

	if runError != nil {
		executionError := CommandExecutionError{Command: command, Cause: runError}
		executor.observer.CommandExecutionFailed(command, executionError)
		executor.logger.Warn(commandFailedLogMessageConstant, append(executor.commandFields(command), zap.Error(executionError))...)
		return ExecutionResult{}, executionError
	}

	executor.observer.CommandCompleted(command, executionResult)

	completionFields := append(executor.commandFields(command), zap.Int(logFieldExitCodeConstant, executionResult.ExitCode), zap.Duration(logFieldDurationConstant, elapsed))
	if executionResult.ExitCode != 0 {
		executor.logger.Info(commandNonZeroExitLogMessageConstant, completionFields...)
	} else {
		executor.logger.Debug(commandCompletedLogMessageConstant, completionFields...)
	}

	return executionResult, nil
}

// ExecuteGit runs git with the provided details.
func (executor *ShellExecutor) ExecuteGit(executionContext context.Context, details CommandDetails) (ExecutionResult, error) {
	return executor.Execute(executionContext, ShellCommand{Name: CommandGit, Details: details})
}

// ExecuteGitHubCLI runs gh with the provided details.
func (executor *ShellExecutor) ExecuteGitHubCLI(executionContext context.Context, details CommandDetails) (ExecutionResult, error) {
	return executor.Execute(executionContext, ShellCommand{Name: CommandGitHub, Details: details})
}

func (executor *ShellExecutor) commandFields(command ShellCommand) []zap.Field {
	joinedArguments := strings.Join(command.Details.Arguments, argumentJoinSeparatorConstant)
	if executor.filter != nil {
		joinedArguments = executor.filter.Redact(joinedArguments)
	}
	return []zap.Field{
		zap.String(logFieldCommandConstant, string(command.Name)),
		zap.String(logFieldArgumentsConstant, joinedArguments),
		zap.String(logFieldWorkingDirectoryConstant, command.Details.WorkingDirectory),
	}
}

func verifyWorkingDirectory(workingDirectory string) error {
	if len(workingDirectory) == 0 {
		return nil
	}
	directoryInfo, statError := os.Stat(workingDirectory)
	if statError != nil {
		return WorkingDirectoryError{Path: workingDirectory, Cause: statError}
	}
	if !directoryInfo.IsDir() {
		return WorkingDirectoryError{Path: workingDirectory, Cause: errors.New(workingDirectoryNotDirectoryConstant)}
	}
	return nil
}
