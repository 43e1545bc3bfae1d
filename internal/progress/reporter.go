package progress

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/temirov/acs/internal/execshell"
)

const (
	commandStartedMessageTemplateConstant          = "Running %s"
	commandCompletedMessageTemplateConstant        = "Completed %s"
	commandFailedExitCodeMessageTemplateConstant   = "%s failed with exit code %d%s"
	commandExecutionFailureMessageTemplateConstant = "%s failed: %s"
	workingDirectorySuffixTemplateConstant         = " (in %s)"
	standardErrorSuffixTemplateConstant            = ": %s"
	commandArgumentsJoinSeparatorConstant          = " "
	lineSeparatorConstant                          = "\n"
	maximumArgumentCharactersConstant              = 80
	truncationMarkerConstant                       = "..."
	unknownFailureMessageConstant                  = "unknown error"
)

// Redactor scrubs sensitive values.
type Redactor interface {
	Redact(text string) string
}

type passthroughRedactor struct{}

func (passthroughRedactor) Redact(text string) string {
	return text
}

// CommandEventFormatter builds the console messages.
type CommandEventFormatter struct {
	redactor Redactor
}

// NewCommandEventFormatter uses redactor for every rendered value; nil leaves text unchanged.
func NewCommandEventFormatter(redactor Redactor) CommandEventFormatter {
	if redactor == nil {
		redactor = passthroughRedactor{}
	}
	return CommandEventFormatter{redactor: redactor}
}

// StartedMessage describes a command about to run.
func (formatter CommandEventFormatter) StartedMessage(command execshell.ShellCommand) string {
	return formatter.buildMessage(command, execshell.ExecutionResult{}, nil, messageStageStart)
}

// SuccessMessage describes a command that exited with zero. Queries such as
// the upstream lookup report their answer from the captured output.
func (formatter CommandEventFormatter) SuccessMessage(command execshell.ShellCommand, result execshell.ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageSuccess)
}

// FailureMessage describes a non-zero exit, with the first stderr line when present.
func (formatter CommandEventFormatter) FailureMessage(command execshell.ShellCommand, result execshell.ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// ExecutionFailureMessage describes a command that produced no result.
func (formatter CommandEventFormatter) ExecutionFailureMessage(command execshell.ShellCommand, failure error) string {
	return formatter.buildMessage(command, execshell.ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandEventFormatter) buildMessage(command execshell.ShellCommand, result execshell.ExecutionResult, failure error, stage messageStage) string {
	standardErrorSuffix := formatter.standardErrorSuffix(result.StandardError)
	failureMessage := formatter.failureMessage(failure)
	if description, described := formatter.describe(command, result); described {
		return description.render(stage, result, standardErrorSuffix, failureMessage)
	}

	label := formatter.label(command)
	switch stage {
	case messageStageStart:
		return fmt.Sprintf(commandStartedMessageTemplateConstant, label)
	case messageStageSuccess:
		return fmt.Sprintf(commandCompletedMessageTemplateConstant, label)
	case messageStageFailure:
		return fmt.Sprintf(commandFailedExitCodeMessageTemplateConstant, label, result.ExitCode, standardErrorSuffix)
	default:
		return fmt.Sprintf(commandExecutionFailureMessageTemplateConstant, label, failureMessage)
	}
}

func (formatter CommandEventFormatter) standardErrorSuffix(standardError string) string {
	firstLine := strings.TrimSpace(strings.SplitN(strings.TrimSpace(standardError), lineSeparatorConstant, 2)[0])
	if len(firstLine) == 0 {
		return ""
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, formatter.redactor.Redact(firstLine))
}

func (formatter CommandEventFormatter) failureMessage(failure error) string {
	if failure == nil {
		return unknownFailureMessageConstant
	}
	return formatter.redactor.Redact(failure.Error())
}

func (formatter CommandEventFormatter) label(command execshell.ShellCommand) string {
	parts := []string{string(command.Name)}
	for _, argument := range command.Details.Arguments {
		parts = append(parts, shorten(formatter.redactor.Redact(argument)))
	}
	label := strings.Join(parts, commandArgumentsJoinSeparatorConstant)
	if workingDirectory := strings.TrimSpace(command.Details.WorkingDirectory); len(workingDirectory) > 0 {
		label += fmt.Sprintf(workingDirectorySuffixTemplateConstant, workingDirectory)
	}
	return label
}

// shorten keeps commit messages and pull request bodies from flooding the console.
func shorten(argument string) string {
	singleLine := strings.ReplaceAll(argument, lineSeparatorConstant, commandArgumentsJoinSeparatorConstant)
	if len(singleLine) <= maximumArgumentCharactersConstant {
		return singleLine
	}
	return singleLine[:maximumArgumentCharactersConstant] + truncationMarkerConstant
}

// ConsoleReporter logs command lifecycle events through a console zap logger.
type ConsoleReporter struct {
	logger    *zap.Logger
	formatter CommandEventFormatter
}

// NewConsoleReporter falls back to a no-op logger when logger is nil.
func NewConsoleReporter(logger *zap.Logger, redactor Redactor) *ConsoleReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsoleReporter{logger: logger, formatter: NewCommandEventFormatter(redactor)}
}

// CommandStarted logs at info.
func (reporter *ConsoleReporter) CommandStarted(command execshell.ShellCommand) {
	reporter.logger.Info(reporter.formatter.StartedMessage(command))
}

// CommandCompleted logs success at info and a non-zero exit at warn.
func (reporter *ConsoleReporter) CommandCompleted(command execshell.ShellCommand, result execshell.ExecutionResult) {
	if result.Succeeded() {
		reporter.logger.Info(reporter.formatter.SuccessMessage(command, result))
		return
	}
	reporter.logger.Warn(reporter.formatter.FailureMessage(command, result))
}

// CommandExecutionFailed logs at error.
func (reporter *ConsoleReporter) CommandExecutionFailed(command execshell.ShellCommand, failure error) {
	reporter.logger.Error(reporter.formatter.ExecutionFailureMessage(command, failure))
}
