package cli

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/temirov/acs/internal/actions"
	"github.com/temirov/acs/internal/execshell"
	"github.com/temirov/acs/internal/publish"
	"github.com/temirov/acs/internal/redaction"
)

const (
	publishCommandUseConstant    = "publish"
	publishCommandShortConstant  = "Publish a repository branch as a pull request"
	publishCommandLongConstant   = "publish runs the publish pipeline synchronously and prints every stage result as one JSON line."
	repositoryFlagNameConstant   = "repo"
	repositoryFlagUsageConstant  = "Allow-listed repository key."
	branchFlagNameConstant       = "branch"
	branchFlagUsageConstant      = "Branch to publish; defaults to the current branch, or a generated branch when on a protected branch."
	titleFlagNameConstant        = "title"
	titleFlagUsageConstant       = "Pull request title; gh fills it from the commits when empty."
	bodyFlagNameConstant         = "body"
	bodyFlagUsageConstant        = "Pull request body."
	messageFlagNameConstant      = "message"
	messageFlagUsageConstant     = "Commit message for uncommitted changes."
	repositoryRequiredMessage    = "--repo is required"
	publishFailedMessageConstant = "publish failed"
)

// ErrPublishFailed is returned when the pipeline reports a failed stage.
var ErrPublishFailed = errors.New(publishFailedMessageConstant)

func (application *Application) newPublishCommand() *cobra.Command {
	var options publish.Options
	command := &cobra.Command{
		Use:   publishCommandUseConstant,
		Short: publishCommandShortConstant,
		Long:  publishCommandLongConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.publish(command, execshell.NewOSCommandRunner(), options)
		},
	}
	command.Flags().StringVar(&options.RepositoryKey, repositoryFlagNameConstant, "", repositoryFlagUsageConstant)
	command.Flags().StringVar(&options.Branch, branchFlagNameConstant, "", branchFlagUsageConstant)
	command.Flags().StringVar(&options.Title, titleFlagNameConstant, "", titleFlagUsageConstant)
	command.Flags().StringVar(&options.Body, bodyFlagNameConstant, "", bodyFlagUsageConstant)
	command.Flags().StringVar(&options.CommitMessage, messageFlagNameConstant, "", messageFlagUsageConstant)
	return command
}

func (application *Application) publish(command *cobra.Command, runner execshell.CommandRunner, options publish.Options) error {
	if len(strings.TrimSpace(options.RepositoryKey)) == 0 {
		return errors.New(repositoryRequiredMessage)
	}
	logger, loggerError := application.requireLogger()
	if loggerError != nil {
		return loggerError
	}
	surface, surfaceError := newControlSurface(logger, application.configuration, runner)
	if surfaceError != nil {
		return surfaceError
	}
	if _, lookupError := surface.repositories.Lookup(options.RepositoryKey); lookupError != nil {
		return lookupError
	}

	recorder := &jsonLineRecorder{output: command.OutOrStdout(), redactor: surface.redactor}
	if !surface.pipeline.Run(command.Context(), uuid.NewString(), options, recorder) {
		return ErrPublishFailed
	}
	return recorder.writeError
}

// jsonLineRecorder prints each redacted stage result as it is recorded.
type jsonLineRecorder struct {
	mutex      sync.Mutex
	output     io.Writer
	redactor   *redaction.Redactor
	writeError error
}

func (recorder *jsonLineRecorder) Record(result actions.Result) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	if recorder.writeError != nil {
		return
	}
	recorder.writeError = json.NewEncoder(recorder.output).Encode(result.MapStrings(recorder.redactor.Redact))
}
