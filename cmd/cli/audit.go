package cli

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/temirov/acs/internal/execshell"
)

const (
	auditCommandUseConstant   = "audit"
	auditCommandShortConstant = "Run the git audit for a repository"
	auditCommandLongConstant  = "audit runs the workflow tool's git audit for an allow-listed repository and prints the validated report as JSON."
	auditIndentConstant       = "  "
)

func (application *Application) newAuditCommand() *cobra.Command {
	var repositoryKey string
	command := &cobra.Command{
		Use:   auditCommandUseConstant,
		Short: auditCommandShortConstant,
		Long:  auditCommandLongConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.audit(command, execshell.NewOSCommandRunner(), repositoryKey)
		},
	}
	command.Flags().StringVar(&repositoryKey, repositoryFlagNameConstant, "", repositoryFlagUsageConstant)
	return command
}

func (application *Application) audit(command *cobra.Command, runner execshell.CommandRunner, repositoryKey string) error {
	if len(strings.TrimSpace(repositoryKey)) == 0 {
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
	repository, lookupError := surface.repositories.Lookup(repositoryKey)
	if lookupError != nil {
		return lookupError
	}

	report, auditError := surface.workflow.RunAudit(command.Context(), repository, uuid.NewString())
	if auditError != nil {
		return errors.New(surface.redactor.Redact(auditError.Error()))
	}
	encoder := json.NewEncoder(command.OutOrStdout())
	encoder.SetIndent("", auditIndentConstant)
	return encoder.Encode(report)
}
