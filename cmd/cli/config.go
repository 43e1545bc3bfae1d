package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	configCommandUseConstant       = "config"
	configCommandShortConstant     = "Inspect the effective configuration"
	configShowCommandUseConstant   = "show"
	configShowCommandShortConstant = "Print the effective configuration as YAML"
	configFileCommentTemplate      = "# config file: %s\n"
	configFileNoneConstant         = "(embedded defaults)"
)

func (application *Application) newConfigCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   configCommandUseConstant,
		Short: configCommandShortConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return command.Help()
		},
	}
	command.AddCommand(&cobra.Command{
		Use:   configShowCommandUseConstant,
		Short: configShowCommandShortConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.showConfiguration(command)
		},
	})
	return command
}

func (application *Application) showConfiguration(command *cobra.Command) error {
	configFileUsed := application.configurationMetadata.ConfigFileUsed
	if len(configFileUsed) == 0 {
		configFileUsed = configFileNoneConstant
	}
	if _, writeError := fmt.Fprintf(command.OutOrStdout(), configFileCommentTemplate, configFileUsed); writeError != nil {
		return writeError
	}
	encoder := yaml.NewEncoder(command.OutOrStdout())
	encoder.SetIndent(2)
	if encodeError := encoder.Encode(application.configuration.Masked()); encodeError != nil {
		return encodeError
	}
	return encoder.Close()
}
