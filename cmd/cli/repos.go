package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/temirov/acs/internal/repos"
	pathutils "github.com/temirov/acs/internal/utils/path"
)

const (
	reposCommandUseConstant      = "repos"
	reposCommandShortConstant    = "List allow-listed repositories"
	reposCommandLongConstant     = "repos prints the effective repository allow-list as YAML. With --discover it walks the given roots and prints candidate entries ready to paste into the configuration."
	discoverFlagNameConstant     = "discover"
	discoverFlagUsageConstant    = "Root directories to scan for git working copies instead of listing the allow-list."
	reposDocumentRootKeyConstant = "repositories"
)

func (application *Application) newReposCommand() *cobra.Command {
	var discoveryRoots []string
	command := &cobra.Command{
		Use:   reposCommandUseConstant,
		Short: reposCommandShortConstant,
		Long:  reposCommandLongConstant,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.listRepositories(command, discoveryRoots)
		},
	}
	command.Flags().StringSliceVar(&discoveryRoots, discoverFlagNameConstant, nil, discoverFlagUsageConstant)
	return command
}

func (application *Application) listRepositories(command *cobra.Command, discoveryRoots []string) error {
	homeExpander := pathutils.NewHomeExpander(nil)

	var entries []repos.Repository
	if len(discoveryRoots) > 0 {
		expandedRoots := make([]string, 0, len(discoveryRoots))
		for _, root := range discoveryRoots {
			expandedRoots = append(expandedRoots, homeExpander.Expand(root))
		}
		discovered, discoveryError := repos.DiscoverRepositories(expandedRoots)
		if discoveryError != nil {
			return discoveryError
		}
		entries = discovered
	} else {
		configuredEntries, entriesError := collectRepositoryEntries(application.configuration, homeExpander)
		if entriesError != nil {
			return entriesError
		}
		registry, registryError := repos.NewRegistry(configuredEntries, homeExpander)
		if registryError != nil {
			return registryError
		}
		entries = registry.All()
	}

	if entries == nil {
		entries = []repos.Repository{}
	}
	encoder := yaml.NewEncoder(command.OutOrStdout())
	encoder.SetIndent(2)
	if encodeError := encoder.Encode(map[string][]repos.Repository{reposDocumentRootKeyConstant: entries}); encodeError != nil {
		return encodeError
	}
	return encoder.Close()
}
