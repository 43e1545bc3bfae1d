package cli_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/temirov/acs/cmd/cli"
	"github.com/temirov/acs/internal/repos"
)

const (
	testConfigurationFileNameConstant          = "config.yaml"
	testConfigurationSearchPathEnvironmentName = "ACS_CONFIG_SEARCH_PATH"
	testSharedSecretConstant                   = "routine-shared-secret"
)

func TestEmbeddedDefaultConfiguration(testInstance *testing.T) {
	configuration := decodeEmbeddedApplicationConfiguration(testInstance)

	require.Equal(testInstance, "info", configuration.Common.LogLevel)
	require.Equal(testInstance, "structured", configuration.Common.LogFormat)
	require.Equal(testInstance, "127.0.0.1:8099", configuration.Server.Address)
	require.Empty(testInstance, configuration.Repositories)
	require.Equal(testInstance, "origin", configuration.Publish.Remote)
	require.Equal(testInstance, "main", configuration.Publish.BaseBranch)
	require.Equal(testInstance, "acs", configuration.Publish.BranchPrefix)
	require.True(testInstance, configuration.Publish.RewriteRemote)
	require.Equal(testInstance, []string{"main", "master"}, configuration.Publish.ProtectedBranches)
	require.Equal(testInstance, 2, configuration.Jobs.Workers)
	require.Equal(testInstance, 64, configuration.Jobs.QueueSize)
	require.Equal(testInstance, time.Hour, configuration.Jobs.TimeToLive)
	require.Equal(testInstance, 200, configuration.Jobs.MaxEntries)
	require.Equal(testInstance, 1000, configuration.Jobs.MaxLogLines)
	require.Equal(testInstance, 50000, configuration.Jobs.MaxOutputChars)
	require.Equal(testInstance, 4000, configuration.Jobs.MaxLogLineChars)
	require.Equal(testInstance, 10*time.Minute, configuration.Tokens.TimeToLive)
	require.False(testInstance, configuration.Routines.Enabled)
	require.Empty(testInstance, configuration.Routines.SharedSecret)
	require.False(testInstance, configuration.ActionLog.Enabled)
	require.Equal(testInstance, "~/.local/state/agent-control-surface", configuration.ActionLog.Directory)
	require.Equal(testInstance, "wgx", configuration.Workflow.Binary)
	require.Equal(testInstance, ".wgx/out", configuration.Workflow.OutputDirectory)
	require.Equal(testInstance, "jules", configuration.Sessions.Binary)
	require.Equal(testInstance, 60*time.Second, configuration.Timeouts.Local)
	require.Equal(testInstance, 120*time.Second, configuration.Timeouts.Network)
}

func TestConfigShowAppliesPrecedence(testInstance *testing.T) {
	configurationDirectory := isolateConfiguration(testInstance)
	configurationPath := writeConfiguration(testInstance, configurationDirectory, strings.Join([]string{
		"server:",
		"  address: 127.0.0.1:9100",
		"jobs:",
		"  workers: 4",
		"routines:",
		"  enabled: true",
		"  shared_secret: " + testSharedSecretConstant,
		"",
	}, "\n"))
	testInstance.Setenv("ACS_JOBS_QUEUE_SIZE", "7")
	testInstance.Setenv("ACS_TOKENS_TTL", "90s")

	output, executionError := runApplication(testInstance, "--config", configurationPath, "--log-level", "debug", "config", "show")
	require.NoError(testInstance, executionError)
	require.True(testInstance, strings.HasPrefix(output, "# config file: "+configurationPath+"\n"))
	require.NotContains(testInstance, output, testSharedSecretConstant)

	var shown cli.ApplicationConfiguration
	require.NoError(testInstance, yaml.Unmarshal([]byte(output), &shown))
	require.Equal(testInstance, "debug", shown.Common.LogLevel)
	require.Equal(testInstance, "127.0.0.1:9100", shown.Server.Address)
	require.Equal(testInstance, 4, shown.Jobs.Workers)
	require.Equal(testInstance, 7, shown.Jobs.QueueSize)
	require.Equal(testInstance, 90*time.Second, shown.Tokens.TimeToLive)
	require.True(testInstance, shown.Routines.Enabled)
	require.Equal(testInstance, "[redacted]", shown.Routines.SharedSecret)
	require.Equal(testInstance, "main", shown.Publish.BaseBranch)
}

func TestConfigShowWithoutConfigurationFile(testInstance *testing.T) {
	isolateConfiguration(testInstance)

	output, executionError := runApplication(testInstance, "config", "show")
	require.NoError(testInstance, executionError)
	require.True(testInstance, strings.HasPrefix(output, "# config file: (embedded defaults)\n"))
}

func TestInitializationErrors(testInstance *testing.T) {
	testCases := []struct {
		name             string
		arguments        []string
		expectedFragment string
	}{
		{
			name:             "missing_config_file",
			arguments:        []string{"--config", "/nonexistent/acs.yaml", "config", "show"},
			expectedFragment: "unable to load configuration",
		},
		{
			name:             "invalid_log_level_flag",
			arguments:        []string{"--log-level", "verbose", "config", "show"},
			expectedFragment: "must be one of debug, info, warn, error",
		},
		{
			name:             "invalid_log_format_flag",
			arguments:        []string{"--log-format", "xml", "config", "show"},
			expectedFragment: "must be one of structured, console",
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			isolateConfiguration(testInstance)
			_, executionError := runApplication(testInstance, testCase.arguments...)
			require.Error(testInstance, executionError)
			require.Contains(testInstance, executionError.Error(), testCase.expectedFragment)
		})
	}
}

func TestInvalidConfiguredLogLevel(testInstance *testing.T) {
	configurationDirectory := isolateConfiguration(testInstance)
	configurationPath := writeConfiguration(testInstance, configurationDirectory, "common:\n  log_level: verbose\n")

	_, executionError := runApplication(testInstance, "--config", configurationPath, "config", "show")
	require.Error(testInstance, executionError)
	require.Contains(testInstance, executionError.Error(), "unable to create logger")
}

func TestReposListsAllowList(testInstance *testing.T) {
	configurationDirectory := isolateConfiguration(testInstance)
	firstRepository := filepath.Join(configurationDirectory, "first")
	secondRepository := filepath.Join(configurationDirectory, "second")
	repositoriesFile := filepath.Join(configurationDirectory, "repositories.yaml")
	require.NoError(testInstance, os.WriteFile(repositoriesFile, []byte("repositories:\n  - key: second\n    path: "+secondRepository+"\n    display: Second\n"), 0o600))

	configurationPath := writeConfiguration(testInstance, configurationDirectory, strings.Join([]string{
		"repositories:",
		"  - key: first",
		"    path: " + firstRepository,
		"repositories_file: " + repositoriesFile,
		"",
	}, "\n"))

	output, executionError := runApplication(testInstance, "--config", configurationPath, "repos")
	require.NoError(testInstance, executionError)

	listed := decodeRepositories(testInstance, output)
	require.Equal(testInstance, []repos.Repository{
		{Key: "first", Path: firstRepository, Display: "first"},
		{Key: "second", Path: secondRepository, Display: "Second"},
	}, listed)
}

func TestReposRejectsInvalidAllowList(testInstance *testing.T) {
	configurationDirectory := isolateConfiguration(testInstance)
	configurationPath := writeConfiguration(testInstance, configurationDirectory, "repositories:\n  - key: ../escape\n    path: /tmp\n")

	_, executionError := runApplication(testInstance, "--config", configurationPath, "repos")
	var invalidError repos.InvalidRepositoryError
	require.True(testInstance, errors.As(executionError, &invalidError))
}

func TestReposDiscover(testInstance *testing.T) {
	isolateConfiguration(testInstance)
	root := testInstance.TempDir()
	for _, name := range []string{"beta", "alpha"} {
		require.NoError(testInstance, os.MkdirAll(filepath.Join(root, name, ".git"), 0o755))
	}
	require.NoError(testInstance, os.MkdirAll(filepath.Join(root, "plain"), 0o755))

	output, executionError := runApplication(testInstance, "repos", "--discover", root)
	require.NoError(testInstance, executionError)

	listed := decodeRepositories(testInstance, output)
	require.Len(testInstance, listed, 2)
	require.Equal(testInstance, "alpha", listed[0].Key)
	require.Equal(testInstance, filepath.Join(root, "alpha"), listed[0].Path)
	require.Equal(testInstance, "beta", listed[1].Key)
}

func TestRepositoryFlagRequired(testInstance *testing.T) {
	for _, commandName := range []string{"publish", "audit"} {
		testInstance.Run(commandName, func(testInstance *testing.T) {
			isolateConfiguration(testInstance)
			_, executionError := runApplication(testInstance, commandName)
			require.EqualError(testInstance, executionError, "--repo is required")
		})
	}
}

func TestUnknownRepositoryRejected(testInstance *testing.T) {
	for _, commandName := range []string{"publish", "audit"} {
		testInstance.Run(commandName, func(testInstance *testing.T) {
			isolateConfiguration(testInstance)
			_, executionError := runApplication(testInstance, commandName, "--repo", "missing")
			var unknownError repos.UnknownRepositoryError
			require.True(testInstance, errors.As(executionError, &unknownError))
			require.Equal(testInstance, "missing", unknownError.Key)
		})
	}
}

func isolateConfiguration(testInstance *testing.T) string {
	testInstance.Helper()
	configurationDirectory := testInstance.TempDir()
	testInstance.Setenv(testConfigurationSearchPathEnvironmentName, configurationDirectory)
	return configurationDirectory
}

func writeConfiguration(testInstance *testing.T, directory string, contents string) string {
	testInstance.Helper()
	configurationPath := filepath.Join(directory, testConfigurationFileNameConstant)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(contents), 0o600))
	return configurationPath
}

func runApplication(testInstance *testing.T, arguments ...string) (string, error) {
	testInstance.Helper()
	application := cli.NewApplication()
	var output bytes.Buffer
	application.Command().SetOut(&output)
	application.Command().SetArgs(arguments)
	executionError := application.Execute()
	return output.String(), executionError
}

func decodeRepositories(testInstance *testing.T, output string) []repos.Repository {
	testInstance.Helper()
	var document map[string][]repos.Repository
	require.NoError(testInstance, yaml.Unmarshal([]byte(output), &document))
	return document["repositories"]
}

func decodeEmbeddedApplicationConfiguration(testInstance *testing.T) cli.ApplicationConfiguration {
	testInstance.Helper()

	configurationData, configurationType := cli.EmbeddedDefaultConfiguration()
	configurationReader := viper.New()
	configurationReader.SetConfigType(configurationType)
	require.NoError(testInstance, configurationReader.ReadConfig(bytes.NewReader(configurationData)))

	var configuration cli.ApplicationConfiguration
	require.NoError(testInstance, configurationReader.Unmarshal(&configuration, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))))
	return configuration
}
