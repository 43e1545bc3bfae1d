package cli

import (
	"strings"
	"time"

	"github.com/temirov/acs/internal/gitrepo"
	"github.com/temirov/acs/internal/jobs"
	"github.com/temirov/acs/internal/publish"
	"github.com/temirov/acs/internal/repos"
	"github.com/temirov/acs/internal/server"
	"github.com/temirov/acs/internal/sessions"
	"github.com/temirov/acs/internal/utils"
	"github.com/temirov/acs/internal/workflow"
)

const (
	commonLogLevelConfigKeyConstant  = "common.log_level"
	commonLogFormatConfigKeyConstant = "common.log_format"
	tokensTimeToLiveConfigKey        = "tokens.ttl"
	defaultTokenTimeToLiveConstant   = 10 * time.Minute
	redactedSecretPlaceholder        = "[redacted]"
)

// ApplicationCommonConfiguration stores logging settings shared by every command.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// TokenConfiguration controls routine confirmation tokens.
type TokenConfiguration struct {
	TimeToLive time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ActionLogConfiguration controls the append-only action log.
type ActionLogConfiguration struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Directory string `mapstructure:"directory" yaml:"directory"`
}

// ApplicationConfiguration describes the persisted configuration for acs.
type ApplicationConfiguration struct {
	Common           ApplicationCommonConfiguration `mapstructure:"common" yaml:"common"`
	Server           server.Configuration           `mapstructure:"server" yaml:"server"`
	Repositories     []repos.Repository             `mapstructure:"repositories" yaml:"repositories"`
	RepositoriesFile string                         `mapstructure:"repositories_file" yaml:"repositories_file"`
	Publish          publish.Configuration          `mapstructure:"publish" yaml:"publish"`
	Jobs             jobs.Limits                    `mapstructure:"jobs" yaml:"jobs"`
	Tokens           TokenConfiguration             `mapstructure:"tokens" yaml:"tokens"`
	Routines         server.RoutinePolicy           `mapstructure:"routines" yaml:"routines"`
	ActionLog        ActionLogConfiguration         `mapstructure:"action_log" yaml:"action_log"`
	Workflow         workflow.Configuration         `mapstructure:"workflow" yaml:"workflow"`
	Sessions         sessions.Configuration         `mapstructure:"sessions" yaml:"sessions"`
	Timeouts         gitrepo.Timeouts               `mapstructure:"timeouts" yaml:"timeouts"`
}

// DefaultConfigurationValues returns the Viper defaults layered beneath the
// embedded configuration.
func DefaultConfigurationValues() map[string]any {
	return map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
		tokensTimeToLiveConfigKey:        defaultTokenTimeToLiveConstant,
	}
}

// tokenTimeToLive falls back to the default when the configured value is unusable.
func (configuration ApplicationConfiguration) tokenTimeToLive() time.Duration {
	if configuration.Tokens.TimeToLive <= 0 {
		return defaultTokenTimeToLiveConstant
	}
	return configuration.Tokens.TimeToLive
}

func (configuration ApplicationConfiguration) humanReadableLogging() bool {
	return strings.EqualFold(strings.TrimSpace(configuration.Common.LogFormat), string(utils.LogFormatConsole))
}

// Masked returns a copy safe to print: the routine shared secret is hidden.
func (configuration ApplicationConfiguration) Masked() ApplicationConfiguration {
	masked := configuration
	if len(masked.Routines.SharedSecret) > 0 {
		masked.Routines.SharedSecret = redactedSecretPlaceholder
	}
	masked.Repositories = append([]repos.Repository{}, configuration.Repositories...)
	return masked
}
