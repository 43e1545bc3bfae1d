package redaction

import (
	"os"
	"strings"
)

// Environment variables whose values are always treated as secrets.
const (
	EnvGitHubCLIToken        = "GH_TOKEN"
	EnvGitHubToken           = "GITHUB_TOKEN"
	EnvGitHubAPIToken        = "GITHUB_API_TOKEN"
	EnvGitHubEnterpriseToken = "GH_ENTERPRISE_TOKEN"
	EnvRoutinesSharedSecret  = "ACS_ROUTINES_SHARED_SECRET"
)

// EnvironmentLookup resolves a single environment variable.
type EnvironmentLookup func(key string) (string, bool)

var sensitiveEnvironmentVariables = []string{
	EnvGitHubCLIToken,
	EnvGitHubToken,
	EnvGitHubAPIToken,
	EnvGitHubEnterpriseToken,
	EnvRoutinesSharedSecret,
}

// SensitiveEnvironmentValues collects the non-empty values of the known secret variables.
func SensitiveEnvironmentValues(lookup EnvironmentLookup) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	collectedValues := make([]string, 0, len(sensitiveEnvironmentVariables))
	for _, variableName := range sensitiveEnvironmentVariables {
		variableValue, present := lookup(variableName)
		if !present {
			continue
		}
		variableValue = strings.TrimSpace(variableValue)
		if len(variableValue) == 0 {
			continue
		}
		collectedValues = append(collectedValues, variableValue)
	}
	return collectedValues
}

// NewEnvironmentRedactor builds a Redactor seeded with the secret environment
// values plus any additional literals (for example a configured shared secret).
func NewEnvironmentRedactor(lookup EnvironmentLookup, additionalValues ...string) *Redactor {
	sensitiveValues := append(SensitiveEnvironmentValues(lookup), additionalValues...)
	return NewRedactor(sensitiveValues)
}
