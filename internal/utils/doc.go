// Package utils holds the configuration loader and logger factory shared by
// the acs commands. ConfigurationLoader layers embedded defaults, a YAML file
// and ACS_ environment variables through Viper; LoggerFactory builds zap
// loggers in structured or console form.
package utils
