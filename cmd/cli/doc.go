// Package cli constructs the acs command-line interface. It wires the Cobra
// command hierarchy, the Viper configuration loader and zap logging, and
// assembles the control surface components for the serve, publish, audit,
// repos and config commands.
package cli
