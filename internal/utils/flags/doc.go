// Package flags provides pflag values shared by acs commands.
package flags
