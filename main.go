package main

import (
	"fmt"
	"os"

	"github.com/temirov/acs/cmd/cli"
)

const (
	exitErrorTemplateConstant = "acs: %v\n"
	exitFailureCodeConstant   = 1
)

func main() {
	if executionError := cli.Execute(); executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
		os.Exit(exitFailureCodeConstant)
	}
}
