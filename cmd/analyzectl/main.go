// Command analyzectl is the operator CLI for the resume analyzer.
package main

import (
	"os"

	"github.com/fairyhunter13/resume-analyzer/cmd/analyzectl/cmd"
)

func main() {
	if err := cmd.NewRootCmd(cmd.OpenContainer, cmd.MigrateDatabase).Execute(); err != nil {
		os.Exit(1)
	}
}
