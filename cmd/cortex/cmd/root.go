package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Self-hosted OpenAI-compatible inference gateway",
	Long: `cortex fronts a dynamic fleet of model-serving backends behind a
single OpenAI-compatible API, with an admin surface for provisioning
models, inspecting local weight folders, and exporting/importing
deployments.

Examples:
  cortex serve
  cortex migrate up
  cortex migrate down
  cortex version`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to run once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
