// Package main implements the modkit CLI: it inspects the service graph of
// the bundled counter module, runs it once from the terminal, or serves it
// with the introspection API and an optional NATS bridge.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML configuration file
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modkit",
	Short: "Service composition runtime tooling",
	Long: `modkit builds and runs modules composed from services, presenters,
repositories and mediators.

Configuration is read from the file given with --config and from MODKIT_*
environment variables, which take precedence.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration file")
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(serveCmd)
}
