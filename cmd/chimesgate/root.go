package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chimesgate",
	Short: "chimesgate is a declarative data-service invocation gateway",
	Long:  "chimesgate serves, schedules and packages namespaces declared as TOML model files.",
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "chimesgate.toml", "path to the server config file")
}
