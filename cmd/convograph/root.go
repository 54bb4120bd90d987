package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/convograph/pkg/convo/settings"
)

var rootCmd = &cobra.Command{
	Use:   "convograph",
	Short: "Conversation orchestration engine for a storefront assistant",
	Long: `convograph classifies each user message, routes it to a workflow,
and streams the reply. Conversations are checkpointed per thread.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML or JSON configuration file")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file; ignored when missing")
}

// loadSettings reads the configuration named by the persistent flags.
func loadSettings(cmd *cobra.Command) (*settings.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env-file")
	return settings.Load(settings.Options{File: file, EnvFile: envFile})
}
