package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "dayroll",
	Short:         "dayroll - daily task cards with rollover and cloud sync",
	Long:          `dayroll keeps a local card of tasks per day, carries unfinished work forward, ranks it on the Eisenhower matrix and syncs it to a remote copy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd, listCmd, toggleCmd, deleteCmd, attentionCmd, classifyCmd, exportCmd)
	rootCmd.AddCommand(syncCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
