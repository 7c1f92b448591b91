package main

import (
	"fmt"
	"os"
	"path/filepath"

	"completiontester/config"
	"completiontester/logger"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "completiontester",
	Short: "Soak-test an editor completion plugin",
	Long: `completiontester drives an editor's completion plugin in an endless loop:
it types a seed character into a scratch buffer, asks the plugin for an inline
completion or a suggestion list entry, accepts it, and measures what was inserted.

Every third iteration the scratch buffer is rolled back so it never grows without
bound. The loop pauses while you are typing in other buffers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := logLevel
		if level == "" {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level = s.LogLevel
		}
		return logger.Init(level)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Loads the configuration file, applies environment overrides and prints the
result after invalid values have been replaced by their defaults.`,
	Args: cobra.NoArgs,
	RunE: printConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, simulateCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "completiontester.yaml"
	}
	return filepath.Join(dir, "completiontester", "config.yaml")
}

func printConfig(cmd *cobra.Command, args []string) error {
	s, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
