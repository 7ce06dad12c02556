// Package cli implements the kerasbridge command line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/config"
)

// Global flags
var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

// NewRootCommand creates the root cobra command.
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kerasbridge",
		Short: "Keras model interop verification CLI",
		Long: `kerasbridge verifies that models exported from the JavaScript ML
library load and predict identically in this Go inference engine.

Commands cover the whole pipeline:
  - Initializing a workspace (keys, registry, storage)
  - Exporting models via the JavaScript exporter
  - Verifying predictions against recorded fixtures
  - Running ad hoc predictions and inspecting artifacts
  - Browsing past runs and their signed receipts`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kerasbridge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewVerifyCommand())
	rootCmd.AddCommand(NewPredictCommand())
	rootCmd.AddCommand(NewInspectCommand())
	rootCmd.AddCommand(NewReportCommand())

	return rootCmd
}

// initConfig loads configuration from file and sets up logging.
func initConfig() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	if cfgFile == "" {
		if _, err := os.Stat("kerasbridge.yaml"); err == nil {
			cfgFile = "kerasbridge.yaml"
		} else if _, err := os.Stat("kerasbridge.yml"); err == nil {
			cfgFile = "kerasbridge.yml"
		}
	}

	if cfgFile != "" {
		var err error
		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
			}
		}
	}
}

// getConfig returns the loaded configuration, falling back to defaults.
func getConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	return config.DefaultConfig()
}
