package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/harness"
)

type exportOptions struct {
	artifactDir string
	models      []string
	timeout     int
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run the JavaScript exporter to produce model artifacts",
		Long: `Run the JavaScript exporter.

The exporter trains each model briefly, saves it in the layers-model
format (model.json plus binary weight shards), and records the inputs
it predicted on together with the predictions as fixture files.

The exporter command is taken from the config file, or from the
KERASBRIDGE_EXPORTER environment variable.

Example:
  kerasbridge export --models mlp,cnn --artifacts ./artifacts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.artifactDir, "artifacts", "", "artifact directory (default from config)")
	cmd.Flags().StringSliceVar(&opts.models, "models", nil, "models to export (default from config)")
	cmd.Flags().IntVar(&opts.timeout, "timeout", 0, "exporter timeout in seconds (default from config)")

	return cmd
}

func runExport(ctx context.Context, opts *exportOptions) error {
	conf := getConfig()

	artifactDir := opts.artifactDir
	if artifactDir == "" {
		artifactDir = conf.Artifacts.Dir
	}
	models := opts.models
	if len(models) == 0 {
		models = conf.Artifacts.Models
	}
	if len(models) == 0 {
		return fmt.Errorf("no models to export")
	}

	exporter := harness.NewExporter(conf.Exporter.Command, conf.Exporter.WorkDir)
	exporter.TimeoutSeconds = conf.Exporter.TimeoutSeconds
	if opts.timeout > 0 {
		exporter.TimeoutSeconds = opts.timeout
	}

	if !exporter.Available() {
		return fmt.Errorf("exporter not available (command: %v); set exporter.command in config or KERASBRIDGE_EXPORTER", exporter.Command)
	}

	if err := exporter.Export(ctx, artifactDir, models); err != nil {
		return err
	}

	fmt.Printf("Exported %d models to %s\n", len(models), artifactDir)
	return nil
}
