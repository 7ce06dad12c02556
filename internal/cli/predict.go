package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/internal/harness"
	"github.com/modelinterop/kerasbridge/pkg/model"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

type predictOptions struct {
	fixture string
	output  string
}

// NewPredictCommand creates the predict command.
func NewPredictCommand() *cobra.Command {
	opts := &predictOptions{}

	cmd := &cobra.Command{
		Use:   "predict <model-dir>",
		Short: "Run a prediction with an exported model",
		Long: `Run a prediction.

Loads the layers-model artifact from the given directory and predicts
on the model's xs fixture (the inputs the exporter recorded), or on a
named fixture.

Example:
  kerasbridge predict ./artifacts/mlp
  kerasbridge predict ./artifacts/gru --fixture xs -o prediction.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPredict(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.fixture, "fixture", "xs", "fixture name to predict on")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")

	return cmd
}

func runPredict(modelDir string, opts *predictOptions) error {
	m, err := model.Load(filepath.Join(modelDir, "model.json"))
	if err != nil {
		return err
	}

	// Fixtures sit next to the model directory, named after it.
	artifactDir := filepath.Dir(modelDir)
	modelName := filepath.Base(modelDir)

	xs, err := tensor.LoadFixture(artifactDir, modelName, opts.fixture)
	if err != nil {
		return err
	}

	inputs, err := harness.SplitInputs(xs, m.InputCount())
	if err != nil {
		return err
	}

	prediction, err := m.Predict(inputs...)
	if err != nil {
		return err
	}

	out := struct {
		Model string    `json:"model"`
		Shape []int     `json:"shape"`
		Data  []float32 `json:"data"`
	}{modelName, prediction.Shape, prediction.Data}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode prediction: %w", err)
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, encoded, 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Printf("Prediction written to: %s\n", opts.output)
		return nil
	}
	fmt.Println(string(encoded))
	return nil
}
