package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/modelinterop/kerasbridge/pkg/keras"
	"github.com/modelinterop/kerasbridge/pkg/model"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	var showWeights bool

	cmd := &cobra.Command{
		Use:   "inspect <model-dir>",
		Short: "Inspect an exported model artifact",
		Long: `Inspect an exported model artifact.

Prints the layer topology and, with --weights, the weight manifest
with names, shapes, dtypes, and quantization details.

Example:
  kerasbridge inspect ./artifacts/bidirectional_lstm --weights`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0], showWeights)
		},
	}

	cmd.Flags().BoolVar(&showWeights, "weights", false, "list the weight manifest")

	return cmd
}

func runInspect(modelDir string, showWeights bool) error {
	modelPath := filepath.Join(modelDir, "model.json")

	artifact, topology, err := keras.ParseModelFile(modelPath)
	if err != nil {
		return err
	}

	m, err := model.Load(modelPath)
	if err != nil {
		return err
	}

	fmt.Print(m.Summary())
	if topology.KerasVersion != "" {
		fmt.Printf("Keras version: %s\n", topology.KerasVersion)
	}
	if topology.Backend != "" {
		fmt.Printf("Backend: %s\n", topology.Backend)
	}

	if showWeights {
		fmt.Println("\nWeights:")
		for _, group := range artifact.WeightsManifest {
			for _, entry := range group.Weights {
				line := fmt.Sprintf("  %-48s %v %s", entry.Name, entry.Shape, entry.DType)
				if entry.Quantization != nil {
					line += fmt.Sprintf(" (quantized %s, scale=%g, min=%g)",
						entry.Quantization.DType, entry.Quantization.Scale, entry.Quantization.Min)
				}
				fmt.Println(line)
			}
			fmt.Printf("  shards: %v\n", group.Paths)
		}
	}

	return nil
}
