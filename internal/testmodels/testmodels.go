// Package testmodels writes synthetic layers-model artifact trees shaped
// like the ones the JavaScript exporter produces. Tests use them to exercise
// loading, prediction, and harness plumbing without a JS toolchain.
package testmodels

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/modelinterop/kerasbridge/internal/harness"
	"github.com/modelinterop/kerasbridge/pkg/model"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Spec describes one synthetic model artifact. ModelJSON must reference a
// single shard named group1-shard1of1.bin; Weights holds the shard values in
// manifest order.
type Spec struct {
	Name      string
	ModelJSON string
	Weights   []float32
	XS        *tensor.Tensor
}

// Names lists the model set the exporter produces, mirroring its test matrix.
func Names() []string {
	return []string{
		"mlp",
		"cnn",
		"depthwise_cnn",
		"simple_rnn",
		"gru",
		"bidirectional_lstm",
		"time_distributed_lstm",
		"one_dimensional",
		"functional_merge",
	}
}

// All returns the full synthetic model set keyed by name.
func All() map[string]Spec {
	specs := map[string]Spec{
		"mlp":                   mlp(),
		"cnn":                   cnn(),
		"depthwise_cnn":         depthwiseCNN(),
		"simple_rnn":            simpleRNN(),
		"gru":                   gru(),
		"bidirectional_lstm":    bidirectionalLSTM(),
		"time_distributed_lstm": timeDistributedLSTM(),
		"one_dimensional":       oneDimensional(),
		"functional_merge":      functionalMerge(),
	}
	return specs
}

// Write materializes a spec under root using the exporter's layout: the
// model directory root/<name>/ holds model.json and the weight shard, and
// the xs fixture pair sits next to the directory as <name>.xs-*.json.
func Write(root string, s Spec) error {
	modelDir := filepath.Join(root, s.Name)
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	if err := os.WriteFile(filepath.Join(modelDir, "model.json"), []byte(s.ModelJSON), 0644); err != nil {
		return fmt.Errorf("failed to write model.json: %w", err)
	}

	shard := make([]byte, 4*len(s.Weights))
	for i, v := range s.Weights {
		binary.LittleEndian.PutUint32(shard[i*4:], math.Float32bits(v))
	}
	if err := os.WriteFile(filepath.Join(modelDir, "group1-shard1of1.bin"), shard, 0644); err != nil {
		return fmt.Errorf("failed to write weight shard: %w", err)
	}

	if err := tensor.SaveFixture(root, s.Name, "xs", s.XS); err != nil {
		return fmt.Errorf("failed to write xs fixture: %w", err)
	}
	return nil
}

// WriteWithExpected writes the artifact plus a ys fixture computed by
// loading and running it, so round trips through the harness line up.
func WriteWithExpected(root string, s Spec) error {
	if err := Write(root, s); err != nil {
		return err
	}

	m, err := model.Load(filepath.Join(root, s.Name, "model.json"))
	if err != nil {
		return fmt.Errorf("failed to load synthetic model %s: %w", s.Name, err)
	}

	inputs, err := harness.SplitInputs(s.XS, m.InputCount())
	if err != nil {
		return err
	}
	ys, err := m.Predict(inputs...)
	if err != nil {
		return fmt.Errorf("failed to predict with synthetic model %s: %w", s.Name, err)
	}

	if err := tensor.SaveFixture(root, s.Name, "ys", ys); err != nil {
		return fmt.Errorf("failed to write ys fixture: %w", err)
	}
	return nil
}

// WriteAll materializes the whole synthetic model set with ys fixtures.
func WriteAll(root string) error {
	for _, s := range All() {
		if err := WriteWithExpected(root, s); err != nil {
			return err
		}
	}
	return nil
}

// weightPattern produces small deterministic weights that keep activations
// away from saturation.
func weightPattern(n int, seed int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*37+seed*11)%21-10) * 0.05
	}
	return out
}

// inputPattern produces deterministic fixture inputs.
func inputPattern(shape ...int) *tensor.Tensor {
	t := tensor.Zeros(shape...)
	for i := range t.Data {
		t.Data[i] = float32((i*13)%17-8) * 0.125
	}
	return t
}

func sequentialJSON(layersJSON, manifestJSON string) string {
	return fmt.Sprintf(`{
  "modelTopology": {
    "keras_version": "2.1.6",
    "backend": "tensorflow",
    "model_config": {"class_name": "Sequential", "config": {"name": "sequential", "layers": [%s]}}
  },
  "format": "layers-model",
  "generatedBy": "kerasbridge-testmodels",
  "weightsManifest": [{"paths": ["group1-shard1of1.bin"], "weights": [%s]}]
}`, layersJSON, manifestJSON)
}

func mlp() Spec {
	layersJSON := `
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 6, "activation": "relu", "use_bias": true, "batch_input_shape": [null, 4]}},
    {"class_name": "Dense", "config": {"name": "dense_2", "units": 3, "activation": "softmax", "use_bias": true}}`
	manifest := `
      {"name": "dense_1/kernel", "shape": [4, 6], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [6], "dtype": "float32"},
      {"name": "dense_2/kernel", "shape": [6, 3], "dtype": "float32"},
      {"name": "dense_2/bias", "shape": [3], "dtype": "float32"}`

	weights := weightPattern(4*6+6+6*3+3, 1)
	return Spec{
		Name:      "mlp",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 4),
	}
}

func cnn() Spec {
	layersJSON := `
    {"class_name": "Conv2D", "config": {"name": "conv2d_1", "filters": 4, "kernel_size": [3, 3], "strides": [1, 1], "padding": "valid", "activation": "relu", "use_bias": true, "batch_input_shape": [null, 8, 8, 1]}},
    {"class_name": "MaxPooling2D", "config": {"name": "max_pooling2d_1", "pool_size": [2, 2], "strides": [2, 2], "padding": "valid"}},
    {"class_name": "Flatten", "config": {"name": "flatten_1"}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "softmax", "use_bias": true}}`
	manifest := `
      {"name": "conv2d_1/kernel", "shape": [3, 3, 1, 4], "dtype": "float32"},
      {"name": "conv2d_1/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [36, 2], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*3*1*4+4+36*2+2, 2)
	return Spec{
		Name:      "cnn",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 8, 8, 1),
	}
}

func depthwiseCNN() Spec {
	layersJSON := `
    {"class_name": "DepthwiseConv2D", "config": {"name": "depthwise_conv2d_1", "kernel_size": [3, 3], "strides": [1, 1], "padding": "valid", "depth_multiplier": 2, "activation": "relu", "use_bias": true, "batch_input_shape": [null, 6, 6, 2]}},
    {"class_name": "Flatten", "config": {"name": "flatten_1"}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "linear", "use_bias": true}}`
	manifest := `
      {"name": "depthwise_conv2d_1/depthwise_kernel", "shape": [3, 3, 2, 2], "dtype": "float32"},
      {"name": "depthwise_conv2d_1/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [64, 2], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*3*2*2+4+64*2+2, 3)
	return Spec{
		Name:      "depthwise_cnn",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 6, 6, 2),
	}
}

func simpleRNN() Spec {
	layersJSON := `
    {"class_name": "SimpleRNN", "config": {"name": "simple_rnn_1", "units": 4, "activation": "tanh", "use_bias": true, "return_sequences": false, "batch_input_shape": [null, 5, 3]}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "linear", "use_bias": true}}`
	manifest := `
      {"name": "simple_rnn_1/kernel", "shape": [3, 4], "dtype": "float32"},
      {"name": "simple_rnn_1/recurrent_kernel", "shape": [4, 4], "dtype": "float32"},
      {"name": "simple_rnn_1/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [4, 2], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*4+4*4+4+4*2+2, 4)
	return Spec{
		Name:      "simple_rnn",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 5, 3),
	}
}

func gru() Spec {
	layersJSON := `
    {"class_name": "GRU", "config": {"name": "gru_1", "units": 4, "activation": "tanh", "recurrent_activation": "hard_sigmoid", "use_bias": true, "reset_after": false, "return_sequences": false, "batch_input_shape": [null, 5, 3]}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "linear", "use_bias": true}}`
	manifest := `
      {"name": "gru_1/kernel", "shape": [3, 12], "dtype": "float32"},
      {"name": "gru_1/recurrent_kernel", "shape": [4, 12], "dtype": "float32"},
      {"name": "gru_1/bias", "shape": [12], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [4, 2], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*12+4*12+12+4*2+2, 5)
	return Spec{
		Name:      "gru",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 5, 3),
	}
}

func bidirectionalLSTM() Spec {
	layersJSON := `
    {"class_name": "Bidirectional", "config": {
      "name": "bidirectional_1", "merge_mode": "concat",
      "layer": {"class_name": "LSTM", "config": {"name": "lstm_1", "units": 2, "activation": "tanh", "recurrent_activation": "hard_sigmoid", "use_bias": true, "return_sequences": false}},
      "batch_input_shape": [null, 4, 3]}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 1, "activation": "linear", "use_bias": true}}`
	manifest := `
      {"name": "bidirectional_1/forward_lstm_1/kernel", "shape": [3, 8], "dtype": "float32"},
      {"name": "bidirectional_1/forward_lstm_1/recurrent_kernel", "shape": [2, 8], "dtype": "float32"},
      {"name": "bidirectional_1/forward_lstm_1/bias", "shape": [8], "dtype": "float32"},
      {"name": "bidirectional_1/backward_lstm_1/kernel", "shape": [3, 8], "dtype": "float32"},
      {"name": "bidirectional_1/backward_lstm_1/recurrent_kernel", "shape": [2, 8], "dtype": "float32"},
      {"name": "bidirectional_1/backward_lstm_1/bias", "shape": [8], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [4, 1], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [1], "dtype": "float32"}`

	weights := weightPattern(2*(3*8+2*8+8)+4*1+1, 6)
	return Spec{
		Name:      "bidirectional_lstm",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 4, 3),
	}
}

func timeDistributedLSTM() Spec {
	layersJSON := `
    {"class_name": "LSTM", "config": {"name": "lstm_1", "units": 3, "activation": "tanh", "recurrent_activation": "hard_sigmoid", "use_bias": true, "return_sequences": true, "batch_input_shape": [null, 4, 3]}},
    {"class_name": "TimeDistributed", "config": {
      "name": "time_distributed_1",
      "layer": {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "linear", "use_bias": true}}}}`
	manifest := `
      {"name": "lstm_1/kernel", "shape": [3, 12], "dtype": "float32"},
      {"name": "lstm_1/recurrent_kernel", "shape": [3, 12], "dtype": "float32"},
      {"name": "lstm_1/bias", "shape": [12], "dtype": "float32"},
      {"name": "time_distributed_1/kernel", "shape": [3, 2], "dtype": "float32"},
      {"name": "time_distributed_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*12+3*12+12+3*2+2, 7)
	return Spec{
		Name:      "time_distributed_lstm",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 4, 3),
	}
}

func oneDimensional() Spec {
	layersJSON := `
    {"class_name": "Conv1D", "config": {"name": "conv1d_1", "filters": 4, "kernel_size": [3], "strides": [1], "padding": "valid", "activation": "relu", "use_bias": true, "batch_input_shape": [null, 10, 1]}},
    {"class_name": "MaxPooling1D", "config": {"name": "max_pooling1d_1", "pool_size": [2], "strides": [2], "padding": "valid"}},
    {"class_name": "Flatten", "config": {"name": "flatten_1"}},
    {"class_name": "Dense", "config": {"name": "dense_1", "units": 2, "activation": "linear", "use_bias": true}}`
	manifest := `
      {"name": "conv1d_1/kernel", "shape": [3, 1, 4], "dtype": "float32"},
      {"name": "conv1d_1/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_1/kernel", "shape": [16, 2], "dtype": "float32"},
      {"name": "dense_1/bias", "shape": [2], "dtype": "float32"}`

	weights := weightPattern(3*1*4+4+16*2+2, 8)
	return Spec{
		Name:      "one_dimensional",
		ModelJSON: sequentialJSON(layersJSON, manifest),
		Weights:   weights,
		XS:        inputPattern(2, 10, 1),
	}
}

func functionalMerge() Spec {
	modelJSON := `{
  "modelTopology": {
    "keras_version": "2.1.6",
    "backend": "tensorflow",
    "model_config": {"class_name": "Model", "config": {
      "name": "functional_merge",
      "layers": [
        {"class_name": "InputLayer", "name": "input_1", "config": {"name": "input_1", "batch_input_shape": [null, 4]}, "inbound_nodes": []},
        {"class_name": "InputLayer", "name": "input_2", "config": {"name": "input_2", "batch_input_shape": [null, 4]}, "inbound_nodes": []},
        {"class_name": "Dense", "name": "dense_a", "config": {"name": "dense_a", "units": 4, "activation": "relu", "use_bias": true}, "inbound_nodes": [[["input_1", 0, 0, {}]]]},
        {"class_name": "Dense", "name": "dense_b", "config": {"name": "dense_b", "units": 4, "activation": "relu", "use_bias": true}, "inbound_nodes": [[["input_2", 0, 0, {}]]]},
        {"class_name": "Add", "name": "add_1", "config": {"name": "add_1"}, "inbound_nodes": [[["dense_a", 0, 0, {}], ["dense_b", 0, 0, {}]]]},
        {"class_name": "Dense", "name": "dense_out", "config": {"name": "dense_out", "units": 1, "activation": "linear", "use_bias": true}, "inbound_nodes": [[["add_1", 0, 0, {}]]]}
      ],
      "input_layers": [["input_1", 0, 0], ["input_2", 0, 0]],
      "output_layers": [["dense_out", 0, 0]]}}
  },
  "format": "layers-model",
  "generatedBy": "kerasbridge-testmodels",
  "weightsManifest": [{"paths": ["group1-shard1of1.bin"], "weights": [
      {"name": "dense_a/kernel", "shape": [4, 4], "dtype": "float32"},
      {"name": "dense_a/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_b/kernel", "shape": [4, 4], "dtype": "float32"},
      {"name": "dense_b/bias", "shape": [4], "dtype": "float32"},
      {"name": "dense_out/kernel", "shape": [4, 1], "dtype": "float32"},
      {"name": "dense_out/bias", "shape": [1], "dtype": "float32"}
  ]}]
}`

	weights := weightPattern(4*4+4+4*4+4+4*1+1, 9)
	// Two stacked batches of two rows each, split per input at load time.
	return Spec{
		Name:      "functional_merge",
		ModelJSON: modelJSON,
		Weights:   weights,
		XS:        inputPattern(4, 4),
	}
}
