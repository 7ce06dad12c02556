package keras_test

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/modelinterop/kerasbridge/pkg/keras"
)

const sequentialModelJSON = `{
  "modelTopology": {
    "keras_version": "2.1.6",
    "backend": "tensorflow",
    "model_config": {
      "class_name": "Sequential",
      "config": {
        "name": "sequential_1",
        "layers": [
          {"class_name": "Dense", "config": {"name": "dense_1", "units": 3, "activation": "relu", "use_bias": true}},
          {"class_name": "Dense", "config": {"name": "dense_2", "units": 1, "activation": "linear", "use_bias": true}}
        ]
      }
    }
  },
  "format": "layers-model",
  "weightsManifest": [
    {"paths": ["group1-shard1of1.bin"],
     "weights": [
       {"name": "dense_1/kernel", "shape": [2, 3], "dtype": "float32"},
       {"name": "dense_1/bias", "shape": [3], "dtype": "float32"}
     ]}
  ]
}`

const functionalModelJSON = `{
  "modelTopology": {
    "keras_version": "2.1.6",
    "backend": "tensorflow",
    "model_config": {
      "class_name": "Model",
      "config": {
        "name": "merge_model",
        "layers": [
          {"class_name": "InputLayer", "name": "input1", "config": {"name": "input1", "batch_input_shape": [null, 2]}, "inbound_nodes": []},
          {"class_name": "InputLayer", "name": "input2", "config": {"name": "input2", "batch_input_shape": [null, 2]}, "inbound_nodes": []},
          {"class_name": "Concatenate", "name": "concat", "config": {"name": "concat", "axis": -1},
           "inbound_nodes": [[["input1", 0, 0, {}], ["input2", 0, 0, {}]]]},
          {"class_name": "Dense", "name": "out", "config": {"name": "out", "units": 1, "activation": "linear"},
           "inbound_nodes": [[["concat", 0, 0, {}]]]}
        ],
        "input_layers": [["input1", 0, 0], ["input2", 0, 0]],
        "output_layers": [["out", 0, 0]]
      }
    }
  },
  "weightsManifest": []
}`

// bareSequentialJSON exercises the older serialization where modelTopology
// holds class_name/config directly and the Sequential config is a layer list.
const bareSequentialJSON = `{
  "modelTopology": {
    "class_name": "Sequential",
    "config": [
      {"class_name": "Dense", "config": {"name": "dense_1", "units": 4}}
    ]
  },
  "weightsManifest": []
}`

func TestParseSequentialTopology(t *testing.T) {
	artifact, topology, err := keras.ParseModelJSON([]byte(sequentialModelJSON))
	require.NoError(t, err)

	require.Equal(t, "layers-model", artifact.Format)
	require.Len(t, artifact.WeightsManifest, 1)
	require.Equal(t, []string{"group1-shard1of1.bin"}, artifact.WeightsManifest[0].Paths)

	require.Equal(t, "Sequential", topology.ClassName)
	require.Equal(t, "sequential_1", topology.Name)
	require.Equal(t, "2.1.6", topology.KerasVersion)
	require.Len(t, topology.Layers, 2)
	require.Equal(t, "Dense", topology.Layers[0].ClassName)
	require.Equal(t, "dense_1", topology.Layers[0].Name)
	require.Equal(t, 3, topology.Layers[0].Config.Int("units", 0))
	require.Equal(t, "relu", topology.Layers[0].Config.String("activation", ""))
}

func TestParseBareSequentialTopology(t *testing.T) {
	_, topology, err := keras.ParseModelJSON([]byte(bareSequentialJSON))
	require.NoError(t, err)
	require.Len(t, topology.Layers, 1)
	require.Equal(t, "dense_1", topology.Layers[0].Name)
	require.Equal(t, 4, topology.Layers[0].Config.Int("units", 0))
}

func TestParseFunctionalTopology(t *testing.T) {
	_, topology, err := keras.ParseModelJSON([]byte(functionalModelJSON))
	require.NoError(t, err)

	require.Equal(t, "Model", topology.ClassName)
	require.Equal(t, []string{"input1", "input2"}, topology.InputLayers)
	require.Equal(t, []string{"out"}, topology.OutputLayers)

	require.Len(t, topology.Layers, 4)
	concat := topology.Layers[2]
	require.Equal(t, "Concatenate", concat.ClassName)
	require.Equal(t, []string{"input1", "input2"}, concat.InboundNodes)
}

func TestParseModelJSONErrors(t *testing.T) {
	t.Run("invalid JSON", func(t *testing.T) {
		_, _, err := keras.ParseModelJSON([]byte("{not json"))
		require.Error(t, err)
	})

	t.Run("missing topology", func(t *testing.T) {
		_, _, err := keras.ParseModelJSON([]byte(`{"weightsManifest": []}`))
		require.Error(t, err)
	})

	t.Run("unsupported model class", func(t *testing.T) {
		_, _, err := keras.ParseModelJSON([]byte(`{"modelTopology": {"class_name": "Oracle", "config": {}}}`))
		require.Error(t, err)
	})
}

func TestLayerConfigAccessors(t *testing.T) {
	cfg := keras.LayerConfig{
		"units":       float64(8),
		"activation":  "tanh",
		"use_bias":    false,
		"rate":        0.5,
		"kernel_size": []interface{}{float64(3), float64(3)},
		"strides":     float64(2),
		"layer": map[string]interface{}{
			"class_name": "LSTM",
			"config":     map[string]interface{}{"units": float64(4)},
		},
	}

	require.Equal(t, 8, cfg.Int("units", 0))
	require.Equal(t, 7, cfg.Int("absent", 7))
	require.Equal(t, "tanh", cfg.String("activation", ""))
	require.False(t, cfg.Bool("use_bias", true))
	require.True(t, cfg.Bool("absent", true))
	require.Equal(t, 0.5, cfg.Float("rate", 0))
	require.Equal(t, []int{3, 3}, cfg.IntList("kernel_size"))
	require.Equal(t, []int{2}, cfg.IntList("strides"))
	require.Nil(t, cfg.IntList("absent"))

	className, sub, ok := cfg.Sub("layer")
	require.True(t, ok)
	require.Equal(t, "LSTM", className)
	require.Equal(t, 4, sub.Int("units", 0))
}

func writeShard(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func float32Bytes(values ...float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func TestLoadWeightsFloat32(t *testing.T) {
	dir := t.TempDir()
	writeShard(t, dir, "group1-shard1of1.bin", float32Bytes(1, 2, 3, 4, 5, 6, 0.5, -0.5, 0))

	manifest := []keras.WeightsGroup{{
		Paths: []string{"group1-shard1of1.bin"},
		Weights: []keras.WeightEntry{
			{Name: "dense_1/kernel", Shape: []int{2, 3}, DType: "float32"},
			{Name: "dense_1/bias", Shape: []int{3}, DType: "float32"},
		},
	}}

	weights, err := keras.LoadWeights(dir, manifest)
	require.NoError(t, err)
	require.Len(t, weights, 2)
	require.Equal(t, "dense_1/kernel", weights[0].Name)
	require.Equal(t, []float32{1, 2, 3, 4, 5, 6}, weights[0].Tensor.Data)
	require.Equal(t, []float32{0.5, -0.5, 0}, weights[1].Tensor.Data)

	m := keras.ToMap(weights)
	require.Contains(t, m, "dense_1/bias")
}

func TestLoadWeightsMultipleShards(t *testing.T) {
	dir := t.TempDir()
	all := float32Bytes(1, 2, 3, 4)
	writeShard(t, dir, "group1-shard1of2.bin", all[:6])
	writeShard(t, dir, "group1-shard2of2.bin", all[6:])

	manifest := []keras.WeightsGroup{{
		Paths: []string{"group1-shard1of2.bin", "group1-shard2of2.bin"},
		Weights: []keras.WeightEntry{
			{Name: "w", Shape: []int{4}, DType: "float32"},
		},
	}}

	weights, err := keras.LoadWeights(dir, manifest)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, weights[0].Tensor.Data)
}

func TestLoadWeightsQuantized(t *testing.T) {
	t.Run("uint8 affine", func(t *testing.T) {
		dir := t.TempDir()
		writeShard(t, dir, "q.bin", []byte{0, 128, 255})

		manifest := []keras.WeightsGroup{{
			Paths: []string{"q.bin"},
			Weights: []keras.WeightEntry{{
				Name: "w", Shape: []int{3}, DType: "float32",
				Quantization: &keras.Quantization{DType: "uint8", Scale: 0.1, Min: -12.8},
			}},
		}}

		weights, err := keras.LoadWeights(dir, manifest)
		require.NoError(t, err)
		got := weights[0].Tensor.Data
		require.InDelta(t, -12.8, got[0], 1e-6)
		require.InDelta(t, 0.0, got[1], 1e-5)
		require.InDelta(t, 12.7, got[2], 1e-5)
	})

	t.Run("uint16 affine", func(t *testing.T) {
		dir := t.TempDir()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:], 0)
		binary.LittleEndian.PutUint16(buf[2:], 1000)

		writeShard(t, dir, "q16.bin", buf)

		manifest := []keras.WeightsGroup{{
			Paths: []string{"q16.bin"},
			Weights: []keras.WeightEntry{{
				Name: "w", Shape: []int{2}, DType: "float32",
				Quantization: &keras.Quantization{DType: "uint16", Scale: 0.001, Min: -0.5},
			}},
		}}

		weights, err := keras.LoadWeights(dir, manifest)
		require.NoError(t, err)
		require.InDelta(t, -0.5, weights[0].Tensor.Data[0], 1e-6)
		require.InDelta(t, 0.5, weights[0].Tensor.Data[1], 1e-6)
	})

	t.Run("float16", func(t *testing.T) {
		dir := t.TempDir()
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:], float16.Fromfloat32(1.5).Bits())
		binary.LittleEndian.PutUint16(buf[2:], float16.Fromfloat32(-0.25).Bits())
		writeShard(t, dir, "h.bin", buf)

		manifest := []keras.WeightsGroup{{
			Paths: []string{"h.bin"},
			Weights: []keras.WeightEntry{{
				Name: "w", Shape: []int{2}, DType: "float32",
				Quantization: &keras.Quantization{DType: "float16"},
			}},
		}}

		weights, err := keras.LoadWeights(dir, manifest)
		require.NoError(t, err)
		require.Equal(t, []float32{1.5, -0.25}, weights[0].Tensor.Data)
	})
}

func TestLoadWeightsErrors(t *testing.T) {
	t.Run("missing shard file", func(t *testing.T) {
		manifest := []keras.WeightsGroup{{
			Paths:   []string{"nope.bin"},
			Weights: []keras.WeightEntry{{Name: "w", Shape: []int{1}, DType: "float32"}},
		}}
		_, err := keras.LoadWeights(t.TempDir(), manifest)
		require.Error(t, err)
	})

	t.Run("truncated shard", func(t *testing.T) {
		dir := t.TempDir()
		writeShard(t, dir, "short.bin", float32Bytes(1))

		manifest := []keras.WeightsGroup{{
			Paths:   []string{"short.bin"},
			Weights: []keras.WeightEntry{{Name: "w", Shape: []int{2}, DType: "float32"}},
		}}
		_, err := keras.LoadWeights(dir, manifest)
		require.ErrorContains(t, err, "truncated")
	})

	t.Run("trailing bytes", func(t *testing.T) {
		dir := t.TempDir()
		writeShard(t, dir, "long.bin", float32Bytes(1, 2))

		manifest := []keras.WeightsGroup{{
			Paths:   []string{"long.bin"},
			Weights: []keras.WeightEntry{{Name: "w", Shape: []int{1}, DType: "float32"}},
		}}
		_, err := keras.LoadWeights(dir, manifest)
		require.ErrorContains(t, err, "trailing")
	})

	t.Run("unknown dtype", func(t *testing.T) {
		dir := t.TempDir()
		writeShard(t, dir, "u.bin", float32Bytes(1))

		manifest := []keras.WeightsGroup{{
			Paths:   []string{"u.bin"},
			Weights: []keras.WeightEntry{{Name: "w", Shape: []int{1}, DType: "complex64"}},
		}}
		_, err := keras.LoadWeights(dir, manifest)
		require.ErrorContains(t, err, "unsupported dtype")
	})

	t.Run("quantized without parameters", func(t *testing.T) {
		dir := t.TempDir()
		writeShard(t, dir, "x.bin", []byte{1})

		manifest := []keras.WeightsGroup{{
			Paths: []string{"x.bin"},
			Weights: []keras.WeightEntry{{
				Name: "w", Shape: []int{1}, DType: "float32",
				Quantization: &keras.Quantization{DType: "uint8"},
			}},
		}}
		// Scale/min of zero still decode; only missing struct is an error.
		_, err := keras.LoadWeights(dir, manifest)
		require.NoError(t, err)
	})
}

func TestParseModelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(path, []byte(sequentialModelJSON), 0644))

	_, topology, err := keras.ParseModelFile(path)
	require.NoError(t, err)
	require.Equal(t, "Sequential", topology.ClassName)

	_, _, err = keras.ParseModelFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
