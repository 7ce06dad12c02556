// Package keras parses the layers-model artifact format written by the
// JavaScript exporter: a model.json file holding the serialized Keras
// topology and a weights manifest, plus binary weight shard files.
package keras

import (
	"encoding/json"
	"fmt"
	"os"
)

// ModelJSON is the top-level structure of a model.json artifact.
type ModelJSON struct {
	ModelTopology   json.RawMessage `json:"modelTopology"`
	Format          string          `json:"format,omitempty"`
	GeneratedBy     string          `json:"generatedBy,omitempty"`
	ConvertedBy     string          `json:"convertedBy,omitempty"`
	WeightsManifest []WeightsGroup  `json:"weightsManifest"`
}

// WeightsGroup is one entry of the weights manifest: a list of shard file
// paths whose concatenated bytes hold the listed weights in order.
type WeightsGroup struct {
	Paths   []string      `json:"paths"`
	Weights []WeightEntry `json:"weights"`
}

// WeightEntry describes a single named weight inside a shard group.
type WeightEntry struct {
	Name         string        `json:"name"`
	Shape        []int         `json:"shape"`
	DType        string        `json:"dtype"`
	Quantization *Quantization `json:"quantization,omitempty"`
}

// Quantization describes how a weight was compressed in the shard.
// For affine quantization (uint8/uint16) the stored integers map back to
// floats as value = scale*q + min. For float16 the entries are raw IEEE
// half-precision bits.
type Quantization struct {
	DType string  `json:"dtype"`
	Scale float64 `json:"scale,omitempty"`
	Min   float64 `json:"min,omitempty"`
}

// Topology is the parsed Keras model configuration.
type Topology struct {
	ClassName    string      // "Sequential" or "Model"
	Name         string
	KerasVersion string
	Backend      string
	Layers       []LayerSpec
	InputLayers  []string // functional models only
	OutputLayers []string // functional models only
}

// LayerSpec is one layer of the serialized topology.
type LayerSpec struct {
	ClassName string
	Name      string
	Config    LayerConfig
	// InboundNodes lists, for functional models, the names of the layers
	// feeding each input of this layer, in input order.
	InboundNodes []string
}

// LayerConfig is the raw per-layer configuration map with typed accessors.
type LayerConfig map[string]interface{}

// ParseModelFile reads and parses a model.json artifact.
func ParseModelFile(path string) (*ModelJSON, *Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return ParseModelJSON(raw)
}

// ParseModelJSON parses the bytes of a model.json artifact.
func ParseModelJSON(raw []byte) (*ModelJSON, *Topology, error) {
	var artifact ModelJSON
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	if len(artifact.ModelTopology) == 0 {
		return nil, nil, fmt.Errorf("model JSON has no modelTopology")
	}

	topology, err := parseTopology(artifact.ModelTopology)
	if err != nil {
		return nil, nil, err
	}

	return &artifact, topology, nil
}

// rawTopology mirrors the serialized Keras JSON. Newer exporters nest the
// model under model_config; older ones put class_name/config at the top.
type rawTopology struct {
	KerasVersion string           `json:"keras_version"`
	Backend      string           `json:"backend"`
	ModelConfig  *rawModelConfig  `json:"model_config"`
	ClassName    string           `json:"class_name"`
	Config       json.RawMessage  `json:"config"`
}

type rawModelConfig struct {
	ClassName string          `json:"class_name"`
	Config    json.RawMessage `json:"config"`
}

type rawNetworkConfig struct {
	Name         string            `json:"name"`
	Layers       []rawLayer        `json:"layers"`
	InputLayers  [][]interface{}   `json:"input_layers"`
	OutputLayers [][]interface{}   `json:"output_layers"`
}

type rawLayer struct {
	ClassName    string            `json:"class_name"`
	Name         string            `json:"name"`
	Config       LayerConfig       `json:"config"`
	InboundNodes [][][]interface{} `json:"inbound_nodes"`
}

func parseTopology(raw json.RawMessage) (*Topology, error) {
	var rt rawTopology
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("failed to parse model topology: %w", err)
	}

	className := rt.ClassName
	config := rt.Config
	if rt.ModelConfig != nil {
		className = rt.ModelConfig.ClassName
		config = rt.ModelConfig.Config
	}
	if className == "" {
		return nil, fmt.Errorf("model topology has no class_name")
	}

	topology := &Topology{
		ClassName:    className,
		KerasVersion: rt.KerasVersion,
		Backend:      rt.Backend,
	}

	switch className {
	case "Sequential":
		if err := parseSequentialConfig(config, topology); err != nil {
			return nil, err
		}
	case "Model", "Functional":
		if err := parseFunctionalConfig(config, topology); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported model class %q", className)
	}

	return topology, nil
}

// parseSequentialConfig handles both serialization variants of Sequential
// models: a bare layer list (older Keras) and {name, layers} (newer).
func parseSequentialConfig(config json.RawMessage, topology *Topology) error {
	var layerList []rawLayer
	if err := json.Unmarshal(config, &layerList); err == nil {
		return appendLayers(layerList, topology)
	}

	var wrapped struct {
		Name   string     `json:"name"`
		Layers []rawLayer `json:"layers"`
	}
	if err := json.Unmarshal(config, &wrapped); err != nil {
		return fmt.Errorf("failed to parse Sequential config: %w", err)
	}
	topology.Name = wrapped.Name
	return appendLayers(wrapped.Layers, topology)
}

func parseFunctionalConfig(config json.RawMessage, topology *Topology) error {
	var net rawNetworkConfig
	if err := json.Unmarshal(config, &net); err != nil {
		return fmt.Errorf("failed to parse functional model config: %w", err)
	}
	topology.Name = net.Name
	if err := appendLayers(net.Layers, topology); err != nil {
		return err
	}

	var err error
	if topology.InputLayers, err = nodeRefNames(net.InputLayers); err != nil {
		return fmt.Errorf("invalid input_layers: %w", err)
	}
	if topology.OutputLayers, err = nodeRefNames(net.OutputLayers); err != nil {
		return fmt.Errorf("invalid output_layers: %w", err)
	}
	return nil
}

func appendLayers(raws []rawLayer, topology *Topology) error {
	for i, rl := range raws {
		if rl.ClassName == "" {
			return fmt.Errorf("layer %d has no class_name", i)
		}
		spec := LayerSpec{
			ClassName: rl.ClassName,
			Name:      rl.Name,
			Config:    rl.Config,
		}
		if spec.Name == "" {
			spec.Name = rl.Config.String("name", "")
		}
		if spec.Name == "" {
			return fmt.Errorf("layer %d (%s) has no name", i, rl.ClassName)
		}

		// Keras serializes one inbound node per shared call; the exported
		// test models call each layer once, so only the first node applies.
		if len(rl.InboundNodes) > 0 {
			for _, ref := range rl.InboundNodes[0] {
				name, err := nodeRefName(ref)
				if err != nil {
					return fmt.Errorf("layer %s: %w", spec.Name, err)
				}
				spec.InboundNodes = append(spec.InboundNodes, name)
			}
		}

		topology.Layers = append(topology.Layers, spec)
	}
	return nil
}

// nodeRefName extracts the layer name from a [name, nodeIndex, tensorIndex,
// kwargs] node reference.
func nodeRefName(ref []interface{}) (string, error) {
	if len(ref) == 0 {
		return "", fmt.Errorf("empty node reference")
	}
	name, ok := ref[0].(string)
	if !ok {
		return "", fmt.Errorf("node reference name is %T, want string", ref[0])
	}
	return name, nil
}

func nodeRefNames(refs [][]interface{}) ([]string, error) {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		name, err := nodeRefName(ref)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// String returns a string config value, or fallback when absent.
func (c LayerConfig) String(key, fallback string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return fallback
}

// Int returns an integer config value, or fallback when absent.
func (c LayerConfig) Int(key string, fallback int) int {
	if v, ok := c[key].(float64); ok {
		return int(v)
	}
	return fallback
}

// Float returns a float config value, or fallback when absent.
func (c LayerConfig) Float(key string, fallback float64) float64 {
	if v, ok := c[key].(float64); ok {
		return v
	}
	return fallback
}

// Bool returns a boolean config value, or fallback when absent.
func (c LayerConfig) Bool(key string, fallback bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return fallback
}

// IntList returns an integer list config value (e.g. kernel_size, strides).
// A scalar value is promoted to a single-element list.
func (c LayerConfig) IntList(key string) []int {
	switch v := c[key].(type) {
	case float64:
		return []int{int(v)}
	case []interface{}:
		out := make([]int, 0, len(v))
		for _, elem := range v {
			f, ok := elem.(float64)
			if !ok {
				return nil
			}
			out = append(out, int(f))
		}
		return out
	default:
		return nil
	}
}

// Sub returns a nested config map (e.g. the wrapped layer of Bidirectional).
func (c LayerConfig) Sub(key string) (className string, sub LayerConfig, ok bool) {
	m, ok := c[key].(map[string]interface{})
	if !ok {
		return "", nil, false
	}
	className, _ = m["class_name"].(string)
	cfg, _ := m["config"].(map[string]interface{})
	if className == "" || cfg == nil {
		return "", nil, false
	}
	return className, LayerConfig(cfg), true
}
