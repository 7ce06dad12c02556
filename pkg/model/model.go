// Package model assembles executable models from parsed layers-model
// artifacts and runs inference on them.
package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/modelinterop/kerasbridge/pkg/keras"
	"github.com/modelinterop/kerasbridge/pkg/layers"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Model is a loaded, executable network.
type Model struct {
	Name      string
	ClassName string

	specs  []keras.LayerSpec
	layers map[string]layers.Layer
	order  []string // construction order, used for sequential execution

	inputNames  []string
	outputNames []string
	sequential  bool

	weightCount int
}

// Load reads a model.json artifact and its weight shards (resolved relative
// to the model.json location) and builds an executable model.
func Load(path string) (*Model, error) {
	artifact, topology, err := keras.ParseModelFile(path)
	if err != nil {
		return nil, err
	}

	weights, err := keras.LoadWeights(filepath.Dir(path), artifact.WeightsManifest)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}

	return Build(topology, weights)
}

// Build assembles a model from a parsed topology and decoded weights.
func Build(topology *keras.Topology, weights []keras.NamedTensor) (*Model, error) {
	resolver := newWeightResolver(weights)

	m := &Model{
		Name:       topology.Name,
		ClassName:  topology.ClassName,
		specs:      topology.Layers,
		layers:     make(map[string]layers.Layer, len(topology.Layers)),
		sequential: topology.ClassName == "Sequential",
	}
	for _, w := range weights {
		m.weightCount += w.Tensor.Size()
	}

	for _, spec := range topology.Layers {
		l, err := buildLayer(spec, []string{spec.Name}, resolver)
		if err != nil {
			return nil, err
		}
		if _, dup := m.layers[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate layer name %q", spec.Name)
		}
		m.layers[spec.Name] = l
		m.order = append(m.order, spec.Name)
	}

	if m.sequential {
		if len(m.order) == 0 {
			return nil, fmt.Errorf("sequential model has no layers")
		}
		m.inputNames = []string{m.order[0]}
		m.outputNames = []string{m.order[len(m.order)-1]}
		return m, nil
	}

	m.inputNames = topology.InputLayers
	m.outputNames = topology.OutputLayers
	if len(m.inputNames) == 0 || len(m.outputNames) == 0 {
		return nil, fmt.Errorf("functional model %q missing input or output layers", m.Name)
	}
	for _, name := range append(append([]string(nil), m.inputNames...), m.outputNames...) {
		if _, ok := m.layers[name]; !ok {
			return nil, fmt.Errorf("model references unknown layer %q", name)
		}
	}
	return m, nil
}

// InputCount returns the number of model inputs.
func (m *Model) InputCount() int {
	return len(m.inputNames)
}

// Predict runs the model on the given inputs and returns its (single)
// output tensor. Functional models take one tensor per declared input, in
// declaration order.
func (m *Model) Predict(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	outputs, err := m.predict(inputs)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("model %q has %d outputs; use PredictAll", m.Name, len(outputs))
	}
	return outputs[0], nil
}

// PredictAll runs the model and returns every declared output.
func (m *Model) PredictAll(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	return m.predict(inputs)
}

func (m *Model) predict(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if m.sequential {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("sequential model expects 1 input, got %d", len(inputs))
		}
		x := inputs[0]
		for _, name := range m.order {
			var err error
			x, err = m.layers[name].Call([]*tensor.Tensor{x})
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", name, err)
			}
		}
		return []*tensor.Tensor{x}, nil
	}

	if len(inputs) != len(m.inputNames) {
		return nil, fmt.Errorf("model %q expects %d inputs, got %d", m.Name, len(m.inputNames), len(inputs))
	}

	values := make(map[string]*tensor.Tensor, len(m.specs))
	for i, name := range m.inputNames {
		out, err := m.layers[name].Call([]*tensor.Tensor{inputs[i]})
		if err != nil {
			return nil, fmt.Errorf("input layer %s: %w", name, err)
		}
		values[name] = out
	}

	// Layers are serialized in build order, but resolve iteratively so
	// artifacts with reordered layer lists still execute.
	remaining := make([]keras.LayerSpec, 0, len(m.specs))
	for _, spec := range m.specs {
		if _, done := values[spec.Name]; !done {
			remaining = append(remaining, spec)
		}
	}

	for len(remaining) > 0 {
		progressed := false
		next := remaining[:0]

		for _, spec := range remaining {
			ready := true
			layerInputs := make([]*tensor.Tensor, 0, len(spec.InboundNodes))
			for _, dep := range spec.InboundNodes {
				v, ok := values[dep]
				if !ok {
					ready = false
					break
				}
				layerInputs = append(layerInputs, v)
			}
			if !ready {
				next = append(next, spec)
				continue
			}
			if len(layerInputs) == 0 {
				return nil, fmt.Errorf("layer %q has no inbound nodes and is not an input", spec.Name)
			}

			out, err := m.layers[spec.Name].Call(layerInputs)
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", spec.Name, err)
			}
			values[spec.Name] = out
			progressed = true
		}

		if !progressed {
			names := make([]string, len(next))
			for i, spec := range next {
				names[i] = spec.Name
			}
			return nil, fmt.Errorf("unresolvable layer graph; stuck layers: %s", strings.Join(names, ", "))
		}
		remaining = append([]keras.LayerSpec(nil), next...)
	}

	outputs := make([]*tensor.Tensor, len(m.outputNames))
	for i, name := range m.outputNames {
		outputs[i] = values[name]
	}
	return outputs, nil
}

// Summary returns a human-readable description of the model.
func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %q (%s)\n", m.Name, m.ClassName)
	for i, spec := range m.specs {
		fmt.Fprintf(&sb, "%3d  %-24s %s", i, spec.Name, spec.ClassName)
		if len(spec.InboundNodes) > 0 {
			fmt.Fprintf(&sb, "  <- %s", strings.Join(spec.InboundNodes, ", "))
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Total weights: %d\n", m.weightCount)
	return sb.String()
}
