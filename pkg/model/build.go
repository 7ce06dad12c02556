package model

import (
	"fmt"
	"strings"

	"github.com/modelinterop/kerasbridge/pkg/keras"
	"github.com/modelinterop/kerasbridge/pkg/layers"
	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// weightResolver finds manifest weights for a layer scope. Exporters differ
// in how they prefix weight names (plain layer names, wrapper scopes, or a
// trailing ":0" variable suffix), so lookups try exact and suffix matches.
type weightResolver struct {
	weights keras.WeightMap
}

func newWeightResolver(named []keras.NamedTensor) *weightResolver {
	m := make(keras.WeightMap, len(named))
	for _, w := range named {
		m[strings.TrimSuffix(w.Name, ":0")] = w.Tensor
	}
	return &weightResolver{weights: m}
}

// find locates a weight named <scope>/<weight>, trying each scope in order.
func (r *weightResolver) find(scopes []string, weight string) (*tensor.Tensor, error) {
	for _, scope := range scopes {
		key := scope + "/" + weight
		if t, ok := r.weights[key]; ok {
			return t, nil
		}
		suffix := "/" + key
		for name, t := range r.weights {
			if strings.HasSuffix(name, suffix) {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("weight %q not found for layer %q", weight, scopes[0])
}

// optional is like find but returns nil when the weight is absent, for
// layers with use_bias false.
func (r *weightResolver) optional(scopes []string, weight string) *tensor.Tensor {
	t, err := r.find(scopes, weight)
	if err != nil {
		return nil
	}
	return t
}

// buildLayer constructs the runtime layer for one topology entry.
// scopes lists the weight-name prefixes to search, outermost first.
func buildLayer(spec keras.LayerSpec, scopes []string, r *weightResolver) (layers.Layer, error) {
	cfg := spec.Config
	name := spec.Name

	activation := func(key string, fallback string) (layers.ActivationFunc, error) {
		fn, err := layers.LookupActivation(cfg.String(key, fallback))
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
		return fn, nil
	}

	switch spec.ClassName {
	case "InputLayer":
		return &layers.InputLayer{
			LayerName:       name,
			BatchInputShape: batchInputShape(cfg),
		}, nil

	case "Dense":
		fn, err := activation("activation", "linear")
		if err != nil {
			return nil, err
		}
		kernel, err := r.find(scopes, "kernel")
		if err != nil {
			return nil, err
		}
		dense := &layers.Dense{LayerName: name, Kernel: kernel, Fn: fn}
		if cfg.Bool("use_bias", true) {
			if dense.Bias, err = r.find(scopes, "bias"); err != nil {
				return nil, err
			}
		}
		return dense, nil

	case "Activation":
		return layers.NewActivation(name, cfg.String("activation", "linear"))

	case "Flatten":
		return &layers.Flatten{LayerName: name}, nil

	case "Dropout", "SpatialDropout1D", "SpatialDropout2D":
		return &layers.Dropout{LayerName: name}, nil

	case "Reshape":
		target := cfg.IntList("target_shape")
		if target == nil {
			return nil, fmt.Errorf("layer %s: missing target_shape", name)
		}
		return &layers.Reshape{LayerName: name, TargetShape: target}, nil

	case "Conv2D":
		return buildConv2D(name, cfg, scopes, r)

	case "DepthwiseConv2D":
		return buildDepthwiseConv2D(name, cfg, scopes, r)

	case "Conv1D":
		return buildConv1D(name, cfg, scopes, r)

	case "MaxPooling2D":
		pool := pair(cfg.IntList("pool_size"), 2)
		strides := pair(cfg.IntList("strides"), 0)
		if strides == [2]int{0, 0} {
			strides = pool
		}
		same, err := parsePaddingConfig(name, cfg)
		if err != nil {
			return nil, err
		}
		return &layers.MaxPooling2D{LayerName: name, PoolSize: pool, Strides: strides, SamePad: same}, nil

	case "MaxPooling1D":
		pool := first(cfg.IntList("pool_size"), 2)
		stride := first(cfg.IntList("strides"), pool)
		same, err := parsePaddingConfig(name, cfg)
		if err != nil {
			return nil, err
		}
		return &layers.MaxPooling1D{LayerName: name, PoolSize: pool, Stride: stride, SamePad: same}, nil

	case "GlobalAveragePooling2D":
		return &layers.GlobalAveragePooling2D{LayerName: name}, nil

	case "SimpleRNN":
		return buildSimpleRNN(name, cfg, scopes, r)

	case "GRU":
		return buildGRU(name, cfg, scopes, r)

	case "LSTM":
		return buildLSTM(name, cfg, scopes, r)

	case "Bidirectional":
		return buildBidirectional(spec, scopes, r)

	case "TimeDistributed":
		return buildTimeDistributed(spec, scopes, r)

	case "Add":
		return &layers.Merge{LayerName: name, Mode: "add"}, nil
	case "Multiply":
		return &layers.Merge{LayerName: name, Mode: "multiply"}, nil
	case "Average":
		return &layers.Merge{LayerName: name, Mode: "average"}, nil
	case "Maximum":
		return &layers.Merge{LayerName: name, Mode: "maximum"}, nil
	case "Minimum":
		return &layers.Merge{LayerName: name, Mode: "minimum"}, nil
	case "Concatenate":
		return &layers.Concatenate{LayerName: name, Axis: cfg.Int("axis", -1)}, nil

	default:
		return nil, fmt.Errorf("unsupported layer class %q (layer %s)", spec.ClassName, name)
	}
}

func buildConv2D(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "linear"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	same, err := parsePaddingConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	kernel, err := r.find(scopes, "kernel")
	if err != nil {
		return nil, err
	}

	conv := &layers.Conv2D{
		LayerName: name,
		Kernel:    kernel,
		Strides:   pair(cfg.IntList("strides"), 1),
		SamePad:   same,
		Fn:        fn,
	}
	if cfg.Bool("use_bias", true) {
		if conv.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func buildDepthwiseConv2D(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "linear"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	same, err := parsePaddingConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	kernel, err := r.find(scopes, "depthwise_kernel")
	if err != nil {
		return nil, err
	}

	conv := &layers.DepthwiseConv2D{
		LayerName: name,
		Kernel:    kernel,
		Strides:   pair(cfg.IntList("strides"), 1),
		SamePad:   same,
		Fn:        fn,
	}
	if cfg.Bool("use_bias", true) {
		if conv.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func buildConv1D(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "linear"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	same, err := parsePaddingConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	kernel, err := r.find(scopes, "kernel")
	if err != nil {
		return nil, err
	}

	conv := &layers.Conv1D{
		LayerName: name,
		Kernel:    kernel,
		Stride:    first(cfg.IntList("strides"), 1),
		SamePad:   same,
		Fn:        fn,
	}
	if cfg.Bool("use_bias", true) {
		if conv.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return conv, nil
}

func buildSimpleRNN(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "tanh"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	kernel, err := r.find(scopes, "kernel")
	if err != nil {
		return nil, err
	}
	recurrent, err := r.find(scopes, "recurrent_kernel")
	if err != nil {
		return nil, err
	}

	rnn := &layers.SimpleRNN{
		LayerName:       name,
		Kernel:          kernel,
		Recurrent:       recurrent,
		Fn:              fn,
		ReturnSequences: cfg.Bool("return_sequences", false),
		GoBackwards:     cfg.Bool("go_backwards", false),
	}
	if cfg.Bool("use_bias", true) {
		if rnn.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return rnn, nil
}

func buildGRU(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "tanh"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	recFn, err := layers.LookupActivation(cfg.String("recurrent_activation", "hard_sigmoid"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	kernel, err := r.find(scopes, "kernel")
	if err != nil {
		return nil, err
	}
	recurrent, err := r.find(scopes, "recurrent_kernel")
	if err != nil {
		return nil, err
	}

	gru := &layers.GRU{
		LayerName:       name,
		Kernel:          kernel,
		Recurrent:       recurrent,
		Fn:              fn,
		RecurrentFn:     recFn,
		ResetAfter:      cfg.Bool("reset_after", false),
		ReturnSequences: cfg.Bool("return_sequences", false),
		GoBackwards:     cfg.Bool("go_backwards", false),
	}
	if cfg.Bool("use_bias", true) {
		if gru.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return gru, nil
}

func buildLSTM(name string, cfg keras.LayerConfig, scopes []string, r *weightResolver) (layers.Layer, error) {
	fn, err := layers.LookupActivation(cfg.String("activation", "tanh"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	recFn, err := layers.LookupActivation(cfg.String("recurrent_activation", "hard_sigmoid"))
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	kernel, err := r.find(scopes, "kernel")
	if err != nil {
		return nil, err
	}
	recurrent, err := r.find(scopes, "recurrent_kernel")
	if err != nil {
		return nil, err
	}

	lstm := &layers.LSTM{
		LayerName:       name,
		Kernel:          kernel,
		Recurrent:       recurrent,
		Fn:              fn,
		RecurrentFn:     recFn,
		ReturnSequences: cfg.Bool("return_sequences", false),
		GoBackwards:     cfg.Bool("go_backwards", false),
	}
	if cfg.Bool("use_bias", true) {
		if lstm.Bias, err = r.find(scopes, "bias"); err != nil {
			return nil, err
		}
	}
	return lstm, nil
}

// buildBidirectional constructs forward and backward copies of the wrapped
// recurrent layer. Weights live under "<wrapper>/forward_<inner>" and
// "<wrapper>/backward_<inner>" scopes.
func buildBidirectional(spec keras.LayerSpec, scopes []string, r *weightResolver) (layers.Layer, error) {
	innerClass, innerCfg, ok := spec.Config.Sub("layer")
	if !ok {
		return nil, fmt.Errorf("bidirectional %s: missing wrapped layer config", spec.Name)
	}
	innerName := innerCfg.String("name", "")
	if innerName == "" {
		return nil, fmt.Errorf("bidirectional %s: wrapped layer has no name", spec.Name)
	}

	scoped := func(direction string) []string {
		out := make([]string, 0, 2*len(scopes)+1)
		for _, s := range scopes {
			out = append(out, s+"/"+direction+"_"+innerName)
		}
		out = append(out, direction+"_"+innerName)
		return out
	}

	forwardSpec := keras.LayerSpec{
		ClassName: innerClass,
		Name:      "forward_" + innerName,
		Config:    innerCfg,
	}
	forward, err := buildLayer(forwardSpec, scoped("forward"), r)
	if err != nil {
		return nil, fmt.Errorf("bidirectional %s: %w", spec.Name, err)
	}

	backwardCfg := make(keras.LayerConfig, len(innerCfg)+1)
	for k, v := range innerCfg {
		backwardCfg[k] = v
	}
	backwardCfg["go_backwards"] = !innerCfg.Bool("go_backwards", false)
	backwardSpec := keras.LayerSpec{
		ClassName: innerClass,
		Name:      "backward_" + innerName,
		Config:    backwardCfg,
	}
	backward, err := buildLayer(backwardSpec, scoped("backward"), r)
	if err != nil {
		return nil, fmt.Errorf("bidirectional %s: %w", spec.Name, err)
	}

	return &layers.Bidirectional{
		LayerName:       spec.Name,
		Forward:         forward,
		Backward:        backward,
		MergeMode:       spec.Config.String("merge_mode", "concat"),
		ReturnSequences: innerCfg.Bool("return_sequences", false),
	}, nil
}

// buildTimeDistributed wraps the inner layer. The inner layer's weights may
// be scoped under the wrapper's name or under the inner layer's own name
// depending on exporter version, so both are searched.
func buildTimeDistributed(spec keras.LayerSpec, scopes []string, r *weightResolver) (layers.Layer, error) {
	innerClass, innerCfg, ok := spec.Config.Sub("layer")
	if !ok {
		return nil, fmt.Errorf("time distributed %s: missing wrapped layer config", spec.Name)
	}
	innerName := innerCfg.String("name", "")

	innerScopes := append([]string(nil), scopes...)
	if innerName != "" {
		innerScopes = append(innerScopes, innerName)
		for _, s := range scopes {
			innerScopes = append(innerScopes, s+"/"+innerName)
		}
	}

	innerSpec := keras.LayerSpec{
		ClassName: innerClass,
		Name:      spec.Name + "_inner",
		Config:    innerCfg,
	}
	inner, err := buildLayer(innerSpec, innerScopes, r)
	if err != nil {
		return nil, fmt.Errorf("time distributed %s: %w", spec.Name, err)
	}

	return &layers.TimeDistributed{LayerName: spec.Name, Inner: inner}, nil
}

func parsePaddingConfig(name string, cfg keras.LayerConfig) (bool, error) {
	switch cfg.String("padding", "valid") {
	case "same":
		return true, nil
	case "valid":
		return false, nil
	default:
		return false, fmt.Errorf("layer %s: unsupported padding %q", name, cfg.String("padding", ""))
	}
}

// batchInputShape decodes batch_input_shape, mapping null entries to -1.
func batchInputShape(cfg keras.LayerConfig) []int {
	raw, ok := cfg["batch_input_shape"].([]interface{})
	if !ok {
		return nil
	}
	shape := make([]int, len(raw))
	for i, v := range raw {
		if f, ok := v.(float64); ok {
			shape[i] = int(f)
		} else {
			shape[i] = -1
		}
	}
	return shape
}

func pair(v []int, fallback int) [2]int {
	switch len(v) {
	case 0:
		return [2]int{fallback, fallback}
	case 1:
		return [2]int{v[0], v[0]}
	default:
		return [2]int{v[0], v[1]}
	}
}

func first(v []int, fallback int) int {
	if len(v) == 0 {
		return fallback
	}
	return v[0]
}
