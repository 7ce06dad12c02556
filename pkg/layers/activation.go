package layers

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// ActivationFunc transforms a slice of values in place. Softmax is the one
// activation that is not elementwise; it normalizes over the last axis, so
// activations receive the row width.
type ActivationFunc func(row []float32)

// selu constants from Klambauer et al., matching Keras.
const (
	seluAlpha = 1.6732631921768188
	seluScale = 1.0507010221481323
)

var activations = map[string]ActivationFunc{
	"linear":       func([]float32) {},
	"relu":         reluRow,
	"sigmoid":      sigmoidRow,
	"hard_sigmoid": hardSigmoidRow,
	"tanh":         tanhRow,
	"softmax":      softmaxRow,
	"softplus":     softplusRow,
	"elu":          eluRow,
	"selu":         seluRow,
}

// LookupActivation resolves an activation by its serialized name.
// An empty name means linear.
func LookupActivation(name string) (ActivationFunc, error) {
	if name == "" {
		name = "linear"
	}
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
	return fn, nil
}

// applyRows applies an activation over the last axis of a flat m×n buffer.
func applyRows(fn ActivationFunc, data []float32, n int) {
	if n <= 0 {
		return
	}
	for i := 0; i+n <= len(data); i += n {
		fn(data[i : i+n])
	}
}

func reluRow(row []float32) {
	for i, v := range row {
		if v < 0 {
			row[i] = 0
		}
	}
}

func sigmoidRow(row []float32) {
	for i, v := range row {
		row[i] = sigmoid(v)
	}
}

func sigmoid(v float32) float32 {
	return 1 / (1 + math32.Exp(-v))
}

// hardSigmoid is the piecewise-linear sigmoid Keras uses as the default
// recurrent activation: clip(0.2x + 0.5, 0, 1).
func hardSigmoid(v float32) float32 {
	v = 0.2*v + 0.5
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func hardSigmoidRow(row []float32) {
	for i, v := range row {
		row[i] = hardSigmoid(v)
	}
}

func tanhRow(row []float32) {
	for i, v := range row {
		row[i] = math32.Tanh(v)
	}
}

func softmaxRow(row []float32) {
	if len(row) == 0 {
		return
	}
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	var sum float32
	for i, v := range row {
		e := math32.Exp(v - max)
		row[i] = e
		sum += e
	}
	for i := range row {
		row[i] /= sum
	}
}

func softplusRow(row []float32) {
	for i, v := range row {
		row[i] = math32.Log(1 + math32.Exp(v))
	}
}

func eluRow(row []float32) {
	for i, v := range row {
		if v < 0 {
			row[i] = math32.Exp(v) - 1
		}
	}
}

func seluRow(row []float32) {
	for i, v := range row {
		if v < 0 {
			row[i] = seluScale * seluAlpha * (math32.Exp(v) - 1)
		} else {
			row[i] = seluScale * v
		}
	}
}

// Activation applies a standalone activation layer.
type Activation struct {
	LayerName string
	Fn        ActivationFunc
}

// NewActivation creates a standalone activation layer.
func NewActivation(name, activation string) (*Activation, error) {
	fn, err := LookupActivation(activation)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", name, err)
	}
	return &Activation{LayerName: name, Fn: fn}, nil
}

func (a *Activation) Name() string { return a.LayerName }

func (a *Activation) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(a.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	out := x.Clone()
	applyRows(a.Fn, out.Data, out.Dim(-1))
	return out, nil
}
