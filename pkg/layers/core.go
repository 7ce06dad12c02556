package layers

import (
	"fmt"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// InputLayer validates that the fed tensor matches the declared input shape.
// The batch dimension (index 0) is unconstrained; nil dimensions in the
// declared shape are wildcards.
type InputLayer struct {
	LayerName string
	// BatchInputShape as serialized, with -1 for null entries.
	BatchInputShape []int
}

func (l *InputLayer) Name() string { return l.LayerName }

func (l *InputLayer) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if len(l.BatchInputShape) > 0 {
		if len(x.Shape) != len(l.BatchInputShape) {
			return nil, fmt.Errorf("input %s: rank %d does not match declared shape %v",
				l.LayerName, len(x.Shape), l.BatchInputShape)
		}
		for i := 1; i < len(l.BatchInputShape); i++ {
			if l.BatchInputShape[i] >= 0 && l.BatchInputShape[i] != x.Shape[i] {
				return nil, fmt.Errorf("input %s: shape %v does not match declared shape %v",
					l.LayerName, x.Shape, l.BatchInputShape)
			}
		}
	}
	return x, nil
}

// Dense is a fully connected layer: y = activation(x·kernel + bias).
// Inputs of rank greater than 2 are treated as a stack of vectors over the
// last axis, matching Keras semantics.
type Dense struct {
	LayerName string
	Kernel    *tensor.Tensor // [in, units]
	Bias      *tensor.Tensor // [units], nil when use_bias is false
	Fn        ActivationFunc
}

func (l *Dense) Name() string { return l.LayerName }

func (l *Dense) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() < 2 {
		return nil, fmt.Errorf("dense %s: input rank %d, want >= 2", l.LayerName, x.Rank())
	}

	in := l.Kernel.Shape[0]
	units := l.Kernel.Shape[1]
	if x.Dim(-1) != in {
		return nil, fmt.Errorf("dense %s: input features %d do not match kernel %v",
			l.LayerName, x.Dim(-1), l.Kernel.Shape)
	}

	rows := x.Size() / in
	out := matmul(x.Data, rows, in, l.Kernel.Data, units)
	if l.Bias != nil {
		addBias(out, rows, units, l.Bias.Data)
	}
	if l.Fn != nil {
		applyRows(l.Fn, out, units)
	}

	outShape := append([]int(nil), x.Shape...)
	outShape[len(outShape)-1] = units
	return tensor.New(outShape, out)
}

// Flatten collapses all non-batch dimensions into one.
type Flatten struct {
	LayerName string
}

func (l *Flatten) Name() string { return l.LayerName }

func (l *Flatten) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() < 1 {
		return nil, fmt.Errorf("flatten %s: scalar input", l.LayerName)
	}
	return x.Reshape(x.Shape[0], -1)
}

// Dropout is an identity at inference time.
type Dropout struct {
	LayerName string
}

func (l *Dropout) Name() string { return l.LayerName }

func (l *Dropout) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	return singleInput(l.LayerName, inputs)
}

// Reshape reshapes the non-batch dimensions to a serialized target shape.
type Reshape struct {
	LayerName   string
	TargetShape []int // without the batch dimension; -1 entries inferred
}

func (l *Reshape) Name() string { return l.LayerName }

func (l *Reshape) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	shape := append([]int{x.Shape[0]}, l.TargetShape...)
	return x.Reshape(shape...)
}
