package layers

import (
	"fmt"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Merge combines multiple same-shaped inputs elementwise. Mode is one of
// add, multiply, average, maximum, minimum.
type Merge struct {
	LayerName string
	Mode      string
}

func (l *Merge) Name() string { return l.LayerName }

func (l *Merge) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("merge %s expects at least 2 inputs, got %d", l.LayerName, len(inputs))
	}
	for _, in := range inputs[1:] {
		if !tensor.SameShape(inputs[0].Shape, in.Shape) {
			return nil, fmt.Errorf("merge %s: shape mismatch %v vs %v",
				l.LayerName, inputs[0].Shape, in.Shape)
		}
	}

	out := inputs[0].Clone()
	switch l.Mode {
	case "add":
		for _, in := range inputs[1:] {
			for i, v := range in.Data {
				out.Data[i] += v
			}
		}
	case "multiply":
		for _, in := range inputs[1:] {
			for i, v := range in.Data {
				out.Data[i] *= v
			}
		}
	case "average":
		for _, in := range inputs[1:] {
			for i, v := range in.Data {
				out.Data[i] += v
			}
		}
		n := float32(len(inputs))
		for i := range out.Data {
			out.Data[i] /= n
		}
	case "maximum":
		for _, in := range inputs[1:] {
			for i, v := range in.Data {
				if v > out.Data[i] {
					out.Data[i] = v
				}
			}
		}
	case "minimum":
		for _, in := range inputs[1:] {
			for i, v := range in.Data {
				if v < out.Data[i] {
					out.Data[i] = v
				}
			}
		}
	default:
		return nil, fmt.Errorf("merge %s: unsupported mode %q", l.LayerName, l.Mode)
	}
	return out, nil
}

// Concatenate joins inputs along an axis. Negative axes count from the end.
type Concatenate struct {
	LayerName string
	Axis      int
}

func (l *Concatenate) Name() string { return l.LayerName }

func (l *Concatenate) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("concatenate %s expects at least 2 inputs, got %d", l.LayerName, len(inputs))
	}

	rank := inputs[0].Rank()
	axis := l.Axis
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concatenate %s: axis %d out of range for rank %d", l.LayerName, l.Axis, rank)
	}

	outShape := append([]int(nil), inputs[0].Shape...)
	for _, in := range inputs[1:] {
		if in.Rank() != rank {
			return nil, fmt.Errorf("concatenate %s: rank mismatch %d vs %d", l.LayerName, rank, in.Rank())
		}
		for d := 0; d < rank; d++ {
			if d == axis {
				continue
			}
			if in.Shape[d] != inputs[0].Shape[d] {
				return nil, fmt.Errorf("concatenate %s: shape mismatch %v vs %v",
					l.LayerName, inputs[0].Shape, in.Shape)
			}
		}
		outShape[axis] += in.Shape[axis]
	}

	out := tensor.Zeros(outShape...)

	// Copy in blocks: outer iterates dimensions before the axis, inner is
	// the contiguous span from the axis to the end.
	outer := tensor.ElementCount(outShape[:axis])
	outSpan := tensor.ElementCount(outShape[axis:])

	offset := 0
	for _, in := range inputs {
		inSpan := tensor.ElementCount(in.Shape[axis:])
		for o := 0; o < outer; o++ {
			copy(out.Data[o*outSpan+offset:], in.Data[o*inSpan:(o+1)*inSpan])
		}
		offset += inSpan
	}
	return out, nil
}
