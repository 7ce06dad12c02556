// Package tensor provides the float32 tensor type used by the inference
// engine and the JSON fixture format shared with the JavaScript exporter.
package tensor

import (
	"fmt"
	"strings"
)

// Tensor is a dense row-major float32 tensor.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New creates a tensor with the given shape, taking ownership of data.
// The length of data must match the element count implied by shape.
func New(shape []int, data []float32) (*Tensor, error) {
	n := ElementCount(shape)
	if n != len(data) {
		return nil, fmt.Errorf("shape %v implies %d elements, got %d", shape, n, len(data))
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, ElementCount(shape)),
	}
}

// ElementCount returns the number of elements implied by a shape.
// A zero-length shape is a scalar with one element.
func ElementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Dim returns the size of dimension i, supporting negative indices
// counted from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Reshape returns a view of the tensor with a new shape. A single -1
// dimension is inferred from the element count.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	newShape := append([]int(nil), shape...)
	infer := -1
	known := 1
	for i, d := range newShape {
		if d == -1 {
			if infer != -1 {
				return nil, fmt.Errorf("at most one dimension may be -1, got %v", shape)
			}
			infer = i
		} else {
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || len(t.Data)%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension: %d elements do not divide %v", len(t.Data), shape)
		}
		newShape[infer] = len(t.Data) / known
	}
	if ElementCount(newShape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v", t.Shape, len(t.Data), shape)
	}
	return &Tensor{Shape: newShape, Data: t.Data}, nil
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.offset(indices)]
}

// Set writes the element at the given multi-dimensional index.
func (t *Tensor) Set(v float32, indices ...int) {
	t.Data[t.offset(indices)] = v
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank-%d tensor", len(indices), len(t.Shape)))
	}
	off := 0
	for i, idx := range indices {
		off = off*t.Shape[i] + idx
	}
	return off
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Shape: append([]int(nil), t.Shape...), Data: data}
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String returns a short debug representation.
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor%v[", t.Shape)
	limit := len(t.Data)
	if limit > 8 {
		limit = 8
	}
	for i := 0; i < limit; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", t.Data[i])
	}
	if len(t.Data) > limit {
		sb.WriteString(", ...")
	}
	sb.WriteString("]")
	return sb.String()
}
