// Package layers implements inference-only versions of the Keras layers
// that appear in exported models. Tensors are batch-first, channels-last
// float32, matching the exporter's conventions.
package layers

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// Layer is a single computation node of a loaded model. Merge layers accept
// multiple inputs; all others expect exactly one.
type Layer interface {
	// Name returns the layer's topology name.
	Name() string

	// Call applies the layer to its inputs.
	Call(inputs []*tensor.Tensor) (*tensor.Tensor, error)
}

// singleInput unwraps the input list for layers that take exactly one input.
func singleInput(name string, inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("layer %s expects 1 input, got %d", name, len(inputs))
	}
	return inputs[0], nil
}

// matmul computes C = A·B for row-major A (m×k) and B (k×n).
func matmul(a []float32, m, k int, b []float32, n int) []float32 {
	c := make([]float32, m*n)
	if m == 0 || k == 0 || n == 0 {
		return c
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: n, Stride: n, Data: b},
		0,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
	return c
}

// addBias adds a length-n bias vector to each row of a m×n matrix in place.
func addBias(c []float32, m, n int, bias []float32) {
	for i := 0; i < m; i++ {
		row := c[i*n : (i+1)*n]
		for j := range row {
			row[j] += bias[j]
		}
	}
}
