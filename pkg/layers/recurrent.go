package layers

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// matmulBlock computes A·B[:, colFrom:colTo] for row-major A (m×k) and a
// column block of row-major B (k×n). Gate kernels are stored as one wide
// matrix with per-gate column blocks.
func matmulBlock(a []float32, m, k int, b []float32, n, colFrom, colTo int) []float32 {
	w := colTo - colFrom
	c := make([]float32, m*w)
	if m == 0 || k == 0 || w == 0 {
		return c
	}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1,
		blas32.General{Rows: m, Cols: k, Stride: k, Data: a},
		blas32.General{Rows: k, Cols: w, Stride: n, Data: b[colFrom:]},
		0,
		blas32.General{Rows: m, Cols: w, Stride: w, Data: c},
	)
	return c
}

// timeStep gathers timestep t of a [batch, steps, features] tensor into a
// [batch*features] buffer.
func timeStep(x *tensor.Tensor, t int, buf []float32) {
	batch, steps, features := x.Shape[0], x.Shape[1], x.Shape[2]
	for b := 0; b < batch; b++ {
		src := (b*steps + t) * features
		copy(buf[b*features:(b+1)*features], x.Data[src:src+features])
	}
}

// storeTimeStep writes a [batch*features] buffer into timestep t of a
// [batch, steps, features] tensor.
func storeTimeStep(out *tensor.Tensor, t int, buf []float32) {
	batch, steps, features := out.Shape[0], out.Shape[1], out.Shape[2]
	for b := 0; b < batch; b++ {
		dst := (b*steps + t) * features
		copy(out.Data[dst:dst+features], buf[b*features:(b+1)*features])
	}
}

// reverseTime reverses a [batch, steps, features] tensor along the time axis.
func reverseTime(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.Zeros(x.Shape...)
	steps := x.Shape[1]
	buf := make([]float32, x.Shape[0]*x.Shape[2])
	for t := 0; t < steps; t++ {
		timeStep(x, t, buf)
		storeTimeStep(out, steps-1-t, buf)
	}
	return out
}

// rnnCore drives a step function over a [batch, steps, features] input.
type rnnCore struct {
	name            string
	units           int
	returnSequences bool
	goBackwards     bool
	// step consumes the gathered input for one timestep and the previous
	// hidden state, returning the next hidden state.
	step func(xt []float32, batch int, h []float32) []float32
}

func (c *rnnCore) run(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Rank() != 3 {
		return nil, fmt.Errorf("recurrent layer %s: input rank %d, want 3", c.name, x.Rank())
	}
	batch, steps, features := x.Shape[0], x.Shape[1], x.Shape[2]

	h := make([]float32, batch*c.units)
	xt := make([]float32, batch*features)

	var seq *tensor.Tensor
	if c.returnSequences {
		seq = tensor.Zeros(batch, steps, c.units)
	}

	for i := 0; i < steps; i++ {
		t := i
		if c.goBackwards {
			t = steps - 1 - i
		}
		timeStep(x, t, xt)
		h = c.step(xt, batch, h)
		if seq != nil {
			// Sequences are emitted in processing order, matching Keras:
			// a go_backwards layer yields the reversed sequence.
			storeTimeStep(seq, i, h)
		}
	}

	if seq != nil {
		return seq, nil
	}
	last := tensor.Zeros(batch, c.units)
	copy(last.Data, h)
	return last, nil
}

// SimpleRNN is the fully connected recurrence h_t = act(x·K + h·R + b).
type SimpleRNN struct {
	LayerName       string
	Kernel          *tensor.Tensor // [in, units]
	Recurrent       *tensor.Tensor // [units, units]
	Bias            *tensor.Tensor // [units], nil when use_bias is false
	Fn              ActivationFunc
	ReturnSequences bool
	GoBackwards     bool
}

func (l *SimpleRNN) Name() string { return l.LayerName }

func (l *SimpleRNN) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	in, units := l.Kernel.Shape[0], l.Kernel.Shape[1]
	if x.Rank() == 3 && x.Shape[2] != in {
		return nil, fmt.Errorf("simple rnn %s: input features %d do not match kernel %v",
			l.LayerName, x.Shape[2], l.Kernel.Shape)
	}

	core := &rnnCore{
		name:            l.LayerName,
		units:           units,
		returnSequences: l.ReturnSequences,
		goBackwards:     l.GoBackwards,
		step: func(xt []float32, batch int, h []float32) []float32 {
			next := matmul(xt, batch, in, l.Kernel.Data, units)
			rec := matmul(h, batch, units, l.Recurrent.Data, units)
			for i := range next {
				next[i] += rec[i]
			}
			if l.Bias != nil {
				addBias(next, batch, units, l.Bias.Data)
			}
			applyRows(l.Fn, next, units)
			return next
		},
	}
	return core.run(x)
}

// GRU implements the Keras gated recurrent unit. Gate kernels are stored as
// [in, 3*units] with column blocks ordered update (z), reset (r), new (h).
type GRU struct {
	LayerName       string
	Kernel          *tensor.Tensor // [in, 3*units]
	Recurrent       *tensor.Tensor // [units, 3*units]
	Bias            *tensor.Tensor // [3*units] or [2, 3*units] when reset_after
	Fn              ActivationFunc // candidate activation
	RecurrentFn     ActivationFunc // gate activation
	ResetAfter      bool
	ReturnSequences bool
	GoBackwards     bool
}

func (l *GRU) Name() string { return l.LayerName }

func (l *GRU) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}

	in := l.Kernel.Shape[0]
	units := l.Kernel.Shape[1] / 3

	var inputBias, recurrentBias []float32
	if l.Bias != nil {
		switch {
		case l.Bias.Rank() == 2 && l.Bias.Shape[0] == 2:
			inputBias = l.Bias.Data[:3*units]
			recurrentBias = l.Bias.Data[3*units:]
		case l.Bias.Size() == 3*units:
			inputBias = l.Bias.Data
		default:
			return nil, fmt.Errorf("gru %s: unexpected bias shape %v", l.LayerName, l.Bias.Shape)
		}
	}

	core := &rnnCore{
		name:            l.LayerName,
		units:           units,
		returnSequences: l.ReturnSequences,
		goBackwards:     l.GoBackwards,
		step: func(xt []float32, batch int, h []float32) []float32 {
			// Input projections for all three gates at once.
			zx := matmul(xt, batch, in, l.Kernel.Data, 3*units)
			if inputBias != nil {
				addBias(zx, batch, 3*units, inputBias)
			}

			zr := matmulBlock(h, batch, units, l.Recurrent.Data, 3*units, 0, 2*units)

			next := make([]float32, batch*units)
			z := make([]float32, batch*units)
			r := make([]float32, batch*units)
			for b := 0; b < batch; b++ {
				for u := 0; u < units; u++ {
					zv := zx[b*3*units+u] + zr[b*2*units+u]
					rv := zx[b*3*units+units+u] + zr[b*2*units+units+u]
					if l.ResetAfter && recurrentBias != nil {
						zv += recurrentBias[u]
						rv += recurrentBias[units+u]
					}
					z[b*units+u] = zv
					r[b*units+u] = rv
				}
			}
			applyRows(l.RecurrentFn, z, units)
			applyRows(l.RecurrentFn, r, units)

			// Candidate state. With reset_after the reset gate scales the
			// recurrent projection, otherwise it scales the state itself.
			hh := make([]float32, batch*units)
			if l.ResetAfter {
				rec := matmulBlock(h, batch, units, l.Recurrent.Data, 3*units, 2*units, 3*units)
				for i := range rec {
					if recurrentBias != nil {
						rec[i] += recurrentBias[2*units+i%units]
					}
					rec[i] *= r[i]
				}
				for b := 0; b < batch; b++ {
					for u := 0; u < units; u++ {
						hh[b*units+u] = zx[b*3*units+2*units+u] + rec[b*units+u]
					}
				}
			} else {
				rh := make([]float32, batch*units)
				for i := range rh {
					rh[i] = r[i] * h[i]
				}
				rec := matmulBlock(rh, batch, units, l.Recurrent.Data, 3*units, 2*units, 3*units)
				for b := 0; b < batch; b++ {
					for u := 0; u < units; u++ {
						hh[b*units+u] = zx[b*3*units+2*units+u] + rec[b*units+u]
					}
				}
			}
			applyRows(l.Fn, hh, units)

			for i := range next {
				next[i] = z[i]*h[i] + (1-z[i])*hh[i]
			}
			return next
		},
	}
	return core.run(x)
}

// LSTM implements the Keras long short-term memory cell. Gate kernels are
// stored as [in, 4*units] with column blocks ordered input, forget,
// candidate, output.
type LSTM struct {
	LayerName       string
	Kernel          *tensor.Tensor // [in, 4*units]
	Recurrent       *tensor.Tensor // [units, 4*units]
	Bias            *tensor.Tensor // [4*units], nil when use_bias is false
	Fn              ActivationFunc // candidate/state activation
	RecurrentFn     ActivationFunc // gate activation
	ReturnSequences bool
	GoBackwards     bool
}

func (l *LSTM) Name() string { return l.LayerName }

func (l *LSTM) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}

	in := l.Kernel.Shape[0]
	units := l.Kernel.Shape[1] / 4

	var cell []float32

	core := &rnnCore{
		name:            l.LayerName,
		units:           units,
		returnSequences: l.ReturnSequences,
		goBackwards:     l.GoBackwards,
		step: func(xt []float32, batch int, h []float32) []float32 {
			if cell == nil {
				cell = make([]float32, batch*units)
			}

			// All four gate pre-activations depend only on x and h.
			pre := matmul(xt, batch, in, l.Kernel.Data, 4*units)
			rec := matmul(h, batch, units, l.Recurrent.Data, 4*units)
			for i := range pre {
				pre[i] += rec[i]
			}
			if l.Bias != nil {
				addBias(pre, batch, 4*units, l.Bias.Data)
			}

			next := make([]float32, batch*units)
			for b := 0; b < batch; b++ {
				row := pre[b*4*units:]
				for u := 0; u < units; u++ {
					i := scalarActivate(l.RecurrentFn, row[u])
					f := scalarActivate(l.RecurrentFn, row[units+u])
					g := scalarActivate(l.Fn, row[2*units+u])
					o := scalarActivate(l.RecurrentFn, row[3*units+u])

					c := f*cell[b*units+u] + i*g
					cell[b*units+u] = c
					next[b*units+u] = o * scalarActivate(l.Fn, c)
				}
			}
			return next
		},
	}
	return core.run(x)
}

// scalarActivate applies a row activation to a single value.
func scalarActivate(fn ActivationFunc, v float32) float32 {
	buf := [1]float32{v}
	fn(buf[:])
	return buf[0]
}

// Bidirectional runs a forward and a backward copy of a recurrent layer and
// merges their outputs.
type Bidirectional struct {
	LayerName       string
	Forward         Layer
	Backward        Layer // constructed with GoBackwards set
	MergeMode       string
	ReturnSequences bool
}

func (l *Bidirectional) Name() string { return l.LayerName }

func (l *Bidirectional) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}

	fwd, err := l.Forward.Call([]*tensor.Tensor{x})
	if err != nil {
		return nil, fmt.Errorf("bidirectional %s forward: %w", l.LayerName, err)
	}
	bwd, err := l.Backward.Call([]*tensor.Tensor{x})
	if err != nil {
		return nil, fmt.Errorf("bidirectional %s backward: %w", l.LayerName, err)
	}

	// The backward layer emits its sequence in reverse processing order;
	// realign it with the forward timeline before merging.
	if l.ReturnSequences {
		bwd = reverseTime(bwd)
	}

	switch l.MergeMode {
	case "concat", "":
		return concatLastAxis(l.LayerName, fwd, bwd)
	case "sum":
		return combineElementwise(l.LayerName, fwd, bwd, func(a, b float32) float32 { return a + b })
	case "mul":
		return combineElementwise(l.LayerName, fwd, bwd, func(a, b float32) float32 { return a * b })
	case "ave":
		return combineElementwise(l.LayerName, fwd, bwd, func(a, b float32) float32 { return (a + b) / 2 })
	default:
		return nil, fmt.Errorf("bidirectional %s: unsupported merge mode %q", l.LayerName, l.MergeMode)
	}
}

func combineElementwise(name string, a, b *tensor.Tensor, fn func(x, y float32) float32) (*tensor.Tensor, error) {
	if !tensor.SameShape(a.Shape, b.Shape) {
		return nil, fmt.Errorf("layer %s: shape mismatch %v vs %v", name, a.Shape, b.Shape)
	}
	out := tensor.Zeros(a.Shape...)
	for i := range out.Data {
		out.Data[i] = fn(a.Data[i], b.Data[i])
	}
	return out, nil
}

func concatLastAxis(name string, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.Rank() != b.Rank() {
		return nil, fmt.Errorf("layer %s: rank mismatch %d vs %d", name, a.Rank(), b.Rank())
	}
	for i := 0; i < a.Rank()-1; i++ {
		if a.Shape[i] != b.Shape[i] {
			return nil, fmt.Errorf("layer %s: shape mismatch %v vs %v", name, a.Shape, b.Shape)
		}
	}

	na, nb := a.Dim(-1), b.Dim(-1)
	outShape := append([]int(nil), a.Shape...)
	outShape[len(outShape)-1] = na + nb
	out := tensor.Zeros(outShape...)

	rows := a.Size() / na
	for r := 0; r < rows; r++ {
		copy(out.Data[r*(na+nb):], a.Data[r*na:(r+1)*na])
		copy(out.Data[r*(na+nb)+na:], b.Data[r*nb:(r+1)*nb])
	}
	return out, nil
}

// TimeDistributed applies an inner layer independently to every timestep of
// a [batch, steps, ...] input.
type TimeDistributed struct {
	LayerName string
	Inner     Layer
}

func (l *TimeDistributed) Name() string { return l.LayerName }

func (l *TimeDistributed) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() < 3 {
		return nil, fmt.Errorf("time distributed %s: input rank %d, want >= 3", l.LayerName, x.Rank())
	}

	batch, steps := x.Shape[0], x.Shape[1]
	innerShape := append([]int{batch}, x.Shape[2:]...)
	innerSize := tensor.ElementCount(x.Shape[2:])

	var out *tensor.Tensor
	var outStep int
	buf := make([]float32, batch*innerSize)

	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			src := (b*steps + t) * innerSize
			copy(buf[b*innerSize:(b+1)*innerSize], x.Data[src:src+innerSize])
		}
		stepIn, err := tensor.New(innerShape, append([]float32(nil), buf...))
		if err != nil {
			return nil, err
		}

		stepOut, err := l.Inner.Call([]*tensor.Tensor{stepIn})
		if err != nil {
			return nil, fmt.Errorf("time distributed %s step %d: %w", l.LayerName, t, err)
		}

		if out == nil {
			outStep = stepOut.Size() / batch
			outShape := append([]int{batch, steps}, stepOut.Shape[1:]...)
			out = tensor.Zeros(outShape...)
		}
		for b := 0; b < batch; b++ {
			dst := (b*steps + t) * outStep
			copy(out.Data[dst:dst+outStep], stepOut.Data[b*outStep:(b+1)*outStep])
		}
	}
	return out, nil
}
