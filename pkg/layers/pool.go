package layers

import (
	"fmt"
	"math"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// MaxPooling2D takes the maximum over pool windows, channels-last.
type MaxPooling2D struct {
	LayerName string
	PoolSize  [2]int
	Strides   [2]int
	SamePad   bool
}

func (l *MaxPooling2D) Name() string { return l.LayerName }

func (l *MaxPooling2D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 {
		return nil, fmt.Errorf("max pooling 2d %s: input rank %d, want 4", l.LayerName, x.Rank())
	}

	batch, inH, inW, ch := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, padTop, err := convGeometry(inH, l.PoolSize[0], l.Strides[0], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("max pooling 2d %s: %w", l.LayerName, err)
	}
	outW, padLeft, err := convGeometry(inW, l.PoolSize[1], l.Strides[1], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("max pooling 2d %s: %w", l.LayerName, err)
	}

	out := tensor.Zeros(batch, outH, outW, ch)
	for b := 0; b < batch; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				baseY := oy*l.Strides[0] - padTop
				baseX := ox*l.Strides[1] - padLeft
				for c := 0; c < ch; c++ {
					max := float32(math.Inf(-1))
					for py := 0; py < l.PoolSize[0]; py++ {
						iy := baseY + py
						if iy < 0 || iy >= inH {
							continue
						}
						for px := 0; px < l.PoolSize[1]; px++ {
							ix := baseX + px
							if ix < 0 || ix >= inW {
								continue
							}
							if v := x.At(b, iy, ix, c); v > max {
								max = v
							}
						}
					}
					out.Set(max, b, oy, ox, c)
				}
			}
		}
	}
	return out, nil
}

// MaxPooling1D takes the maximum over pool windows of [batch, steps, ch].
type MaxPooling1D struct {
	LayerName string
	PoolSize  int
	Stride    int
	SamePad   bool
}

func (l *MaxPooling1D) Name() string { return l.LayerName }

func (l *MaxPooling1D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 3 {
		return nil, fmt.Errorf("max pooling 1d %s: input rank %d, want 3", l.LayerName, x.Rank())
	}

	batch, steps, ch := x.Shape[0], x.Shape[1], x.Shape[2]
	outSteps, padBefore, err := convGeometry(steps, l.PoolSize, l.Stride, l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("max pooling 1d %s: %w", l.LayerName, err)
	}

	out := tensor.Zeros(batch, outSteps, ch)
	for b := 0; b < batch; b++ {
		for os := 0; os < outSteps; os++ {
			base := os*l.Stride - padBefore
			for c := 0; c < ch; c++ {
				max := float32(math.Inf(-1))
				for p := 0; p < l.PoolSize; p++ {
					is := base + p
					if is < 0 || is >= steps {
						continue
					}
					if v := x.At(b, is, c); v > max {
						max = v
					}
				}
				out.Set(max, b, os, c)
			}
		}
	}
	return out, nil
}

// GlobalAveragePooling2D averages over the spatial dimensions.
type GlobalAveragePooling2D struct {
	LayerName string
}

func (l *GlobalAveragePooling2D) Name() string { return l.LayerName }

func (l *GlobalAveragePooling2D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 {
		return nil, fmt.Errorf("global average pooling 2d %s: input rank %d, want 4", l.LayerName, x.Rank())
	}

	batch, h, w, ch := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := tensor.Zeros(batch, ch)
	area := float32(h * w)
	for b := 0; b < batch; b++ {
		for c := 0; c < ch; c++ {
			var sum float32
			for y := 0; y < h; y++ {
				for xw := 0; xw < w; xw++ {
					sum += x.At(b, y, xw, c)
				}
			}
			out.Set(sum/area, b, c)
		}
	}
	return out, nil
}
