package layers

import (
	"fmt"

	"github.com/modelinterop/kerasbridge/pkg/tensor"
)

// convGeometry computes the output length and leading pad for one spatial
// axis, following TensorFlow's SAME/VALID conventions.
func convGeometry(inLen, kernel, stride int, samePadding bool) (outLen, padBefore int, err error) {
	if stride < 1 {
		return 0, 0, fmt.Errorf("stride must be positive, got %d", stride)
	}
	if samePadding {
		outLen = (inLen + stride - 1) / stride
		padTotal := (outLen-1)*stride + kernel - inLen
		if padTotal < 0 {
			padTotal = 0
		}
		return outLen, padTotal / 2, nil
	}
	if inLen < kernel {
		return 0, 0, fmt.Errorf("input length %d smaller than kernel %d with valid padding", inLen, kernel)
	}
	return (inLen-kernel)/stride + 1, 0, nil
}

func parsePadding(padding string) (same bool, err error) {
	switch padding {
	case "same":
		return true, nil
	case "valid", "":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported padding %q", padding)
	}
}

// Conv2D is a channels-last 2D convolution.
type Conv2D struct {
	LayerName string
	Kernel    *tensor.Tensor // [kh, kw, inCh, outCh]
	Bias      *tensor.Tensor // [outCh], nil when use_bias is false
	Strides   [2]int
	SamePad   bool
	Fn        ActivationFunc
}

func (l *Conv2D) Name() string { return l.LayerName }

func (l *Conv2D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 {
		return nil, fmt.Errorf("conv2d %s: input rank %d, want 4", l.LayerName, x.Rank())
	}

	batch, inH, inW, inCh := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	kh, kw, kInCh, outCh := l.Kernel.Shape[0], l.Kernel.Shape[1], l.Kernel.Shape[2], l.Kernel.Shape[3]
	if inCh != kInCh {
		return nil, fmt.Errorf("conv2d %s: input channels %d do not match kernel %v",
			l.LayerName, inCh, l.Kernel.Shape)
	}

	outH, padTop, err := convGeometry(inH, kh, l.Strides[0], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("conv2d %s: %w", l.LayerName, err)
	}
	outW, padLeft, err := convGeometry(inW, kw, l.Strides[1], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("conv2d %s: %w", l.LayerName, err)
	}

	out := tensor.Zeros(batch, outH, outW, outCh)
	for b := 0; b < batch; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				baseY := oy*l.Strides[0] - padTop
				baseX := ox*l.Strides[1] - padLeft
				for oc := 0; oc < outCh; oc++ {
					var sum float32
					for ky := 0; ky < kh; ky++ {
						iy := baseY + ky
						if iy < 0 || iy >= inH {
							continue
						}
						for kx := 0; kx < kw; kx++ {
							ix := baseX + kx
							if ix < 0 || ix >= inW {
								continue
							}
							for ic := 0; ic < inCh; ic++ {
								sum += x.At(b, iy, ix, ic) * l.Kernel.At(ky, kx, ic, oc)
							}
						}
					}
					if l.Bias != nil {
						sum += l.Bias.Data[oc]
					}
					out.Set(sum, b, oy, ox, oc)
				}
			}
		}
	}

	if l.Fn != nil {
		applyRows(l.Fn, out.Data, outCh)
	}
	return out, nil
}

// DepthwiseConv2D convolves each input channel with its own set of filters.
// Output channel layout is inputChannel*depthMultiplier + multiplierIndex.
type DepthwiseConv2D struct {
	LayerName string
	Kernel    *tensor.Tensor // [kh, kw, inCh, depthMultiplier]
	Bias      *tensor.Tensor // [inCh*depthMultiplier], nil when use_bias is false
	Strides   [2]int
	SamePad   bool
	Fn        ActivationFunc
}

func (l *DepthwiseConv2D) Name() string { return l.LayerName }

func (l *DepthwiseConv2D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 4 {
		return nil, fmt.Errorf("depthwise conv2d %s: input rank %d, want 4", l.LayerName, x.Rank())
	}

	batch, inH, inW, inCh := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	kh, kw, kInCh, mult := l.Kernel.Shape[0], l.Kernel.Shape[1], l.Kernel.Shape[2], l.Kernel.Shape[3]
	if inCh != kInCh {
		return nil, fmt.Errorf("depthwise conv2d %s: input channels %d do not match kernel %v",
			l.LayerName, inCh, l.Kernel.Shape)
	}

	outH, padTop, err := convGeometry(inH, kh, l.Strides[0], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("depthwise conv2d %s: %w", l.LayerName, err)
	}
	outW, padLeft, err := convGeometry(inW, kw, l.Strides[1], l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("depthwise conv2d %s: %w", l.LayerName, err)
	}

	outCh := inCh * mult
	out := tensor.Zeros(batch, outH, outW, outCh)
	for b := 0; b < batch; b++ {
		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				baseY := oy*l.Strides[0] - padTop
				baseX := ox*l.Strides[1] - padLeft
				for ic := 0; ic < inCh; ic++ {
					for m := 0; m < mult; m++ {
						var sum float32
						for ky := 0; ky < kh; ky++ {
							iy := baseY + ky
							if iy < 0 || iy >= inH {
								continue
							}
							for kx := 0; kx < kw; kx++ {
								ix := baseX + kx
								if ix < 0 || ix >= inW {
									continue
								}
								sum += x.At(b, iy, ix, ic) * l.Kernel.At(ky, kx, ic, m)
							}
						}
						oc := ic*mult + m
						if l.Bias != nil {
							sum += l.Bias.Data[oc]
						}
						out.Set(sum, b, oy, ox, oc)
					}
				}
			}
		}
	}

	if l.Fn != nil {
		applyRows(l.Fn, out.Data, outCh)
	}
	return out, nil
}

// Conv1D is a channels-last 1D convolution over [batch, steps, channels].
type Conv1D struct {
	LayerName string
	Kernel    *tensor.Tensor // [k, inCh, outCh]
	Bias      *tensor.Tensor // [outCh], nil when use_bias is false
	Stride    int
	SamePad   bool
	Fn        ActivationFunc
}

func (l *Conv1D) Name() string { return l.LayerName }

func (l *Conv1D) Call(inputs []*tensor.Tensor) (*tensor.Tensor, error) {
	x, err := singleInput(l.LayerName, inputs)
	if err != nil {
		return nil, err
	}
	if x.Rank() != 3 {
		return nil, fmt.Errorf("conv1d %s: input rank %d, want 3", l.LayerName, x.Rank())
	}

	batch, steps, inCh := x.Shape[0], x.Shape[1], x.Shape[2]
	k, kInCh, outCh := l.Kernel.Shape[0], l.Kernel.Shape[1], l.Kernel.Shape[2]
	if inCh != kInCh {
		return nil, fmt.Errorf("conv1d %s: input channels %d do not match kernel %v",
			l.LayerName, inCh, l.Kernel.Shape)
	}

	outSteps, padBefore, err := convGeometry(steps, k, l.Stride, l.SamePad)
	if err != nil {
		return nil, fmt.Errorf("conv1d %s: %w", l.LayerName, err)
	}

	out := tensor.Zeros(batch, outSteps, outCh)
	for b := 0; b < batch; b++ {
		for os := 0; os < outSteps; os++ {
			base := os*l.Stride - padBefore
			for oc := 0; oc < outCh; oc++ {
				var sum float32
				for ki := 0; ki < k; ki++ {
					is := base + ki
					if is < 0 || is >= steps {
						continue
					}
					for ic := 0; ic < inCh; ic++ {
						sum += x.At(b, is, ic) * l.Kernel.At(ki, ic, oc)
					}
				}
				if l.Bias != nil {
					sum += l.Bias.Data[oc]
				}
				out.Set(sum, b, os, oc)
			}
		}
	}

	if l.Fn != nil {
		applyRows(l.Fn, out.Data, outCh)
	}
	return out, nil
}
