package nn

import (
	"fmt"
	"math/rand"
)

// Conv2D is a 2D convolution over NCHW feature maps.
type Conv2D struct {
	InChannels int
	Filters    int
	KernelSize int
	Stride     int
	Padding    int
	Activation ActivationType

	Kernel []float32 // [filters][inChannels][kernelH][kernelW]
	Bias   []float32 // [filters], nil for bias-free layers

	// Gradients accumulated by Backward until ZeroGrad.
	KernelGrad []float32
	BiasGrad   []float32
}

// NewConv2D creates a Conv2D layer. The kernel is Xavier-uniform initialized,
// the bias starts at zero.
func NewConv2D(
	inChannels, filters int,
	kernelSize, stride, padding int,
	bias bool,
	activation ActivationType,
	rng *rand.Rand,
) *Conv2D {
	c := &Conv2D{
		InChannels: inChannels,
		Filters:    filters,
		KernelSize: kernelSize,
		Stride:     stride,
		Padding:    padding,
		Activation: activation,
		Kernel:     make([]float32, filters*inChannels*kernelSize*kernelSize),
		KernelGrad: make([]float32, filters*inChannels*kernelSize*kernelSize),
	}
	if bias {
		c.Bias = make([]float32, filters)
		c.BiasGrad = make([]float32, filters)
	}
	InitParams(c.Params("conv"), rng)
	return c
}

// OutputSize returns the spatial size produced for an input of h x w.
func (c *Conv2D) OutputSize(h, w int) (int, int) {
	stride := c.Stride
	if stride < 1 {
		stride = 1
	}
	outH := (h+2*c.Padding-c.KernelSize)/stride + 1
	outW := (w+2*c.Padding-c.KernelSize)/stride + 1
	return outH, outW
}

// Params returns the layer parameters named prefix.weight and prefix.bias.
func (c *Conv2D) Params(prefix string) []Param {
	params := []Param{{
		Name:  prefix + ".weight",
		Shape: []int{c.Filters, c.InChannels, c.KernelSize, c.KernelSize},
		Data:  c.Kernel,
		Grad:  c.KernelGrad,
	}}
	if c.Bias != nil {
		params = append(params, Param{
			Name:  prefix + ".bias",
			Shape: []int{c.Filters},
			Data:  c.Bias,
			Grad:  c.BiasGrad,
		})
	}
	return params
}

// ZeroGrad clears accumulated gradients.
func (c *Conv2D) ZeroGrad() {
	clear(c.KernelGrad)
	clear(c.BiasGrad)
}

// Forward convolves input and returns the pre-activation and post-activation maps.
// For a linear layer both results share the same backing slice.
func (c *Conv2D) Forward(input FeatureMap) (preAct, postAct FeatureMap, err error) {
	if err := input.Validate(); err != nil {
		return FeatureMap{}, FeatureMap{}, err
	}
	if input.Channels != c.InChannels {
		return FeatureMap{}, FeatureMap{}, fmt.Errorf("conv2d expects %d input channels, got %d", c.InChannels, input.Channels)
	}

	inH, inW := input.Height, input.Width
	inC := c.InChannels
	kSize := c.KernelSize
	stride := max(c.Stride, 1)
	padding := c.Padding
	filters := c.Filters
	outH, outW := c.OutputSize(inH, inW)
	if outH <= 0 || outW <= 0 {
		return FeatureMap{}, FeatureMap{}, fmt.Errorf("conv2d input %dx%d too small for kernel %d", inH, inW, kSize)
	}

	preAct = NewFeatureMap(input.Batch, filters, outH, outW)
	outPlane := outH * outW
	inPlane := inH * inW

	for b := 0; b < input.Batch; b++ {
		for f := 0; f < filters; f++ {
			out := preAct.Data[(b*filters+f)*outPlane : (b*filters+f+1)*outPlane]
			if c.Bias != nil {
				for i := range out {
					out[i] = c.Bias[f]
				}
			}

			// Convolve over input channels
			for ic := 0; ic < inC; ic++ {
				in := input.Data[(b*inC+ic)*inPlane : (b*inC+ic+1)*inPlane]
				for kh := 0; kh < kSize; kh++ {
					for kw := 0; kw < kSize; kw++ {
						weight := c.Kernel[f*inC*kSize*kSize+ic*kSize*kSize+kh*kSize+kw]
						if weight == 0 {
							continue
						}
						for oh := 0; oh < outH; oh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							row := in[ih*inW : (ih+1)*inW]
							dst := out[oh*outW : (oh+1)*outW]
							for ow := 0; ow < outW; ow++ {
								iw := ow*stride + kw - padding
								if iw >= 0 && iw < inW {
									dst[ow] += row[iw] * weight
								}
							}
						}
					}
				}
			}
		}
	}

	if c.Activation == ActivationLinear {
		return preAct, preAct, nil
	}

	postAct = NewFeatureMap(input.Batch, filters, outH, outW)
	for i, v := range preAct.Data {
		postAct.Data[i] = Activate(v, c.Activation)
	}
	return preAct, postAct, nil
}

// Backward computes the gradient with respect to the input and accumulates
// kernel and bias gradients.
// gradOutput: gradient flowing back with respect to the post-activation output
// input: input from the forward pass
// preAct: pre-activation output from the forward pass
func (c *Conv2D) Backward(gradOutput, input, preAct FeatureMap) (FeatureMap, error) {
	outH, outW := c.OutputSize(input.Height, input.Width)
	if gradOutput.Batch != input.Batch || gradOutput.Channels != c.Filters ||
		gradOutput.Height != outH || gradOutput.Width != outW || len(gradOutput.Data) != gradOutput.Len() {
		return FeatureMap{}, fmt.Errorf("conv2d gradient %s does not match output (%d,%d,%d,%d)",
			gradOutput.ShapeString(), input.Batch, c.Filters, outH, outW)
	}
	if input.Channels != c.InChannels || len(input.Data) != input.Len() {
		return FeatureMap{}, fmt.Errorf("conv2d backward input %s does not match %d channels", input.ShapeString(), c.InChannels)
	}

	inH, inW := input.Height, input.Width
	inC := c.InChannels
	kSize := c.KernelSize
	stride := max(c.Stride, 1)
	padding := c.Padding
	filters := c.Filters
	outPlane := outH * outW
	inPlane := inH * inW

	// Apply activation derivative
	grad := gradOutput.Data
	if c.Activation != ActivationLinear {
		if len(preAct.Data) != len(grad) {
			return FeatureMap{}, fmt.Errorf("conv2d backward needs pre-activations of length %d, got %d", len(grad), len(preAct.Data))
		}
		grad = make([]float32, len(gradOutput.Data))
		for i, g := range gradOutput.Data {
			grad[i] = g * ActivateDerivative(preAct.Data[i], c.Activation)
		}
	}

	gradInput := NewFeatureMap(input.Batch, inC, inH, inW)

	for b := 0; b < input.Batch; b++ {
		for f := 0; f < filters; f++ {
			gOut := grad[(b*filters+f)*outPlane : (b*filters+f+1)*outPlane]

			if c.BiasGrad != nil {
				var sum float32
				for _, g := range gOut {
					sum += g
				}
				c.BiasGrad[f] += sum
			}

			for ic := 0; ic < inC; ic++ {
				in := input.Data[(b*inC+ic)*inPlane : (b*inC+ic+1)*inPlane]
				gIn := gradInput.Data[(b*inC+ic)*inPlane : (b*inC+ic+1)*inPlane]
				for kh := 0; kh < kSize; kh++ {
					for kw := 0; kw < kSize; kw++ {
						kernelIdx := f*inC*kSize*kSize + ic*kSize*kSize + kh*kSize + kw
						weight := c.Kernel[kernelIdx]
						var gradW float32
						for oh := 0; oh < outH; oh++ {
							ih := oh*stride + kh - padding
							if ih < 0 || ih >= inH {
								continue
							}
							for ow := 0; ow < outW; ow++ {
								iw := ow*stride + kw - padding
								if iw < 0 || iw >= inW {
									continue
								}
								g := gOut[oh*outW+ow]
								gIn[ih*inW+iw] += g * weight
								gradW += g * in[ih*inW+iw]
							}
						}
						c.KernelGrad[kernelIdx] += gradW
					}
				}
			}
		}
	}

	return gradInput, nil
}
