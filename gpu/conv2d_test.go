package gpu

import (
	"math"
	"math/rand"
	"strings"
	"testing"
)

// referenceConv is a direct NCHW convolution used to check the kernel.
func referenceConv(spec Conv2DSpec, input []float32, outH, outW int) []float32 {
	k := spec.KernelSize
	stride := max(spec.Stride, 1)
	out := make([]float32, spec.Batch*spec.OutChannels*outH*outW)
	for n := 0; n < spec.Batch; n++ {
		for oc := 0; oc < spec.OutChannels; oc++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := spec.Bias[oc]
					for ic := 0; ic < spec.InChannels; ic++ {
						for kh := 0; kh < k; kh++ {
							for kw := 0; kw < k; kw++ {
								ih := oh*stride + kh - spec.Padding
								iw := ow*stride + kw - spec.Padding
								if ih < 0 || ih >= spec.InputHeight || iw < 0 || iw >= spec.InputWidth {
									continue
								}
								sum += input[((n*spec.InChannels+ic)*spec.InputHeight+ih)*spec.InputWidth+iw] *
									spec.Weights[((oc*spec.InChannels+ic)*k+kh)*k+kw]
							}
						}
					}
					out[((n*spec.OutChannels+oc)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}
	return out
}

func TestConv2DMatchesReference(t *testing.T) {
	if !Available() {
		t.Skip("no WebGPU adapter available")
	}
	rng := rand.New(rand.NewSource(11))
	spec := Conv2DSpec{
		Batch: 2, InChannels: 3, OutChannels: 8, KernelSize: 3, Stride: 1, Padding: 1,
		InputHeight: 5, InputWidth: 5,
		Weights: make([]float32, 8*3*9),
		Bias:    make([]float32, 8),
	}
	for i := range spec.Weights {
		spec.Weights[i] = float32(rng.NormFloat64())
	}
	for i := range spec.Bias {
		spec.Bias[i] = float32(rng.NormFloat64())
	}
	input := make([]float32, 2*3*25)
	for i := range input {
		input[i] = float32(rng.NormFloat64())
	}

	layer, err := NewConv2DLayer(spec, "test")
	if err != nil {
		t.Fatalf("NewConv2DLayer failed: %v", err)
	}
	defer layer.Cleanup()

	got, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	outH, outW := layer.OutputSize()
	want := referenceConv(spec, input, outH, outW)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Fatalf("out[%d]: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestConv2DUploadWeightsReplacesKernel(t *testing.T) {
	if !Available() {
		t.Skip("no WebGPU adapter available")
	}
	spec := Conv2DSpec{
		Batch: 1, InChannels: 1, OutChannels: 2, KernelSize: 1, Stride: 1,
		InputHeight: 2, InputWidth: 2,
		Weights: []float32{1, 1},
		Bias:    []float32{0, 0},
	}
	layer, err := NewConv2DLayer(spec, "upload")
	if err != nil {
		t.Fatalf("NewConv2DLayer failed: %v", err)
	}
	defer layer.Cleanup()

	spec.Weights = []float32{2, -1}
	spec.Bias = []float32{0.5, 0}
	if err := layer.UploadWeights(spec.Weights, spec.Bias); err != nil {
		t.Fatalf("UploadWeights failed: %v", err)
	}
	input := []float32{1, 2, 3, 4}
	got, err := layer.Forward(input)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	want := referenceConv(spec, input, 2, 2)
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("out[%d]: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestConv2DUploadWeightsReportsMissingDevice(t *testing.T) {
	if Available() {
		t.Skip("WebGPU adapter present")
	}
	l := &Conv2DLayer{}
	if err := l.UploadWeights([]float32{1}, []float32{0}); err == nil {
		t.Error("Expected an error without a device")
	}
}

func TestConv2DOutputSize(t *testing.T) {
	l := &Conv2DLayer{Spec: Conv2DSpec{KernelSize: 3, Padding: 1, InputHeight: 38, InputWidth: 38}}
	if h, w := l.OutputSize(); h != 38 || w != 38 {
		t.Errorf("Expected 38x38, got %dx%d", h, w)
	}
}

func TestConv2DShaderUsesDeviceWorkgroup(t *testing.T) {
	l := &Conv2DLayer{Spec: Conv2DSpec{Batch: 1, InChannels: 2, OutChannels: 4, KernelSize: 3, InputHeight: 5, InputWidth: 5}}
	if !strings.Contains(l.GenerateShader(), "@workgroup_size(256)") {
		t.Error("Expected default workgroup of 256")
	}
	l.workgroup = 64
	if !strings.Contains(l.GenerateShader(), "@workgroup_size(64)") {
		t.Error("Expected device workgroup of 64")
	}
}
