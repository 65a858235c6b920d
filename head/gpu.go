package head

import (
	"fmt"

	"github.com/openfluke/ssd/gpu"
	"github.com/openfluke/ssd/nn"
)

type gpuKey struct {
	scale int
	kind  string
	batch int
}

// gpuPredictors caches one compiled kernel per scale, predictor and batch size.
type gpuPredictors struct {
	layers map[gpuKey]*gpu.Conv2DLayer
}

func newGPUPredictors() *gpuPredictors {
	return &gpuPredictors{layers: make(map[gpuKey]*gpu.Conv2DLayer)}
}

func (g *gpuPredictors) forward(scale int, kind string, conv *nn.Conv2D, f nn.FeatureMap) (nn.FeatureMap, error) {
	key := gpuKey{scale: scale, kind: kind, batch: f.Batch}
	layer, ok := g.layers[key]
	if !ok {
		var err error
		layer, err = gpu.NewConv2DLayer(gpu.Conv2DSpec{
			Batch:       f.Batch,
			InChannels:  conv.InChannels,
			OutChannels: conv.Filters,
			KernelSize:  conv.KernelSize,
			Stride:      conv.Stride,
			Padding:     conv.Padding,
			InputHeight: f.Height,
			InputWidth:  f.Width,
			Weights:     conv.Kernel,
			Bias:        conv.Bias,
		}, fmt.Sprintf("%s_%d_b%d", kind, scale, f.Batch))
		if err != nil {
			return nn.FeatureMap{}, err
		}
		g.layers[key] = layer
	}

	// Weights change between steps.
	if err := layer.UploadWeights(conv.Kernel, conv.Bias); err != nil {
		return nn.FeatureMap{}, err
	}
	data, err := layer.Forward(f.Data)
	if err != nil {
		return nn.FeatureMap{}, err
	}
	outH, outW := layer.OutputSize()
	out := nn.FeatureMap{Batch: f.Batch, Channels: conv.Filters, Height: outH, Width: outW, Data: data}
	return out, out.Validate()
}

func (g *gpuPredictors) close() {
	for k, l := range g.layers {
		l.Cleanup()
		delete(g.layers, k)
	}
}
