package nn

import (
	"fmt"
	"math"
)

// BatchNorm2D normalizes each channel with running statistics (inference mode).
type BatchNorm2D struct {
	Channels    int
	Gamma       []float32
	Beta        []float32
	RunningMean []float32
	RunningVar  []float32
	Epsilon     float64
}

// NewBatchNorm2D returns an identity-initialized batch norm: gamma 1, beta 0,
// mean 0, variance 1.
func NewBatchNorm2D(channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		Channels:    channels,
		Gamma:       make([]float32, channels),
		Beta:        make([]float32, channels),
		RunningMean: make([]float32, channels),
		RunningVar:  make([]float32, channels),
		Epsilon:     1e-5,
	}
	for i := 0; i < channels; i++ {
		bn.Gamma[i] = 1
		bn.RunningVar[i] = 1
	}
	return bn
}

// Params returns gamma and beta as prefix.weight and prefix.bias.
func (bn *BatchNorm2D) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Shape: []int{bn.Channels}, Data: bn.Gamma},
		{Name: prefix + ".bias", Shape: []int{bn.Channels}, Data: bn.Beta},
	}
}

// Forward normalizes input, optionally applying activation afterwards.
func (bn *BatchNorm2D) Forward(input FeatureMap, activation ActivationType) (FeatureMap, error) {
	if input.Channels != bn.Channels {
		return FeatureMap{}, fmt.Errorf("batchnorm expects %d channels, got %d", bn.Channels, input.Channels)
	}
	out := NewFeatureMap(input.Batch, input.Channels, input.Height, input.Width)
	plane := input.PlaneSize()
	for b := 0; b < input.Batch; b++ {
		for c := 0; c < bn.Channels; c++ {
			scale := bn.Gamma[c] / float32(math.Sqrt(float64(bn.RunningVar[c])+bn.Epsilon))
			shift := bn.Beta[c] - bn.RunningMean[c]*scale
			off := (b*bn.Channels + c) * plane
			for i := off; i < off+plane; i++ {
				out.Data[i] = Activate(input.Data[i]*scale+shift, activation)
			}
		}
	}
	return out, nil
}
