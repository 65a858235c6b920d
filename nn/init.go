package nn

import (
	"math"
	"math/rand"
)

// XavierUniform fills data from U(-a, a) with a = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(data []float32, fanIn, fanOut int, rng *rand.Rand) {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
}

// Fans returns the fan-in and fan-out of a weight of the given shape,
// treating dimensions after the second as the receptive field.
func Fans(shape []int) (fanIn, fanOut int) {
	if len(shape) < 2 {
		return 0, 0
	}
	receptive := 1
	for _, d := range shape[2:] {
		receptive *= d
	}
	return shape[1] * receptive, shape[0] * receptive
}

// InitParams applies Xavier-uniform initialization to every parameter of
// rank > 1. Rank-1 parameters keep their current values.
func InitParams(params []Param, rng *rand.Rand) {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	for _, p := range params {
		if p.Rank() <= 1 {
			continue
		}
		fanIn, fanOut := Fans(p.Shape)
		XavierUniform(p.Data, fanIn, fanOut, rng)
	}
}
