package head

import "github.com/x448/float16"

// HalfPrediction is a Prediction stored in IEEE 754 half precision.
type HalfPrediction struct {
	Batch   int
	Classes int
	Anchors int
	Loc     []float16.Float16
	Conf    []float16.Float16
}

// Half converts the prediction to half precision.
func (p *Prediction) Half() *HalfPrediction {
	return &HalfPrediction{
		Batch:   p.Batch,
		Classes: p.Classes,
		Anchors: p.Anchors,
		Loc:     toHalf(p.Loc),
		Conf:    toHalf(p.Conf),
	}
}

// Float32 widens the prediction back to float32, the precision the loss works in.
func (h *HalfPrediction) Float32() *Prediction {
	return &Prediction{
		Batch:   h.Batch,
		Classes: h.Classes,
		Anchors: h.Anchors,
		Loc:     fromHalf(h.Loc),
		Conf:    fromHalf(h.Conf),
	}
}

func toHalf(src []float32) []float16.Float16 {
	out := make([]float16.Float16, len(src))
	for i, v := range src {
		out[i] = float16.Fromfloat32(v)
	}
	return out
}

func fromHalf(src []float16.Float16) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = v.Float32()
	}
	return out
}
