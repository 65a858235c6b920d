// Package postprocess turns head predictions into scored boxes: decoding the
// regression offsets against the anchor set, then per-class non-maximum
// suppression.
package postprocess

import (
	"fmt"
	"math"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/head"
	"github.com/openfluke/ssd/parallel"
	"gonum.org/v1/gonum/floats"
)

// Params defines the decoding and suppression parameters
type Params struct {
	// ScaleXY is the center offset scale the model was trained with
	ScaleXY float64
	// ScaleWH is the log size scale the model was trained with
	ScaleWH float64
	// ScoreThreshold is the minimum class probability for a box to be
	// considered
	ScoreThreshold float32
	// NMSThreshold is the maximum IoU allowed between two kept boxes of the
	// same class
	NMSThreshold float32
	// MaxOutput caps the candidates per class and the detections per image
	MaxOutput int
	// Workers bounds the per-image fan-out, 0 selects parallel.DefaultLimit
	Workers int
}

// SSDParams returns the parameters matching the training loss defaults:
// - ScaleXY: 10, ScaleWH: 5
// - ScoreThreshold: 0.05
// - NMSThreshold: 0.45
// - MaxOutput: 200
func SSDParams() Params {
	return Params{
		ScaleXY:        10,
		ScaleWH:        5,
		ScoreThreshold: 0.05,
		NMSThreshold:   0.45,
		MaxOutput:      200,
	}
}

// Decoded holds the decoded boxes and class probabilities of one image.
type Decoded struct {
	// Boxes are in corner form, one per anchor
	Boxes []anchor.Box
	// Scores is (classes, K) softmax probabilities
	Scores  []float32
	Classes int
}

// Score returns the probability of class c at anchor k.
func (d Decoded) Score(c, k int) float32 {
	return d.Scores[c*len(d.Boxes)+k]
}

// Decode inverts the target encoding of sample n and applies softmax to its logits.
func Decode(set *anchor.Set, pred *head.Prediction, n int, p Params) (Decoded, error) {
	if err := pred.Validate(); err != nil {
		return Decoded{}, err
	}
	if err := set.CheckLen(pred.Anchors); err != nil {
		return Decoded{}, fmt.Errorf("%w: %v", head.ErrShapeMismatch, err)
	}
	if n < 0 || n >= pred.Batch {
		return Decoded{}, fmt.Errorf("sample %d outside batch of %d", n, pred.Batch)
	}

	k := pred.Anchors
	loc := pred.SampleLoc(n)
	ax, ay, aw, ah := set.Row(0), set.Row(1), set.Row(2), set.Row(3)
	out := Decoded{
		Boxes:   make([]anchor.Box, k),
		Scores:  make([]float32, pred.Classes*k),
		Classes: pred.Classes,
	}
	for i := 0; i < k; i++ {
		cx := float64(loc[i])/p.ScaleXY*float64(aw[i]) + float64(ax[i])
		cy := float64(loc[k+i])/p.ScaleXY*float64(ah[i]) + float64(ay[i])
		w := math.Exp(float64(loc[2*k+i])/p.ScaleWH) * float64(aw[i])
		h := math.Exp(float64(loc[3*k+i])/p.ScaleWH) * float64(ah[i])
		out.Boxes[i] = anchor.BoxFromXYWH(float32(cx), float32(cy), float32(w), float32(h))
	}

	conf := pred.SampleConf(n)
	logits := make([]float64, pred.Classes)
	for i := 0; i < k; i++ {
		for c := range logits {
			logits[c] = float64(conf[c*k+i])
		}
		lse := floats.LogSumExp(logits)
		for c, v := range logits {
			out.Scores[c*k+i] = float32(math.Exp(v - lse))
		}
	}
	return out, nil
}

// Detect decodes and suppresses every image of the batch.
func Detect(set *anchor.Set, pred *head.Prediction, p Params) ([][]Detection, error) {
	if err := pred.Validate(); err != nil {
		return nil, err
	}
	if err := set.CheckLen(pred.Anchors); err != nil {
		return nil, fmt.Errorf("%w: %v", head.ErrShapeMismatch, err)
	}
	workers := p.Workers
	if workers == 0 {
		workers = parallel.DefaultLimit()
	}

	results := make([][]Detection, pred.Batch)
	errs := make([]error, pred.Batch)
	parallel.ForEach(pred.Batch, workers, func(n int) {
		dec, err := Decode(set, pred, n, p)
		if err != nil {
			errs[n] = err
			return
		}
		results[n] = NMS(dec, p)
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
