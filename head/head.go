// Package head implements the detection head: one localization and one
// classification predictor per feature scale, flattened and concatenated into
// per-anchor predictions in anchor.Set order.
package head

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/nn"
)

// ErrShapeMismatch is returned when feature maps, gradients or anchor sets do
// not agree with the head's layout.
var ErrShapeMismatch = errors.New("detection head shape mismatch")

// Head holds the per-scale predictors.
type Head struct {
	layout   anchor.Layout
	channels []int
	classes  int

	loc  []*nn.Conv2D
	conf []*nn.Conv2D

	device *gpuPredictors
}

// Option configures a Head.
type Option func(*Head)

// WithGPU runs the predictor convolutions through the WebGPU backend.
func WithGPU() Option {
	return func(h *Head) {
		h.device = newGPUPredictors()
	}
}

// New builds a head for layout over feature maps with the given channel counts.
// classes includes the background class.
func New(layout anchor.Layout, channels []int, classes int, rng *rand.Rand, opts ...Option) (*Head, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if len(channels) != len(layout.Scales) {
		return nil, fmt.Errorf("%w: %d channel entries for %d scales", ErrShapeMismatch, len(channels), len(layout.Scales))
	}
	if classes < 2 {
		return nil, fmt.Errorf("head needs background plus at least one class, got %d", classes)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	h := &Head{
		layout:   layout.Clone(),
		channels: append([]int(nil), channels...),
		classes:  classes,
	}
	// Xavier uniform kernels, zero biases.
	for i, s := range h.layout.Scales {
		nd := s.AnchorsPerCell()
		h.loc = append(h.loc, nn.NewConv2D(channels[i], nd*4, 3, 1, 1, true, nn.ActivationLinear, rng))
		h.conf = append(h.conf, nn.NewConv2D(channels[i], nd*classes, 3, 1, 1, true, nn.ActivationLinear, rng))
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Classes returns the number of classes including background.
func (h *Head) Classes() int { return h.classes }

// NumAnchors returns K for the head's layout.
func (h *Head) NumAnchors() int { return h.layout.NumAnchors() }

// Layout returns a copy of the head's anchor layout.
func (h *Head) Layout() anchor.Layout { return h.layout.Clone() }

// Validate checks that set was built from the same layout as the head.
func (h *Head) Validate(set *anchor.Set) error {
	if set == nil {
		return fmt.Errorf("%w: nil anchor set", ErrShapeMismatch)
	}
	if set.Len() != h.NumAnchors() {
		return fmt.Errorf("%w: anchor set has %d anchors, head predicts %d", ErrShapeMismatch, set.Len(), h.NumAnchors())
	}
	if !set.Layout().Equal(h.layout) {
		return fmt.Errorf("%w: anchor set was built from a different layout", ErrShapeMismatch)
	}
	return nil
}

func (h *Head) checkFeatures(features []nn.FeatureMap) (int, error) {
	if len(features) != len(h.layout.Scales) {
		return 0, fmt.Errorf("%w: got %d feature maps, layout has %d scales", ErrShapeMismatch, len(features), len(h.layout.Scales))
	}
	batch := features[0].Batch
	for i, f := range features {
		if err := f.Validate(); err != nil {
			return 0, fmt.Errorf("%w: scale %d: %v", ErrShapeMismatch, i, err)
		}
		size := h.layout.Scales[i].FeatureSize
		if f.Channels != h.channels[i] || f.Height != size || f.Width != size || f.Batch != batch {
			return 0, fmt.Errorf("%w: scale %d is %s, want (%d,%d,%d,%d)",
				ErrShapeMismatch, i, f.ShapeString(), batch, h.channels[i], size, size)
		}
	}
	return batch, nil
}

// Forward runs the predictors over features and assembles the prediction.
// Each (batch, nd*4, H, W) localization output is viewed as (batch, 4, nd*H*W)
// and the scales are concatenated along the anchor axis; confidences likewise
// with classes in place of 4.
func (h *Head) Forward(features []nn.FeatureMap) (*Prediction, error) {
	batch, err := h.checkFeatures(features)
	if err != nil {
		return nil, err
	}

	k := h.NumAnchors()
	pred := &Prediction{
		Batch:   batch,
		Classes: h.classes,
		Anchors: k,
		Loc:     make([]float32, batch*4*k),
		Conf:    make([]float32, batch*h.classes*k),
	}

	offsets := h.layout.Offsets()
	for i, f := range features {
		locOut, err := h.predict(i, h.loc[i], f, "loc")
		if err != nil {
			return nil, fmt.Errorf("scale %d loc: %w", i, err)
		}
		confOut, err := h.predict(i, h.conf[i], f, "conf")
		if err != nil {
			return nil, fmt.Errorf("scale %d conf: %w", i, err)
		}
		count := h.layout.Scales[i].Count()
		scatter(pred.Loc, locOut.Data, batch, 4, k, offsets[i], count)
		scatter(pred.Conf, confOut.Data, batch, h.classes, k, offsets[i], count)
	}
	return pred, nil
}

func (h *Head) predict(scale int, conv *nn.Conv2D, f nn.FeatureMap, kind string) (nn.FeatureMap, error) {
	if h.device != nil {
		return h.device.forward(scale, kind, conv, f)
	}
	_, out, err := conv.Forward(f)
	return out, err
}

// scatter copies a per-scale output viewed as (batch, rows, count) into the
// anchor range [offset, offset+count) of a (batch, rows, k) tensor.
func scatter(dst, src []float32, batch, rows, k, offset, count int) {
	for n := 0; n < batch; n++ {
		for r := 0; r < rows; r++ {
			copy(dst[(n*rows+r)*k+offset:], src[(n*rows+r)*count:(n*rows+r+1)*count])
		}
	}
}

// gather is the inverse of scatter.
func gather(dst, src []float32, batch, rows, k, offset, count int) {
	for n := 0; n < batch; n++ {
		for r := 0; r < rows; r++ {
			copy(dst[(n*rows+r)*count:(n*rows+r+1)*count], src[(n*rows+r)*k+offset:])
		}
	}
}

// Backward propagates prediction gradients (same layout as Prediction.Loc and
// Prediction.Conf) through the predictors. Weight and bias gradients accumulate
// until ZeroGrad; the per-scale feature gradients are returned.
func (h *Head) Backward(features []nn.FeatureMap, gradLoc, gradConf []float32) ([]nn.FeatureMap, error) {
	batch, err := h.checkFeatures(features)
	if err != nil {
		return nil, err
	}
	k := h.NumAnchors()
	if len(gradLoc) != batch*4*k || len(gradConf) != batch*h.classes*k {
		return nil, fmt.Errorf("%w: gradients of length %d/%d, want %d/%d",
			ErrShapeMismatch, len(gradLoc), len(gradConf), batch*4*k, batch*h.classes*k)
	}

	offsets := h.layout.Offsets()
	grads := make([]nn.FeatureMap, len(features))
	for i, f := range features {
		s := h.layout.Scales[i]
		nd, count := s.AnchorsPerCell(), s.Count()

		gLoc := nn.NewFeatureMap(batch, nd*4, s.FeatureSize, s.FeatureSize)
		gather(gLoc.Data, gradLoc, batch, 4, k, offsets[i], count)
		gIn, err := h.loc[i].Backward(gLoc, f, nn.FeatureMap{})
		if err != nil {
			return nil, fmt.Errorf("scale %d loc: %w", i, err)
		}

		gConf := nn.NewFeatureMap(batch, nd*h.classes, s.FeatureSize, s.FeatureSize)
		gather(gConf.Data, gradConf, batch, h.classes, k, offsets[i], count)
		gIn2, err := h.conf[i].Backward(gConf, f, nn.FeatureMap{})
		if err != nil {
			return nil, fmt.Errorf("scale %d conf: %w", i, err)
		}

		for j, v := range gIn2.Data {
			gIn.Data[j] += v
		}
		grads[i] = gIn
	}
	return grads, nil
}

// Params lists the predictor parameters as loc.<i>.weight, conf.<i>.bias and so on.
func (h *Head) Params() []nn.Param {
	var params []nn.Param
	for i := range h.loc {
		params = append(params, h.loc[i].Params(fmt.Sprintf("loc.%d", i))...)
	}
	for i := range h.conf {
		params = append(params, h.conf[i].Params(fmt.Sprintf("conf.%d", i))...)
	}
	return params
}

// ZeroGrad clears accumulated gradients.
func (h *Head) ZeroGrad() {
	for i := range h.loc {
		h.loc[i].ZeroGrad()
		h.conf[i].ZeroGrad()
	}
}

// Close releases GPU resources held by the head.
func (h *Head) Close() {
	if h.device != nil {
		h.device.close()
	}
}
