// Package loss implements the multi-task detection loss: smooth-L1 box
// regression on foreground anchors plus cross-entropy classification on the
// foreground and the hardest background anchors.
package loss

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/head"
	"github.com/openfluke/ssd/parallel"
)

// ErrShapeMismatch is returned when predictions, targets and the anchor set
// disagree on batch size, class count or anchor count.
var ErrShapeMismatch = errors.New("loss shape mismatch")

// MultiBox computes the loss against a fixed anchor set.
type MultiBox struct {
	set *anchor.Set
	cfg Config
}

// New returns a MultiBox loss over set.
func New(set *anchor.Set, cfg Config) (*MultiBox, error) {
	if set == nil {
		return nil, fmt.Errorf("loss needs an anchor set")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MultiBox{set: set, cfg: cfg}, nil
}

// Config returns the effective configuration.
func (m *MultiBox) Config() Config { return m.cfg }

// SampleLoss is the breakdown of one sample's contribution.
type SampleLoss struct {
	Loc        float64 // summed smooth-L1 over foreground anchors
	Conf       float64 // summed cross-entropy over foreground and negative anchors
	Total      float64 // Loc + Conf
	Normalized float64 // Total / PosNum, 0 when PosNum is 0
	PosNum     int
	// NegNum is min(NegRatio*PosNum, K).
	NegNum int
	// Selected is the number of background anchors in the negative mask,
	// min(NegNum, K-PosNum).
	Selected int
}

// Result is the loss with its breakdown and gradients.
type Result struct {
	Loss    float64
	Samples []SampleLoss
	// Foreground and Negative are (batch, K) masks.
	Foreground []bool
	Negative   []bool
	// GradLoc and GradConf are dLoss/dLoc and dLoss/dConf in prediction layout.
	GradLoc  []float32
	GradConf []float32
}

func (m *MultiBox) check(pred *head.Prediction, target *Target) error {
	if pred == nil || target == nil {
		return fmt.Errorf("%w: nil prediction or target", ErrShapeMismatch)
	}
	if err := pred.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if err := target.Validate(); err != nil {
		return err
	}
	k := m.set.Len()
	if pred.Anchors != k || target.Anchors != k {
		return fmt.Errorf("%w: prediction has %d anchors, target %d, anchor set %d",
			ErrShapeMismatch, pred.Anchors, target.Anchors, k)
	}
	if pred.Batch != target.Batch {
		return fmt.Errorf("%w: prediction batch %d, target batch %d", ErrShapeMismatch, pred.Batch, target.Batch)
	}

	aw, ah := m.set.Row(2), m.set.Row(3)
	for n := 0; n < target.Batch; n++ {
		labels := target.SampleLabels(n)
		loc := target.SampleLoc(n)
		for i, l := range labels {
			if l < 0 || int(l) >= pred.Classes {
				return fmt.Errorf("sample %d anchor %d: label %d outside [0,%d)", n, i, l, pred.Classes)
			}
			if l > 0 && (loc[2*k+i] <= 0 || loc[3*k+i] <= 0 || aw[i] <= 0 || ah[i] <= 0) {
				return fmt.Errorf("sample %d anchor %d: foreground box needs positive size", n, i)
			}
		}
	}
	return nil
}

// Encode returns the regression targets of target: for foreground anchors
// scale_xy*(center-anchor center)/anchor size and scale_wh*log(size/anchor size),
// zero elsewhere. Layout is (batch, 4, K).
func (m *MultiBox) Encode(target *Target) ([]float32, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := m.set.CheckLen(target.Anchors); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	out := make([]float32, len(target.Loc))
	k := target.Anchors
	for n := 0; n < target.Batch; n++ {
		m.encodeSample(out[n*4*k:(n+1)*4*k], target.SampleLoc(n), target.SampleLabels(n))
	}
	return out, nil
}

func (m *MultiBox) encodeSample(dst, loc []float32, labels []int32) {
	k := len(labels)
	ax, ay, aw, ah := m.set.Row(0), m.set.Row(1), m.set.Row(2), m.set.Row(3)
	for i, l := range labels {
		if l <= 0 {
			continue
		}
		dst[i] = float32(m.cfg.ScaleXY * float64(loc[i]-ax[i]) / float64(aw[i]))
		dst[k+i] = float32(m.cfg.ScaleXY * float64(loc[k+i]-ay[i]) / float64(ah[i]))
		dst[2*k+i] = float32(m.cfg.ScaleWH * math.Log(float64(loc[2*k+i])/float64(aw[i])))
		dst[3*k+i] = float32(m.cfg.ScaleWH * math.Log(float64(loc[3*k+i])/float64(ah[i])))
	}
}

// Forward computes the batch loss and its gradients with respect to the
// prediction. The negative mask is treated as a constant when differentiating.
func (m *MultiBox) Forward(pred *head.Prediction, target *Target) (*Result, error) {
	if err := m.check(pred, target); err != nil {
		return nil, err
	}

	batch, k, classes := pred.Batch, pred.Anchors, pred.Classes
	res := &Result{
		Samples:    make([]SampleLoss, batch),
		Foreground: make([]bool, batch*k),
		Negative:   make([]bool, batch*k),
		GradLoc:    make([]float32, len(pred.Loc)),
		GradConf:   make([]float32, len(pred.Conf)),
	}

	workers := m.cfg.Workers
	if workers == 0 {
		workers = parallel.DefaultLimit()
	}
	parallel.ForEach(batch, workers, func(n int) {
		s := sample{
			m:        m,
			k:        k,
			classes:  classes,
			ploc:     pred.SampleLoc(n),
			pconf:    pred.SampleConf(n),
			gloc:     target.SampleLoc(n),
			labels:   target.SampleLabels(n),
			fg:       res.Foreground[n*k : (n+1)*k],
			neg:      res.Negative[n*k : (n+1)*k],
			gradLoc:  res.GradLoc[n*4*k : (n+1)*4*k],
			gradConf: res.GradConf[n*classes*k : (n+1)*classes*k],
		}
		res.Samples[n] = s.run(float64(batch))
	})

	normalized := make([]float64, batch)
	for n, s := range res.Samples {
		normalized[n] = s.Normalized
	}
	res.Loss = stat.Mean(normalized, nil)
	return res, nil
}

// sample holds the views of one batch entry. It never reads another sample.
type sample struct {
	m       *MultiBox
	k       int
	classes int

	ploc, pconf []float32
	gloc        []float32
	labels      []int32

	fg, neg           []bool
	gradLoc, gradConf []float32
}

func (s *sample) run(batch float64) SampleLoss {
	k := s.k
	var out SampleLoss

	for i, l := range s.labels {
		if l > 0 {
			s.fg[i] = true
			out.PosNum++
		}
	}

	// Localization
	encoded := make([]float32, 4*k)
	s.m.encodeSample(encoded, s.gloc, s.labels)
	locDiff := make([]float64, 4*k)
	locPer := make([]float64, k)
	for c := 0; c < 4; c++ {
		for i := 0; i < k; i++ {
			if !s.fg[i] {
				continue
			}
			d := float64(s.ploc[c*k+i]) - float64(encoded[c*k+i])
			locDiff[c*k+i] = d
			locPer[i] += smoothL1(d)
		}
	}
	out.Loc = floats.Sum(locPer)

	// Unreduced classification loss and softmax
	ce := make([]float64, k)
	probs := make([]float64, s.classes*k)
	logits := make([]float64, s.classes)
	for i := 0; i < k; i++ {
		for c := range logits {
			logits[c] = float64(s.pconf[c*k+i])
		}
		lse := floats.LogSumExp(logits)
		ce[i] = lse - logits[s.labels[i]]
		for c, v := range logits {
			probs[c*k+i] = math.Exp(v - lse)
		}
	}

	// Hard negatives: background anchors by descending loss, ties by index.
	out.NegNum = min(int(math.Floor(s.m.cfg.NegRatio*float64(out.PosNum))), k)
	background := make([]int, 0, k-out.PosNum)
	for i := range s.labels {
		if !s.fg[i] {
			background = append(background, i)
		}
	}
	slices.SortStableFunc(background, func(a, b int) int {
		switch {
		case ce[a] > ce[b]:
			return -1
		case ce[a] < ce[b]:
			return 1
		}
		return a - b
	})
	out.Selected = min(out.NegNum, len(background))
	for _, i := range background[:out.Selected] {
		s.neg[i] = true
	}

	confMask := make([]float64, k)
	for i := range confMask {
		if s.fg[i] || s.neg[i] {
			confMask[i] = 1
		}
	}
	out.Conf = floats.Dot(ce, confMask)
	out.Total = out.Loc + out.Conf

	indicator := 0.0
	if out.PosNum > 0 {
		indicator = 1
	}
	scale := indicator / math.Max(float64(out.PosNum), s.m.cfg.Epsilon)
	out.Normalized = out.Total * scale
	if indicator == 0 {
		return out
	}

	// d(batch mean)/d(prediction)
	g := scale / batch
	for c := 0; c < 4; c++ {
		for i := 0; i < k; i++ {
			if s.fg[i] {
				s.gradLoc[c*k+i] = float32(g * smoothL1Grad(locDiff[c*k+i]))
			}
		}
	}
	for i := 0; i < k; i++ {
		if confMask[i] == 0 {
			continue
		}
		label := int(s.labels[i])
		for c := 0; c < s.classes; c++ {
			d := probs[c*k+i]
			if c == label {
				d--
			}
			s.gradConf[c*k+i] = float32(g * d)
		}
	}
	return out
}

// smoothL1 is the Huber loss with beta 1.
func smoothL1(x float64) float64 {
	a := math.Abs(x)
	if a < 1 {
		return 0.5 * x * x
	}
	return a - 0.5
}

func smoothL1Grad(x float64) float64 {
	return math.Max(-1, math.Min(1, x))
}
