package loss

import (
	"fmt"

	"github.com/openfluke/ssd/anchor"
)

// Target is the matched ground truth for a batch.
//
// Loc is (Batch, 4, Anchors) in cx, cy, w, h form; Labels is (Batch, Anchors)
// with 0 for background.
type Target struct {
	Batch   int
	Anchors int
	Loc     []float32
	Labels  []int32
}

// StackTargets concatenates per-image encoder output into a batch target.
func StackTargets(matches []anchor.Match) (*Target, error) {
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no matches to stack", ErrShapeMismatch)
	}
	k := len(matches[0].Labels)
	t := &Target{
		Batch:   len(matches),
		Anchors: k,
		Loc:     make([]float32, 0, len(matches)*4*k),
		Labels:  make([]int32, 0, len(matches)*k),
	}
	for i, m := range matches {
		if len(m.Labels) != k || len(m.Boxes) != 4*k {
			return nil, fmt.Errorf("%w: match %d has %d labels and %d box values, want %d and %d",
				ErrShapeMismatch, i, len(m.Labels), len(m.Boxes), k, 4*k)
		}
		t.Loc = append(t.Loc, m.Boxes...)
		t.Labels = append(t.Labels, m.Labels...)
	}
	return t, nil
}

// Validate checks the buffers against the declared shape.
func (t *Target) Validate() error {
	if t.Batch <= 0 || t.Anchors <= 0 {
		return fmt.Errorf("%w: target shape (%d,%d)", ErrShapeMismatch, t.Batch, t.Anchors)
	}
	if len(t.Loc) != t.Batch*4*t.Anchors || len(t.Labels) != t.Batch*t.Anchors {
		return fmt.Errorf("%w: target buffers %d/%d, want %d/%d",
			ErrShapeMismatch, len(t.Loc), len(t.Labels), t.Batch*4*t.Anchors, t.Batch*t.Anchors)
	}
	return nil
}

// SampleLoc returns the (4, Anchors) boxes of sample n.
func (t *Target) SampleLoc(n int) []float32 {
	return t.Loc[n*4*t.Anchors : (n+1)*4*t.Anchors]
}

// SampleLabels returns the labels of sample n.
func (t *Target) SampleLabels(n int) []int32 {
	return t.Labels[n*t.Anchors : (n+1)*t.Anchors]
}
