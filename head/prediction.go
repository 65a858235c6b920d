package head

import "fmt"

// Prediction is the head output for a batch.
//
// Loc is laid out as (Batch, 4, Anchors) with rows cx, cy, w, h offsets;
// Conf as (Batch, Classes, Anchors) raw logits.
type Prediction struct {
	Batch   int
	Classes int
	Anchors int
	Loc     []float32
	Conf    []float32
}

// Validate checks the buffers against the declared shape.
func (p *Prediction) Validate() error {
	if p.Batch <= 0 || p.Classes <= 0 || p.Anchors <= 0 {
		return fmt.Errorf("%w: prediction shape (%d,%d,%d)", ErrShapeMismatch, p.Batch, p.Classes, p.Anchors)
	}
	if len(p.Loc) != p.Batch*4*p.Anchors {
		return fmt.Errorf("%w: loc has %d values, want %d", ErrShapeMismatch, len(p.Loc), p.Batch*4*p.Anchors)
	}
	if len(p.Conf) != p.Batch*p.Classes*p.Anchors {
		return fmt.Errorf("%w: conf has %d values, want %d", ErrShapeMismatch, len(p.Conf), p.Batch*p.Classes*p.Anchors)
	}
	return nil
}

// LocAt returns coordinate c of anchor k in sample n.
func (p *Prediction) LocAt(n, c, k int) float32 {
	return p.Loc[(n*4+c)*p.Anchors+k]
}

// ConfAt returns the logit of class c at anchor k in sample n.
func (p *Prediction) ConfAt(n, c, k int) float32 {
	return p.Conf[(n*p.Classes+c)*p.Anchors+k]
}

// SampleLoc returns the (4, Anchors) block of sample n.
func (p *Prediction) SampleLoc(n int) []float32 {
	return p.Loc[n*4*p.Anchors : (n+1)*4*p.Anchors]
}

// SampleConf returns the (Classes, Anchors) block of sample n.
func (p *Prediction) SampleConf(n int) []float32 {
	return p.Conf[n*p.Classes*p.Anchors : (n+1)*p.Classes*p.Anchors]
}
