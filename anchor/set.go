package anchor

import (
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Set is the immutable ordered collection of K anchors built from a Layout.
//
// Anchors are stored as a (4, K) tensor, coordinate axis first (cx, cy, w, h)
// so a row can be broadcast against the anchor axis of (batch, 4, K) predictions.
// Within a scale the order is box shape, then row, then column, matching the
// channel-to-anchor reshape of the detection head.
type Set struct {
	layout Layout
	xywh   *tensor.Dense
	ltrb   []Box
}

// Build generates the anchors of layout.
func Build(layout Layout) (*Set, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	k := layout.NumAnchors()
	xywh := tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(4, k))
	fig := float64(layout.ImageSize)

	idx := 0
	for _, s := range layout.Scales {
		fk := fig / s.Step
		sk1 := s.MinSize / fig
		sk2 := s.MaxSize / fig
		sk3 := math.Sqrt(sk1 * sk2)

		sizes := [][2]float64{{sk1, sk1}, {sk3, sk3}}
		for _, r := range s.AspectRatios {
			w, h := sk1*math.Sqrt(r), sk1/math.Sqrt(r)
			sizes = append(sizes, [2]float64{w, h}, [2]float64{h, w})
		}

		for _, wh := range sizes {
			for i := 0; i < s.FeatureSize; i++ {
				for j := 0; j < s.FeatureSize; j++ {
					box := [4]float32{
						clamp01((float64(j) + 0.5) / fk),
						clamp01((float64(i) + 0.5) / fk),
						clamp01(wh[0]),
						clamp01(wh[1]),
					}
					for c, v := range box {
						if err := xywh.SetAt(v, c, idx); err != nil {
							return nil, fmt.Errorf("anchor %d: %w", idx, err)
						}
					}
					idx++
				}
			}
		}
	}
	if idx != k {
		return nil, fmt.Errorf("anchor builder produced %d anchors, layout declares %d", idx, k)
	}

	set := &Set{layout: layout.Clone(), xywh: xywh, ltrb: make([]Box, k)}
	for i := range set.ltrb {
		set.ltrb[i] = BoxFromXYWH(set.XYWH(i))
	}
	return set, nil
}

func clamp01(v float64) float32 {
	return float32(math.Min(math.Max(v, 0), 1))
}

// MustBuild is like Build but panics on an invalid layout.
func MustBuild(layout Layout) *Set {
	s, err := Build(layout)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns K.
func (s *Set) Len() int {
	return len(s.ltrb)
}

// Layout returns a copy of the layout the set was built from.
func (s *Set) Layout() Layout {
	return s.layout.Clone()
}

// Tensor returns the (4, K) xywh anchors. Callers must not modify it.
func (s *Set) Tensor() *tensor.Dense {
	return s.xywh
}

// data returns the row-major (4, K) storage of the anchor tensor.
func (s *Set) data() []float32 {
	return s.xywh.Data().([]float32)
}

// Row returns coordinate c (0 cx, 1 cy, 2 w, 3 h) of every anchor as a view
// into the anchor tensor. Callers must not modify it.
func (s *Set) Row(c int) []float32 {
	k := s.Len()
	return s.data()[c*k : (c+1)*k]
}

// XYWH returns anchor i in center form.
func (s *Set) XYWH(i int) (cx, cy, w, h float32) {
	k := s.Len()
	d := s.data()
	return d[i], d[k+i], d[2*k+i], d[3*k+i]
}

// LTRB returns anchor i in corner form.
func (s *Set) LTRB(i int) Box {
	return s.ltrb[i]
}

// CheckLen returns an error if k does not equal the number of anchors.
func (s *Set) CheckLen(k int) error {
	if k != s.Len() {
		return fmt.Errorf("anchor count mismatch: set has %d anchors, got %d", s.Len(), k)
	}
	return nil
}
