package anchor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultCriteria is the IoU above which an anchor takes a ground-truth box.
const DefaultCriteria = 0.5

// Match is the ground truth aligned to a Set for one image.
type Match struct {
	// Boxes holds (4, K) targets in xywh form. Background anchors carry their
	// own anchor box.
	Boxes []float32
	// Labels holds K labels, 0 for background.
	Labels []int32
}

// Encoder matches annotations to the anchors of a Set.
type Encoder struct {
	set      *Set
	criteria float64
}

// NewEncoder returns an encoder for set. A non-positive criteria selects DefaultCriteria.
func NewEncoder(set *Set, criteria float64) *Encoder {
	if criteria <= 0 {
		criteria = DefaultCriteria
	}
	return &Encoder{set: set, criteria: criteria}
}

// Set returns the anchor set the encoder matches against.
func (e *Encoder) Set() *Set {
	return e.set
}

// IoU returns the (len(boxes), K) IoU matrix between boxes and the anchors.
func (e *Encoder) IoU(boxes []Box) *mat.Dense {
	k := e.set.Len()
	ious := mat.NewDense(len(boxes), k, nil)
	for g, b := range boxes {
		row := ious.RawRowView(g)
		for i := 0; i < k; i++ {
			row[i] = float64(b.IoU(e.set.LTRB(i)))
		}
	}
	return ious
}

// Encode assigns each anchor the ground-truth box it overlaps most when that
// IoU exceeds the criteria. Every ground-truth box is additionally forced onto
// its best anchor, so no annotation goes unmatched. Labels must be positive.
func (e *Encoder) Encode(boxes []Box, labels []int32) (Match, error) {
	if len(boxes) != len(labels) {
		return Match{}, fmt.Errorf("encode got %d boxes and %d labels", len(boxes), len(labels))
	}
	for i, l := range labels {
		if l <= 0 {
			return Match{}, fmt.Errorf("annotation %d has non-positive label %d", i, l)
		}
	}

	k := e.set.Len()
	match := Match{
		Boxes:  make([]float32, 4*k),
		Labels: make([]int32, k),
	}
	copy(match.Boxes, e.set.data())
	if len(boxes) == 0 {
		return match, nil
	}

	ious := e.IoU(boxes)

	// Best ground truth per anchor
	bestIoU := make([]float64, k)
	bestBox := make([]int, k)
	for i := 0; i < k; i++ {
		bestIoU[i] = -1
		for g := range boxes {
			if v := ious.At(g, i); v > bestIoU[i] {
				bestIoU[i] = v
				bestBox[i] = g
			}
		}
	}

	// Force every ground truth onto its best anchor
	for g := range boxes {
		row := ious.RawRowView(g)
		best := 0
		for i := 1; i < k; i++ {
			if row[i] > row[best] {
				best = i
			}
		}
		bestIoU[best] = 2.0
		bestBox[best] = g
	}

	for i := 0; i < k; i++ {
		if bestIoU[i] <= e.criteria {
			continue
		}
		g := bestBox[i]
		match.Labels[i] = labels[g]
		cx, cy, w, h := boxes[g].XYWH()
		match.Boxes[i] = cx
		match.Boxes[k+i] = cy
		match.Boxes[2*k+i] = w
		match.Boxes[3*k+i] = h
	}
	return match, nil
}
