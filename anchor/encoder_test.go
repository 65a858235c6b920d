package anchor

import (
	"math"
	"testing"
)

func TestBoxIoU(t *testing.T) {
	a := Box{0, 0, 1, 1}
	b := Box{0.5, 0, 1.5, 1}
	if got := a.IoU(b); math.Abs(float64(got)-1.0/3.0) > 1e-6 {
		t.Errorf("Expected IoU 1/3, got %f", got)
	}
	if got := a.IoU(Box{2, 2, 3, 3}); got != 0 {
		t.Errorf("Expected IoU 0 for disjoint boxes, got %f", got)
	}
	if got := a.IoU(a); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("Expected IoU 1 for identical boxes, got %f", got)
	}
}

func TestEncodeNoAnnotations(t *testing.T) {
	set := MustBuild(SSD300())
	match, err := NewEncoder(set, 0).Encode(nil, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i, l := range match.Labels {
		if l != 0 {
			t.Fatalf("anchor %d: expected background, got %d", i, l)
		}
	}
	for c := 0; c < 4; c++ {
		row := match.Boxes[c*set.Len() : (c+1)*set.Len()]
		for i, v := range row {
			if v != set.Row(c)[i] {
				t.Fatalf("background target %d/%d should be the anchor itself", c, i)
			}
		}
	}
}

func TestEncodeMatchesEveryBox(t *testing.T) {
	set := MustBuild(SSD300())
	enc := NewEncoder(set, 0.5)
	boxes := []Box{
		{0.1, 0.1, 0.4, 0.5},
		{0.6, 0.55, 0.95, 0.9},
		{0.48, 0.48, 0.5, 0.5}, // tiny box below every IoU threshold
	}
	labels := []int32{3, 7, 9}
	match, err := enc.Encode(boxes, labels)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	counts := map[int32]int{}
	k := set.Len()
	for i, l := range match.Labels {
		if l == 0 {
			continue
		}
		counts[l]++
		// Foreground targets carry their ground-truth box in xywh
		var g Box
		switch l {
		case 3:
			g = boxes[0]
		case 7:
			g = boxes[1]
		case 9:
			g = boxes[2]
		}
		cx, cy, w, h := g.XYWH()
		if match.Boxes[i] != cx || match.Boxes[k+i] != cy || match.Boxes[2*k+i] != w || match.Boxes[3*k+i] != h {
			t.Fatalf("anchor %d: target box does not match ground truth", i)
		}
	}
	for _, l := range labels {
		if counts[l] == 0 {
			t.Errorf("label %d was never assigned", l)
		}
	}
	if counts[9] != 1 {
		t.Errorf("tiny box should only be forced onto its best anchor, got %d anchors", counts[9])
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	enc := NewEncoder(MustBuild(SSD300()), 0)
	if _, err := enc.Encode([]Box{{0, 0, 1, 1}}, nil); err == nil {
		t.Error("Expected error for box/label count mismatch")
	}
	if _, err := enc.Encode([]Box{{0, 0, 1, 1}}, []int32{0}); err == nil {
		t.Error("Expected error for background label on an annotation")
	}
}

func TestIoUMatrixShape(t *testing.T) {
	set := MustBuild(SSD300MobileNet())
	ious := NewEncoder(set, 0).IoU([]Box{{0, 0, 0.5, 0.5}, {0.5, 0.5, 1, 1}})
	r, c := ious.Dims()
	if r != 2 || c != set.Len() {
		t.Errorf("Expected (2, %d) IoU matrix, got (%d, %d)", set.Len(), r, c)
	}
}
