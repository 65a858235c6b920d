package anchor

import (
	"math"
	"testing"

	"gorgonia.org/tensor"
)

func TestSSD300AnchorCount(t *testing.T) {
	layout := SSD300()
	want := 38*38*4 + 19*19*6 + 10*10*6 + 5*5*6 + 3*3*4 + 1*1*4
	if layout.NumAnchors() != want || want != 8732 {
		t.Fatalf("Expected 8732 anchors, got %d", layout.NumAnchors())
	}
	set, err := Build(layout)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if set.Len() != 8732 {
		t.Errorf("Expected set length 8732, got %d", set.Len())
	}
	shape := set.Tensor().Shape()
	if len(shape) != 2 || shape[0] != 4 || shape[1] != 8732 {
		t.Errorf("Expected tensor shape (4, 8732), got %v", shape)
	}
	apc := layout.AnchorsPerCell()
	for i, want := range []int{4, 6, 6, 6, 4, 4} {
		if apc[i] != want {
			t.Errorf("scale %d: expected %d anchors per cell, got %d", i, want, apc[i])
		}
	}
}

func TestMobileNetAnchorCount(t *testing.T) {
	layout := SSD300MobileNet()
	want := 19*19*4 + 10*10*6 + 5*5*6 + 3*3*6 + 2*2*4 + 1*1*4
	if layout.NumAnchors() != want {
		t.Errorf("Expected %d anchors, got %d", want, layout.NumAnchors())
	}
}

// TestAnchorOrdering verifies box-shape-major, then row, then column order within a scale
func TestAnchorOrdering(t *testing.T) {
	set := MustBuild(SSD300())
	fk := 300.0 / 8.0

	// First anchor: row 0, col 0, first (small square) box
	cx, cy, w, h := set.XYWH(0)
	if math.Abs(float64(cx)-0.5/fk) > 1e-6 || math.Abs(float64(cy)-0.5/fk) > 1e-6 {
		t.Errorf("anchor 0 center: expected (%f, %f), got (%f, %f)", 0.5/fk, 0.5/fk, cx, cy)
	}
	if math.Abs(float64(w)-21.0/300) > 1e-6 || w != h {
		t.Errorf("anchor 0 size: expected square 0.07, got %f x %f", w, h)
	}

	// Anchor 1 is the next column with the same box shape
	cx1, cy1, w1, _ := set.XYWH(1)
	if math.Abs(float64(cx1)-1.5/fk) > 1e-6 || cy1 != cy || w1 != w {
		t.Errorf("anchor 1: expected next column, got (%f, %f, %f)", cx1, cy1, w1)
	}

	// Anchor 38 starts the second row
	_, cy38, _, _ := set.XYWH(38)
	if math.Abs(float64(cy38)-1.5/fk) > 1e-6 {
		t.Errorf("anchor 38: expected second row center %f, got %f", 1.5/fk, cy38)
	}

	// Anchor 38*38 is the second (geometric mean) box shape back at the origin
	cx2, _, w2, _ := set.XYWH(38 * 38)
	wantW := math.Sqrt(21.0 / 300 * 45.0 / 300)
	if math.Abs(float64(cx2)-0.5/fk) > 1e-6 || math.Abs(float64(w2)-wantW) > 1e-6 {
		t.Errorf("anchor 1444: expected (%f, w=%f), got (%f, w=%f)", 0.5/fk, wantW, cx2, w2)
	}

	// Third box shape has aspect ratio 2: wide
	_, _, w3, h3 := set.XYWH(2 * 38 * 38)
	if math.Abs(float64(w3/h3)-2) > 1e-4 {
		t.Errorf("anchor 2888: expected aspect 2, got %f", w3/h3)
	}

	// Last scale is a single cell centered in the image
	cxLast, cyLast, _, _ := set.XYWH(set.Len() - 1)
	if math.Abs(float64(cxLast)-0.5) > 1e-6 || math.Abs(float64(cyLast)-0.5) > 1e-6 {
		t.Errorf("last anchor: expected center (0.5, 0.5), got (%f, %f)", cxLast, cyLast)
	}
}

func TestAnchorsClamped(t *testing.T) {
	set := MustBuild(SSD300())
	for c := 0; c < 4; c++ {
		for i, v := range set.Row(c) {
			if v < 0 || v > 1 {
				t.Fatalf("coordinate %d of anchor %d out of [0,1]: %f", c, i, v)
			}
		}
	}
}

func TestTensorSharesRows(t *testing.T) {
	set := MustBuild(SSD300())
	v, err := set.Tensor().At(2, 5)
	if err != nil {
		t.Fatalf("At failed: %v", err)
	}
	if v.(float32) != set.Row(2)[5] {
		t.Errorf("tensor and row disagree: %v vs %f", v, set.Row(2)[5])
	}
	if set.Tensor().Dtype() != tensor.Float32 {
		t.Errorf("Expected float32 anchors, got %v", set.Tensor().Dtype())
	}

	// Rows are views into the tensor, not copies.
	k := set.Len()
	backing := set.Tensor().Data().([]float32)
	for c := 0; c < 4; c++ {
		if &set.Row(c)[0] != &backing[c*k] {
			t.Errorf("row %d does not alias the anchor tensor", c)
		}
	}
	cx, cy, w, h := set.XYWH(7)
	for c, want := range []float32{cx, cy, w, h} {
		got, _ := set.Tensor().At(c, 7)
		if got.(float32) != want {
			t.Errorf("XYWH(7)[%d]: expected %v from tensor, got %v", c, got, want)
		}
	}
}

func TestLayoutEqual(t *testing.T) {
	if !SSD300().Equal(SSD300()) {
		t.Error("identical layouts should be equal")
	}
	if SSD300().Equal(SSD300MobileNet()) {
		t.Error("different layouts should not be equal")
	}
	other := SSD300()
	other.Scales[2].AspectRatios[1] = 4
	if SSD300().Equal(other) {
		t.Error("aspect ratio change should break equality")
	}
}

func TestLayoutValidate(t *testing.T) {
	bad := SSD300()
	bad.Scales[0].FeatureSize = 0
	if _, err := Build(bad); err == nil {
		t.Error("Expected error for zero feature size")
	}
	if err := (Layout{ImageSize: 300}).Validate(); err == nil {
		t.Error("Expected error for empty layout")
	}
}

func TestOffsets(t *testing.T) {
	offsets := SSD300().Offsets()
	want := []int{0, 5776, 7942, 8542, 8692, 8728}
	for i := range want {
		if offsets[i] != want[i] {
			t.Errorf("offset %d: expected %d, got %d", i, want[i], offsets[i])
		}
	}
}
