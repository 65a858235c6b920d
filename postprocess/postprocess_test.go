package postprocess

import (
	"math"
	"testing"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/head"
	"github.com/openfluke/ssd/loss"
)

func TestDecodeInvertsEncoding(t *testing.T) {
	set := anchor.MustBuild(anchor.SSD300())
	enc := anchor.NewEncoder(set, 0)
	gt := []anchor.Box{
		{Left: 0.1, Top: 0.2, Right: 0.45, Bottom: 0.7},
		{Left: 0.6, Top: 0.55, Right: 0.95, Bottom: 0.9},
	}
	match, err := enc.Encode(gt, []int32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	target, err := loss.StackTargets([]anchor.Match{match})
	if err != nil {
		t.Fatal(err)
	}
	mb, _ := loss.New(set, loss.Config{})
	encoded, err := mb.Encode(target)
	if err != nil {
		t.Fatal(err)
	}

	k := set.Len()
	pred := &head.Prediction{Batch: 1, Classes: 3, Anchors: k, Loc: encoded, Conf: make([]float32, 3*k)}
	dec, err := Decode(set, pred, 0, SSDParams())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	matched := 0
	for i, l := range match.Labels {
		if l == 0 {
			continue
		}
		matched++
		want := gt[0]
		if l == 2 {
			want = gt[1]
		}
		got := dec.Boxes[i]
		for _, d := range []float32{got.Left - want.Left, got.Top - want.Top, got.Right - want.Right, got.Bottom - want.Bottom} {
			if math.Abs(float64(d)) > 1e-4 {
				t.Fatalf("anchor %d: decoded %+v, expected %+v", i, got, want)
			}
		}
	}
	if matched < 2 {
		t.Errorf("Expected at least 2 matched anchors, got %d", matched)
	}
	// Zero logits give a uniform distribution.
	if s := dec.Score(1, 0); math.Abs(float64(s)-1.0/3) > 1e-6 {
		t.Errorf("Expected uniform score, got %v", s)
	}
}

func decodedOf(boxes []anchor.Box, scores [][]float32) Decoded {
	k := len(boxes)
	d := Decoded{Boxes: boxes, Classes: len(scores), Scores: make([]float32, len(scores)*k)}
	for c, row := range scores {
		copy(d.Scores[c*k:], row)
	}
	return d
}

func TestDecodeSoftmaxLargeLogits(t *testing.T) {
	set := anchor.MustBuild(anchor.SSD300())
	k := set.Len()
	pred := &head.Prediction{Batch: 1, Classes: 3, Anchors: k, Loc: make([]float32, 4*k), Conf: make([]float32, 3*k)}
	pred.Conf[0], pred.Conf[k], pred.Conf[2*k] = 1000, 999, -5

	dec, err := Decode(set, pred, 0, SSDParams())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var sum float64
	for c := 0; c < 3; c++ {
		v := float64(dec.Scores[c*k])
		if math.IsNaN(v) || v < 0 {
			t.Fatalf("class %d: invalid score %f", c, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("Expected scores to sum to 1, got %f", sum)
	}
	ratio := float64(dec.Scores[0]) / float64(dec.Scores[k])
	if math.Abs(ratio-math.E) > 1e-4 {
		t.Errorf("Expected score ratio e, got %f", ratio)
	}
}

func TestNMS(t *testing.T) {
	boxes := []anchor.Box{
		{Left: 0.1, Top: 0.1, Right: 0.5, Bottom: 0.5},
		{Left: 0.12, Top: 0.1, Right: 0.52, Bottom: 0.5},
		{Left: 0.6, Top: 0.6, Right: 0.9, Bottom: 0.9},
		{Left: 0.6, Top: 0.1, Right: 0.9, Bottom: 0.3},
	}
	d := decodedOf(boxes, [][]float32{
		{0.1, 0.1, 0.1, 0.97},
		{0.8, 0.9, 0.02, 0.01},
		{0.1, 0.0, 0.88, 0.02},
	})
	dets := NMS(d, SSDParams())
	if len(dets) != 3 {
		t.Fatalf("Expected 3 detections, got %d: %+v", len(dets), dets)
	}
	if dets[0].Class != 1 || dets[0].Box != boxes[1] || dets[0].Score != 0.9 {
		t.Errorf("Expected box 1 of class 1 first, got %+v", dets[0])
	}
	if dets[1].Class != 2 || dets[1].Box != boxes[2] {
		t.Errorf("Expected box 2 of class 2 second, got %+v", dets[1])
	}
	if dets[2].Class != 2 || dets[2].Box != boxes[0] {
		t.Errorf("Expected box 0 of class 2 last, got %+v", dets[2])
	}

	p := SSDParams()
	p.MaxOutput = 1
	if got := NMS(d, p); len(got) != 1 || got[0].Score != 0.9 {
		t.Errorf("Expected single best detection, got %+v", got)
	}
}

func TestDetectBatch(t *testing.T) {
	set := anchor.MustBuild(anchor.SSD300MobileNet())
	k := set.Len()
	pred := &head.Prediction{Batch: 2, Classes: 2, Anchors: k, Loc: make([]float32, 2*4*k), Conf: make([]float32, 2*2*k)}
	// Sample 1 strongly predicts class 1 at anchor 0.
	pred.Conf[(1*2+1)*k] = 10
	dets, err := Detect(set, pred, SSDParams())
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(dets))
	}
	if len(dets[1]) == 0 || dets[1][0].Box != set.LTRB(0) {
		t.Errorf("Expected anchor 0 box first in sample 1, got %+v", dets[1])
	}

	bad := &head.Prediction{Batch: 1, Classes: 2, Anchors: 5, Loc: make([]float32, 20), Conf: make([]float32, 10)}
	if _, err := Detect(set, bad, SSDParams()); err == nil {
		t.Error("Expected anchor count error")
	}
}
