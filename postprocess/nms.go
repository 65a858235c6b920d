package postprocess

import (
	"cmp"
	"slices"

	"github.com/openfluke/ssd/anchor"
)

// Detection is one kept box.
type Detection struct {
	Box   anchor.Box
	Class int32
	Score float32
}

// NMS runs greedy non-maximum suppression per foreground class and returns the
// kept detections ordered by descending score, at most p.MaxOutput of them.
func NMS(d Decoded, p Params) []Detection {
	k := len(d.Boxes)
	var dets []Detection
	candidates := make([]int, 0, k)

	for c := 1; c < d.Classes; c++ {
		candidates = candidates[:0]
		for i := 0; i < k; i++ {
			if d.Score(c, i) > p.ScoreThreshold {
				candidates = append(candidates, i)
			}
		}
		slices.SortStableFunc(candidates, func(a, b int) int {
			return cmp.Compare(d.Score(c, b), d.Score(c, a))
		})
		if p.MaxOutput > 0 && len(candidates) > p.MaxOutput {
			candidates = candidates[:p.MaxOutput]
		}

		var kept []int
		for _, i := range candidates {
			suppressed := false
			for _, j := range kept {
				if d.Boxes[i].IoU(d.Boxes[j]) > p.NMSThreshold {
					suppressed = true
					break
				}
			}
			if !suppressed {
				kept = append(kept, i)
				dets = append(dets, Detection{Box: d.Boxes[i], Class: int32(c), Score: d.Score(c, i)})
			}
		}
	}

	slices.SortStableFunc(dets, func(a, b Detection) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if p.MaxOutput > 0 && len(dets) > p.MaxOutput {
		dets = dets[:p.MaxOutput]
	}
	return dets
}
