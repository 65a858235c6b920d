// Package anchor builds the fixed set of reference (default) boxes of the
// detector and matches ground-truth annotations to it.
//
// A Layout is the single configuration table shared by the detection head and
// the anchor builder: one Scale per feature map, in the order the feature
// pyramid supplies them. Both sides derive the anchor ordering from it, so the
// head's flattened predictions and the Set line up index for index.
package anchor

import (
	"fmt"
	"slices"
)

// Scale describes the anchors laid over one square feature map.
type Scale struct {
	// FeatureSize is the height and width of the feature map.
	FeatureSize int
	// Step is the input-image stride of one feature cell, in pixels.
	Step float64
	// MinSize and MaxSize are the anchor scales in pixels; the second square box
	// uses their geometric mean.
	MinSize float64
	MaxSize float64
	// AspectRatios adds two boxes per ratio r: (sqrt(r), 1/sqrt(r)) and its transpose.
	AspectRatios []float64
}

// AnchorsPerCell returns 2 + 2*len(AspectRatios).
func (s Scale) AnchorsPerCell() int {
	return 2 + 2*len(s.AspectRatios)
}

// Count returns the number of anchors this scale contributes.
func (s Scale) Count() int {
	return s.AnchorsPerCell() * s.FeatureSize * s.FeatureSize
}

// Layout is the ordered per-scale anchor configuration for a square input image.
type Layout struct {
	ImageSize int
	Scales    []Scale
}

// SSD300 returns the layout used with ResNet backbones:
// feature maps 38, 19, 10, 5, 3, 1 with 4, 6, 6, 6, 4, 4 anchors per cell (8732 anchors).
func SSD300() Layout {
	return ssd300([]int{38, 19, 10, 5, 3, 1}, []float64{8, 16, 32, 64, 100, 300})
}

// SSD300MobileNet returns the layout used with MobileNet backbones:
// feature maps 19, 10, 5, 3, 2, 1 (3234 anchors).
func SSD300MobileNet() Layout {
	return ssd300([]int{19, 10, 5, 3, 2, 1}, []float64{16, 30, 60, 100, 150, 300})
}

func ssd300(featureSizes []int, steps []float64) Layout {
	sizes := []float64{21, 45, 99, 153, 207, 261, 315}
	ratios := [][]float64{{2}, {2, 3}, {2, 3}, {2, 3}, {2}, {2}}

	layout := Layout{ImageSize: 300}
	for i, fs := range featureSizes {
		layout.Scales = append(layout.Scales, Scale{
			FeatureSize:  fs,
			Step:         steps[i],
			MinSize:      sizes[i],
			MaxSize:      sizes[i+1],
			AspectRatios: slices.Clone(ratios[i]),
		})
	}
	return layout
}

// NumAnchors returns K, the total anchor count over all scales.
func (l Layout) NumAnchors() int {
	k := 0
	for _, s := range l.Scales {
		k += s.Count()
	}
	return k
}

// AnchorsPerCell returns the per-scale anchors-per-cell counts.
func (l Layout) AnchorsPerCell() []int {
	out := make([]int, len(l.Scales))
	for i, s := range l.Scales {
		out[i] = s.AnchorsPerCell()
	}
	return out
}

// FeatureSizes returns the per-scale feature map sizes.
func (l Layout) FeatureSizes() []int {
	out := make([]int, len(l.Scales))
	for i, s := range l.Scales {
		out[i] = s.FeatureSize
	}
	return out
}

// Offsets returns the first anchor index of every scale.
func (l Layout) Offsets() []int {
	out := make([]int, len(l.Scales))
	k := 0
	for i, s := range l.Scales {
		out[i] = k
		k += s.Count()
	}
	return out
}

// Validate checks that every scale is well formed.
func (l Layout) Validate() error {
	if l.ImageSize <= 0 {
		return fmt.Errorf("layout image size must be positive, got %d", l.ImageSize)
	}
	if len(l.Scales) == 0 {
		return fmt.Errorf("layout has no scales")
	}
	for i, s := range l.Scales {
		if s.FeatureSize <= 0 {
			return fmt.Errorf("scale %d: feature size must be positive, got %d", i, s.FeatureSize)
		}
		if s.Step <= 0 {
			return fmt.Errorf("scale %d: step must be positive, got %g", i, s.Step)
		}
		if s.MinSize <= 0 || s.MaxSize <= 0 {
			return fmt.Errorf("scale %d: sizes must be positive, got %g/%g", i, s.MinSize, s.MaxSize)
		}
		for _, r := range s.AspectRatios {
			if r <= 0 {
				return fmt.Errorf("scale %d: aspect ratio must be positive, got %g", i, r)
			}
		}
	}
	return nil
}

// Equal reports whether two layouts produce the same anchors in the same order.
func (l Layout) Equal(o Layout) bool {
	return l.ImageSize == o.ImageSize && slices.EqualFunc(l.Scales, o.Scales, func(a, b Scale) bool {
		return a.FeatureSize == b.FeatureSize && a.Step == b.Step &&
			a.MinSize == b.MinSize && a.MaxSize == b.MaxSize &&
			slices.Equal(a.AspectRatios, b.AspectRatios)
	})
}

// Clone returns a deep copy of the layout.
func (l Layout) Clone() Layout {
	out := Layout{ImageSize: l.ImageSize, Scales: make([]Scale, len(l.Scales))}
	for i, s := range l.Scales {
		s.AspectRatios = slices.Clone(s.AspectRatios)
		out.Scales[i] = s
	}
	return out
}
