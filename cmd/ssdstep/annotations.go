package main

import (
	"encoding/json"
	"fmt"
	"image"
	"os"

	"github.com/openfluke/ssd/anchor"
)

// Annotation is the ground truth of one image, boxes in pixels as
// [left, top, right, bottom].
type Annotation struct {
	Image  string       `json:"image"`
	Boxes  [][4]float32 `json:"boxes"`
	Labels []int32      `json:"labels"`
}

func loadAnnotations(path string) ([]Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	var anns []Annotation
	if err := json.Unmarshal(data, &anns); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", path, err)
	}
	for i, a := range anns {
		if len(a.Boxes) != len(a.Labels) {
			return nil, fmt.Errorf("annotation %d (%s): %d boxes and %d labels", i, a.Image, len(a.Boxes), len(a.Labels))
		}
	}
	return anns, nil
}

// normalize converts pixel boxes to [0,1] coordinates of an image of size,
// clamping to the image and dropping boxes that end up empty.
func (a Annotation) normalize(size image.Point) ([]anchor.Box, []int32) {
	w, h := float32(size.X), float32(size.Y)
	var boxes []anchor.Box
	var labels []int32
	for i, b := range a.Boxes {
		box := anchor.Box{
			Left:   clamp01(b[0] / w),
			Top:    clamp01(b[1] / h),
			Right:  clamp01(b[2] / w),
			Bottom: clamp01(b[3] / h),
		}
		if box.Area() == 0 {
			continue
		}
		boxes = append(boxes, box)
		labels = append(labels, a.Labels[i])
	}
	return boxes, labels
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
