package nn

import "fmt"

// FeatureMap is a batch of multi-channel planes stored as [batch][channels][height][width].
type FeatureMap struct {
	Batch    int
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// NewFeatureMap allocates a zeroed feature map.
func NewFeatureMap(batch, channels, height, width int) FeatureMap {
	return FeatureMap{
		Batch:    batch,
		Channels: channels,
		Height:   height,
		Width:    width,
		Data:     make([]float32, batch*channels*height*width),
	}
}

// Len returns batch*channels*height*width.
func (f FeatureMap) Len() int {
	return f.Batch * f.Channels * f.Height * f.Width
}

// PlaneSize returns height*width.
func (f FeatureMap) PlaneSize() int {
	return f.Height * f.Width
}

// Sample returns the slice holding sample n.
func (f FeatureMap) Sample(n int) []float32 {
	size := f.Channels * f.Height * f.Width
	return f.Data[n*size : (n+1)*size]
}

// Validate checks that the declared shape is positive and matches the data length.
func (f FeatureMap) Validate() error {
	if f.Batch <= 0 || f.Channels <= 0 || f.Height <= 0 || f.Width <= 0 {
		return fmt.Errorf("feature map has non-positive shape %s", f.ShapeString())
	}
	if len(f.Data) != f.Len() {
		return fmt.Errorf("feature map %s expects %d values, got %d", f.ShapeString(), f.Len(), len(f.Data))
	}
	return nil
}

// ShapeString formats the shape as (N,C,H,W).
func (f FeatureMap) ShapeString() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", f.Batch, f.Channels, f.Height, f.Width)
}
