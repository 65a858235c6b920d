package imageio

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestToTensorSolidColor(t *testing.T) {
	img := imaging.New(40, 20, color.NRGBA{R: 255, G: 0, B: 128, A: 255})
	fm, err := ToTensor([]image.Image{img, img}, 30)
	if err != nil {
		t.Fatalf("ToTensor failed: %v", err)
	}
	if fm.Batch != 2 || fm.Channels != 3 || fm.Height != 30 || fm.Width != 30 {
		t.Fatalf("unexpected shape %s", fm.ShapeString())
	}
	want := []float64{
		(1 - 0.485) / 0.229,
		(0 - 0.456) / 0.224,
		(128.0/255 - 0.406) / 0.225,
	}
	for c, w := range want {
		got := float64(fm.Sample(1)[c*900+450])
		if math.Abs(got-w) > 1e-4 {
			t.Errorf("channel %d: expected %v, got %v", c, w, got)
		}
	}
}

func TestLoadBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := imaging.Save(imaging.New(64, 48, color.NRGBA{G: 255, A: 255}), path); err != nil {
		t.Fatal(err)
	}
	fm, sizes, err := LoadBatch([]string{path}, 16)
	if err != nil {
		t.Fatalf("LoadBatch failed: %v", err)
	}
	if sizes[0] != image.Pt(64, 48) {
		t.Errorf("Expected original size 64x48, got %v", sizes[0])
	}
	if err := fm.Validate(); err != nil {
		t.Error(err)
	}

	if _, _, err := LoadBatch([]string{filepath.Join(dir, "missing.png")}, 16); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := ToTensor(nil, 16); err == nil {
		t.Error("Expected error for empty batch")
	}
}
