// Package imageio loads images into normalized NCHW batches for the detector.
package imageio

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/openfluke/ssd/nn"
)

// Per-channel RGB statistics the backbones were trained with.
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)

// Load opens an image file, applying its EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	return img, nil
}

// ToTensor resizes every image to size x size and writes the normalized RGB
// values into one (len(imgs), 3, size, size) feature map.
func ToTensor(imgs []image.Image, size int) (nn.FeatureMap, error) {
	if len(imgs) == 0 {
		return nn.FeatureMap{}, fmt.Errorf("no images to convert")
	}
	if size <= 0 {
		return nn.FeatureMap{}, fmt.Errorf("image size must be positive, got %d", size)
	}

	out := nn.NewFeatureMap(len(imgs), 3, size, size)
	plane := size * size
	for n, img := range imgs {
		resized := imaging.Resize(img, size, size, imaging.Linear)
		dst := out.Sample(n)
		for y := 0; y < size; y++ {
			row := resized.Pix[y*resized.Stride : y*resized.Stride+size*4]
			for x := 0; x < size; x++ {
				for c := 0; c < 3; c++ {
					v := float32(row[x*4+c]) / 255
					dst[c*plane+y*size+x] = (v - Mean[c]) / Std[c]
				}
			}
		}
	}
	return out, nil
}

// LoadBatch loads paths into a normalized batch and returns the original image
// sizes, which annotations in pixels are normalized against.
func LoadBatch(paths []string, size int) (nn.FeatureMap, []image.Point, error) {
	imgs := make([]image.Image, len(paths))
	sizes := make([]image.Point, len(paths))
	for i, p := range paths {
		img, err := Load(p)
		if err != nil {
			return nn.FeatureMap{}, nil, err
		}
		imgs[i] = img
		sizes[i] = img.Bounds().Size()
	}
	batch, err := ToTensor(imgs, size)
	if err != nil {
		return nn.FeatureMap{}, nil, err
	}
	return batch, sizes, nil
}
