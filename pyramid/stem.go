package pyramid

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/ssd/nn"
)

// PoolingStem is a stand-in base network: every tap adaptively average-pools
// the image to the tap's size and projects it with a 1x1 conv + ReLU.
// It lets the pyramid run end to end without a pretrained backbone.
type PoolingStem struct {
	sizes []int
	proj  []*nn.Conv2D
}

// NewPoolingStem returns a stem producing one tap per entry of sizes/channels.
func NewPoolingStem(imageChannels int, sizes, channels []int, rng *rand.Rand) (*PoolingStem, error) {
	if len(sizes) != len(channels) || len(sizes) == 0 {
		return nil, fmt.Errorf("stem needs matching sizes and channels, got %d and %d", len(sizes), len(channels))
	}
	s := &PoolingStem{sizes: sizes}
	for _, c := range channels {
		s.proj = append(s.proj, nn.NewConv2D(imageChannels, c, 1, 1, 0, true, nn.ActivationReLU, rng))
	}
	return s, nil
}

// StemFor builds a PoolingStem that supplies the base taps spec expects
// at the feature sizes of the backbone's anchor layout.
func StemFor(spec Spec, imageChannels int, rng *rand.Rand) (*PoolingStem, error) {
	taps := spec.Backbone.Family().Taps()
	sizes := spec.Backbone.Layout().FeatureSizes()
	if len(spec.Channels) < taps {
		return nil, fmt.Errorf("%s spec has %d channels, needs %d taps", spec.Backbone, len(spec.Channels), taps)
	}
	return NewPoolingStem(imageChannels, sizes[:taps], spec.Channels[:taps], rng)
}

// Extract implements Extractor.
func (s *PoolingStem) Extract(images nn.FeatureMap) ([]nn.FeatureMap, error) {
	if err := images.Validate(); err != nil {
		return nil, err
	}
	taps := make([]nn.FeatureMap, len(s.sizes))
	for i, size := range s.sizes {
		if size > images.Height || size > images.Width {
			return nil, fmt.Errorf("tap %d size %d exceeds image %dx%d", i, size, images.Height, images.Width)
		}
		_, out, err := s.proj[i].Forward(AdaptiveAvgPool(images, size, size))
		if err != nil {
			return nil, err
		}
		taps[i] = out
	}
	return taps, nil
}

// AdaptiveAvgPool averages input down to outH x outW, each output cell covering
// rows [floor(i*H/outH), ceil((i+1)*H/outH)).
func AdaptiveAvgPool(input nn.FeatureMap, outH, outW int) nn.FeatureMap {
	out := nn.NewFeatureMap(input.Batch, input.Channels, outH, outW)
	inH, inW := input.Height, input.Width
	for p := 0; p < input.Batch*input.Channels; p++ {
		src := input.Data[p*inH*inW : (p+1)*inH*inW]
		dst := out.Data[p*outH*outW : (p+1)*outH*outW]
		for oh := 0; oh < outH; oh++ {
			h0 := oh * inH / outH
			h1 := ((oh+1)*inH + outH - 1) / outH
			for ow := 0; ow < outW; ow++ {
				w0 := ow * inW / outW
				w1 := ((ow+1)*inW + outW - 1) / outW
				var sum float32
				for h := h0; h < h1; h++ {
					for w := w0; w < w1; w++ {
						sum += src[h*inW+w]
					}
				}
				dst[oh*outW+ow] = sum / float32((h1-h0)*(w1-w0))
			}
		}
	}
	return out
}
