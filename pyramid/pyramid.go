package pyramid

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"

	"github.com/openfluke/ssd/nn"
)

// ErrContract is returned when feature maps violate the pyramid contract.
var ErrContract = errors.New("feature pyramid contract violated")

// Extractor is the base network: images in, base taps out.
type Extractor interface {
	Extract(images nn.FeatureMap) ([]nn.FeatureMap, error)
}

// Pyramid turns an image batch into an ordered sequence of feature maps whose
// spatial sizes strictly decrease and whose channels follow Channels().
type Pyramid interface {
	Backbone() Backbone
	Channels() []int
	Features(images nn.FeatureMap) ([]nn.FeatureMap, error)
	Params() []nn.Param
}

// New builds the pyramid for spec.Backbone's family on top of ext.
func New(spec Spec, ext Extractor, rng *rand.Rand) (Pyramid, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, fmt.Errorf("%s pyramid needs an extractor", spec.Backbone)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}

	act := spec.Backbone.Activation()
	taps := spec.Backbone.Family().Taps()

	switch spec.Backbone.Family() {
	case FamilyMobileNet:
		p := &mobileNetPyramid{base: base{spec: spec, ext: ext}}
		for i, hidden := range spec.Hidden {
			in, out := spec.Channels[taps-1+i], spec.Channels[taps+i]
			p.blocks = append(p.blocks, newExtraBlock(in, hidden, out, 2, 1, act, rng))
		}
		return p, nil
	default:
		p := &resNetPyramid{base: base{spec: spec, ext: ext}}
		for i, hidden := range spec.Hidden {
			in, out := spec.Channels[i], spec.Channels[i+1]
			// The last two blocks shrink 5 -> 3 -> 1 without padding.
			stride, padding := 2, 1
			if i >= 3 {
				stride, padding = 1, 0
			}
			p.blocks = append(p.blocks, newExtraBlock(in, hidden, out, stride, padding, act, rng))
		}
		return p, nil
	}
}

type base struct {
	spec   Spec
	ext    Extractor
	blocks []*extraBlock
}

func (b *base) Backbone() Backbone { return b.spec.Backbone }

func (b *base) Channels() []int { return slices.Clone(b.spec.Channels) }

// Params returns the extra-block parameters.
func (b *base) Params() []nn.Param {
	var params []nn.Param
	for i, blk := range b.blocks {
		params = append(params, blk.params(fmt.Sprintf("additional_blocks.%d", i))...)
	}
	return params
}

func (b *base) run(images nn.FeatureMap) ([]nn.FeatureMap, error) {
	taps, err := b.ext.Extract(images)
	if err != nil {
		return nil, fmt.Errorf("%s extractor: %w", b.spec.Backbone, err)
	}
	want := b.spec.Backbone.Family().Taps()
	if len(taps) != want {
		return nil, fmt.Errorf("%w: %s extractor returned %d taps, want %d", ErrContract, b.spec.Backbone, len(taps), want)
	}

	if err := CheckContract(taps, b.spec.Channels[:want]); err != nil {
		return nil, err
	}

	maps := slices.Clone(taps)
	x := taps[len(taps)-1]
	for i, blk := range b.blocks {
		x, err = blk.forward(x)
		if err != nil {
			return nil, fmt.Errorf("%s extra block %d: %w", b.spec.Backbone, i, err)
		}
		maps = append(maps, x)
	}
	if err := CheckContract(maps, b.spec.Channels); err != nil {
		return nil, err
	}
	return maps, nil
}

type resNetPyramid struct{ base }

// Features runs the conv4 tap through five extra blocks (ReLU).
func (p *resNetPyramid) Features(images nn.FeatureMap) ([]nn.FeatureMap, error) {
	return p.run(images)
}

type mobileNetPyramid struct{ base }

// Features runs the last of the two base taps through four stride-2 extra blocks.
func (p *mobileNetPyramid) Features(images nn.FeatureMap) ([]nn.FeatureMap, error) {
	return p.run(images)
}

// CheckContract verifies that maps share a batch size, have strictly decreasing
// spatial sizes and carry the expected channel counts.
func CheckContract(maps []nn.FeatureMap, channels []int) error {
	if len(maps) != len(channels) {
		return fmt.Errorf("%w: %d feature maps for %d declared scales", ErrContract, len(maps), len(channels))
	}
	for i, m := range maps {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: scale %d: %v", ErrContract, i, err)
		}
		if m.Channels != channels[i] {
			return fmt.Errorf("%w: scale %d has %d channels, want %d", ErrContract, i, m.Channels, channels[i])
		}
		if m.Batch != maps[0].Batch {
			return fmt.Errorf("%w: scale %d has batch %d, scale 0 has %d", ErrContract, i, m.Batch, maps[0].Batch)
		}
		if i > 0 && (m.Height >= maps[i-1].Height || m.Width >= maps[i-1].Width) {
			return fmt.Errorf("%w: scale %d is %dx%d, not smaller than %dx%d",
				ErrContract, i, m.Height, m.Width, maps[i-1].Height, maps[i-1].Width)
		}
	}
	return nil
}
