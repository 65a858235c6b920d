// Package pyramid produces the ordered multi-resolution feature maps consumed
// by the detection head.
//
// The base network is an external collaborator behind Extractor. A Pyramid
// adds the backbone family's extra blocks on top of the base taps. The family
// is fixed once, when the Pyramid is built, from a parsed Backbone value.
package pyramid

import (
	"fmt"
	"slices"
	"strings"

	"github.com/openfluke/ssd/anchor"
	"github.com/openfluke/ssd/nn"
)

// Backbone names a supported base network.
type Backbone int

const (
	ResNet18 Backbone = iota
	ResNet34
	ResNet50
	ResNet101
	ResNet152
	MobileNetV2
	MobileNetV3
)

// Family groups backbones that share tap points and extra-block structure.
type Family int

const (
	FamilyResNet Family = iota
	FamilyMobileNet
)

var backboneNames = map[Backbone]string{
	ResNet18:    "resnet18",
	ResNet34:    "resnet34",
	ResNet50:    "resnet50",
	ResNet101:   "resnet101",
	ResNet152:   "resnet152",
	MobileNetV2: "mobilenetv2",
	MobileNetV3: "mobilenetv3",
}

// ParseBackbone resolves a backbone name such as "resnet50" or "mobilenetv2".
func ParseBackbone(name string) (Backbone, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for b, n := range backboneNames {
		if n == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown backbone %q", name)
}

// String returns the backbone name.
func (b Backbone) String() string {
	if n, ok := backboneNames[b]; ok {
		return n
	}
	return fmt.Sprintf("backbone(%d)", int(b))
}

// Family returns the backbone family.
func (b Backbone) Family() Family {
	if b == MobileNetV2 || b == MobileNetV3 {
		return FamilyMobileNet
	}
	return FamilyResNet
}

// Channels returns the per-scale output channel table of the backbone.
func (b Backbone) Channels() []int {
	switch b {
	case ResNet18:
		return []int{256, 512, 512, 256, 256, 128}
	case ResNet34:
		return []int{256, 512, 512, 256, 256, 256}
	case MobileNetV2:
		return []int{576, 1280, 512, 256, 256, 64}
	case MobileNetV3:
		return []int{672, 960, 512, 256, 256, 64}
	default:
		return []int{1024, 512, 512, 256, 256, 256}
	}
}

// Activation returns the activation used by the backbone's extra blocks.
func (b Backbone) Activation() nn.ActivationType {
	switch b {
	case MobileNetV2:
		return nn.ActivationReLU6
	case MobileNetV3:
		return nn.ActivationHardswish
	default:
		return nn.ActivationReLU
	}
}

// Layout returns the anchor layout matching the backbone's feature map sizes.
func (b Backbone) Layout() anchor.Layout {
	if b.Family() == FamilyMobileNet {
		return anchor.SSD300MobileNet()
	}
	return anchor.SSD300()
}

// Taps returns how many feature maps the base network supplies.
func (f Family) Taps() int {
	if f == FamilyMobileNet {
		return 2
	}
	return 1
}

// Spec configures a Pyramid.
type Spec struct {
	Backbone Backbone
	// Channels is the channel count of every output scale; the leading Taps()
	// entries are produced by the Extractor.
	Channels []int
	// Hidden is the bottleneck width of each extra block.
	Hidden []int
}

// DefaultSpec returns the reference configuration of b.
func DefaultSpec(b Backbone) Spec {
	spec := Spec{Backbone: b, Channels: b.Channels()}
	if b.Family() == FamilyMobileNet {
		spec.Hidden = []int{256, 128, 128, 64}
	} else {
		spec.Hidden = []int{256, 256, 128, 128, 128}
	}
	return spec
}

// Validate checks that the tables agree in length.
func (s Spec) Validate() error {
	taps := s.Backbone.Family().Taps()
	if len(s.Channels) <= taps {
		return fmt.Errorf("%s needs more than %d channel entries, got %d", s.Backbone, taps, len(s.Channels))
	}
	if len(s.Hidden) != len(s.Channels)-taps {
		return fmt.Errorf("%s has %d extra blocks but %d hidden widths", s.Backbone, len(s.Channels)-taps, len(s.Hidden))
	}
	if slices.ContainsFunc(s.Channels, func(c int) bool { return c <= 0 }) ||
		slices.ContainsFunc(s.Hidden, func(c int) bool { return c <= 0 }) {
		return fmt.Errorf("%s channel counts must be positive", s.Backbone)
	}
	return nil
}
