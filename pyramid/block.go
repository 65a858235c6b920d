package pyramid

import (
	"math/rand"

	"github.com/openfluke/ssd/nn"
)

// extraBlock is 1x1 conv -> BN -> act -> 3x3 conv -> BN -> act, both convs bias-free.
type extraBlock struct {
	reduce *nn.Conv2D
	bn1    *nn.BatchNorm2D
	expand *nn.Conv2D
	bn2    *nn.BatchNorm2D
	act    nn.ActivationType
}

func newExtraBlock(in, hidden, out, stride, padding int, act nn.ActivationType, rng *rand.Rand) *extraBlock {
	return &extraBlock{
		reduce: nn.NewConv2D(in, hidden, 1, 1, 0, false, nn.ActivationLinear, rng),
		bn1:    nn.NewBatchNorm2D(hidden),
		expand: nn.NewConv2D(hidden, out, 3, stride, padding, false, nn.ActivationLinear, rng),
		bn2:    nn.NewBatchNorm2D(out),
		act:    act,
	}
}

func (b *extraBlock) forward(x nn.FeatureMap) (nn.FeatureMap, error) {
	_, y, err := b.reduce.Forward(x)
	if err != nil {
		return nn.FeatureMap{}, err
	}
	if y, err = b.bn1.Forward(y, b.act); err != nil {
		return nn.FeatureMap{}, err
	}
	if _, y, err = b.expand.Forward(y); err != nil {
		return nn.FeatureMap{}, err
	}
	return b.bn2.Forward(y, b.act)
}

func (b *extraBlock) params(prefix string) []nn.Param {
	var params []nn.Param
	params = append(params, b.reduce.Params(prefix+".0")...)
	params = append(params, b.bn1.Params(prefix+".1")...)
	params = append(params, b.expand.Params(prefix+".3")...)
	params = append(params, b.bn2.Params(prefix+".4")...)
	return params
}
