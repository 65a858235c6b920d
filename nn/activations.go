package nn

import "math"

// ActivationType selects the element-wise function applied after a layer.
type ActivationType int

const (
	ActivationLinear    ActivationType = 0 // v
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationReLU6     ActivationType = 2 // min(max(0, v), 6)
	ActivationHardswish ActivationType = 3 // v * relu6(v + 3) / 6
)

// String returns the activation name.
func (a ActivationType) String() string {
	switch a {
	case ActivationLinear:
		return "linear"
	case ActivationReLU:
		return "relu"
	case ActivationReLU6:
		return "relu6"
	case ActivationHardswish:
		return "hardswish"
	default:
		return "unknown"
	}
}

// Activate applies the activation function.
func Activate(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationReLU6:
		return float32(math.Min(math.Max(float64(v), 0), 6))
	case ActivationHardswish:
		switch {
		case v <= -3:
			return 0
		case v >= 3:
			return v
		default:
			return v * (v + 3) / 6
		}
	default:
		return v
	}
}

// ActivateDerivative computes the derivative with respect to the PRE-activation value.
func ActivateDerivative(preActivation float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if preActivation > 0 {
			return 1
		}
		return 0
	case ActivationReLU6:
		if preActivation > 0 && preActivation < 6 {
			return 1
		}
		return 0
	case ActivationHardswish:
		switch {
		case preActivation <= -3:
			return 0
		case preActivation >= 3:
			return 1
		default:
			return (2*preActivation + 3) / 6
		}
	default:
		return 1
	}
}
