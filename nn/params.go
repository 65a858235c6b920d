package nn

import "strings"

// Param is a named view over a parameter and its gradient buffer.
type Param struct {
	Name  string
	Shape []int
	Data  []float32
	Grad  []float32
}

// Rank returns the number of dimensions of the parameter.
func (p Param) Rank() int {
	return len(p.Shape)
}

// Size returns the number of elements described by Shape.
func (p Param) Size() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// ParamGroups splits parameters by whether weight decay applies to them.
type ParamGroups struct {
	Decay   []Param
	NoDecay []Param
}

// GroupParams puts biases and rank-1 parameters (normalization scales and shifts)
// in the NoDecay group and everything else in Decay.
func GroupParams(params []Param) ParamGroups {
	var groups ParamGroups
	for _, p := range params {
		if p.Rank() == 1 || strings.HasSuffix(p.Name, ".bias") {
			groups.NoDecay = append(groups.NoDecay, p)
		} else {
			groups.Decay = append(groups.Decay, p)
		}
	}
	return groups
}

// ZeroGrads clears the gradient buffers of params.
func ZeroGrads(params []Param) {
	for _, p := range params {
		clear(p.Grad)
	}
}
