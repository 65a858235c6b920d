package nn

import (
	"math"
	"math/rand"
	"testing"
)

func TestXavierUniformBounds(t *testing.T) {
	params := []Param{
		{Name: "w", Shape: []int{16, 8, 3, 3}, Data: make([]float32, 16*8*9)},
		{Name: "b", Shape: []int{16}, Data: make([]float32, 16)},
	}
	params[1].Data[0] = 0.25
	InitParams(params, rand.New(rand.NewSource(3)))

	bound := math.Sqrt(6.0 / float64(8*9+16*9))
	nonZero := 0
	for _, v := range params[0].Data {
		if math.Abs(float64(v)) > bound {
			t.Fatalf("value %f outside xavier bound %f", v, bound)
		}
		if v != 0 {
			nonZero++
		}
	}
	if nonZero == 0 {
		t.Error("weights were not initialized")
	}
	if params[1].Data[0] != 0.25 || params[1].Data[1] != 0 {
		t.Error("rank-1 parameter should keep its default")
	}
}

func TestFans(t *testing.T) {
	in, out := Fans([]int{24, 256, 3, 3})
	if in != 256*9 || out != 24*9 {
		t.Errorf("Expected fans (2304, 216), got (%d, %d)", in, out)
	}
	if in, out := Fans([]int{5}); in != 0 || out != 0 {
		t.Errorf("rank-1 fans should be zero, got (%d, %d)", in, out)
	}
}

func TestGroupParams(t *testing.T) {
	conv := NewConv2D(2, 4, 3, 1, 1, true, ActivationLinear, rand.New(rand.NewSource(1)))
	bn := NewBatchNorm2D(4)
	params := append(conv.Params("loc.0"), bn.Params("bn.0")...)
	groups := GroupParams(params)
	if len(groups.Decay) != 1 || groups.Decay[0].Name != "loc.0.weight" {
		t.Errorf("Expected only loc.0.weight to decay, got %v", groups.Decay)
	}
	if len(groups.NoDecay) != 3 {
		t.Errorf("Expected 3 no-decay params, got %d", len(groups.NoDecay))
	}
}

func TestActivations(t *testing.T) {
	cases := []struct {
		act  ActivationType
		in   float32
		want float32
	}{
		{ActivationReLU, -1, 0},
		{ActivationReLU, 2, 2},
		{ActivationReLU6, 9, 6},
		{ActivationReLU6, 3, 3},
		{ActivationHardswish, -4, 0},
		{ActivationHardswish, 4, 4},
		{ActivationHardswish, 0, 0},
		{ActivationHardswish, 1, 4.0 / 6.0},
		{ActivationLinear, -2, -2},
	}
	for _, c := range cases {
		if got := Activate(c.in, c.act); math.Abs(float64(got-c.want)) > 1e-6 {
			t.Errorf("%s(%f): expected %f, got %f", c.act, c.in, c.want, got)
		}
	}
}

func TestBatchNormIdentity(t *testing.T) {
	bn := NewBatchNorm2D(2)
	in := FeatureMap{Batch: 1, Channels: 2, Height: 1, Width: 2, Data: []float32{-1, 2, 3, -4}}
	out, err := bn.Forward(in, ActivationReLU)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 2, 3, 0}
	if !AllClose(out.Data, want, 1e-4) {
		t.Errorf("Expected %v, got %v", want, out.Data)
	}
}

func TestHasNaN(t *testing.T) {
	if HasNaN([]float32{0, -1, 3.5}) {
		t.Error("Expected finite values to pass")
	}
	if !HasNaN([]float32{0, float32(math.NaN())}) {
		t.Error("Expected NaN to be reported")
	}
	if !HasNaN([]float32{float32(math.Inf(-1))}) {
		t.Error("Expected -Inf to be reported")
	}
}
