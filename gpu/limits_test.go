package gpu

import "testing"

func TestWorkgroupSize(t *testing.T) {
	cases := []struct {
		limits Limits
		want   uint32
	}{
		{Limits{MaxWorkgroupSizeX: 1024, MaxInvocationsPerWorkgroup: 1024}, 256},
		{Limits{MaxWorkgroupSizeX: 256, MaxInvocationsPerWorkgroup: 128}, 128},
		{Limits{MaxWorkgroupSizeX: 50, MaxInvocationsPerWorkgroup: 256}, 32},
		{Limits{}, 1},
	}
	for _, c := range cases {
		if got := c.limits.WorkgroupSize(); got != c.want {
			t.Errorf("%+v: expected %d, got %d", c.limits, c.want, got)
		}
	}
}

func TestCheckConv(t *testing.T) {
	limits := Limits{
		MaxInvocationsPerWorkgroup:  256,
		MaxWorkgroupSizeX:           256,
		MaxWorkgroupsPerDimension:   65535,
		MaxStorageBufferBindingSize: 128 << 20,
		MaxBufferSize:               256 << 20,
	}
	spec := Conv2DSpec{Batch: 2, InChannels: 1024, OutChannels: 16, KernelSize: 3, Stride: 1, Padding: 1, InputHeight: 38, InputWidth: 38}
	if err := limits.CheckConv(spec, 38, 38); err != nil {
		t.Errorf("Expected head-sized conv to fit, got %v", err)
	}

	spec.Batch = 64
	if err := limits.CheckConv(spec, 38, 38); err == nil {
		t.Error("Expected input buffer limit error")
	}

	small := limits
	small.MaxWorkgroupsPerDimension = 10
	spec.Batch = 1
	if err := small.CheckConv(spec, 38, 38); err == nil {
		t.Error("Expected dispatch limit error")
	}
}
