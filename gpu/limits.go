package gpu

import (
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
)

// Limits are the device limits the convolution kernel depends on.
type Limits struct {
	MaxInvocationsPerWorkgroup  uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxWorkgroupSizeX           uint32 `json:"max_compute_workgroup_size_x"`
	MaxWorkgroupsPerDimension   uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxStorageBufferBindingSize uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize               uint64 `json:"max_buffer_size"`
}

// AdapterInfo is a portable summary of the selected adapter.
type AdapterInfo struct {
	Name        string `json:"name"`
	Vendor      string `json:"vendor"`
	Backend     string `json:"backend"`
	AdapterType string `json:"adapter_type"`
	Driver      string `json:"driver"`
	Limits      Limits `json:"limits"`
}

func limitsOf(l wgpu.SupportedLimits) Limits {
	return Limits{
		MaxInvocationsPerWorkgroup:  l.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxWorkgroupSizeX:           l.Limits.MaxComputeWorkgroupSizeX,
		MaxWorkgroupsPerDimension:   l.Limits.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBindingSize: l.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:               l.Limits.MaxBufferSize,
	}
}

// Describe reports the adapter in use and its limits.
func (c *Context) Describe() AdapterInfo {
	info := c.Adapter.GetInfo()
	return AdapterInfo{
		Name:        strings.TrimSpace(info.Name),
		Vendor:      strings.TrimSpace(info.VendorName),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      c.limits,
	}
}

// WorkgroupSize picks the largest 1D workgroup the device runs.
func (l Limits) WorkgroupSize() uint32 {
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= l.MaxWorkgroupSizeX && c <= l.MaxInvocationsPerWorkgroup {
			return c
		}
	}
	return 1
}

// CheckConv returns an error when a convolution of spec would exceed a
// buffer or dispatch limit.
func (l Limits) CheckConv(spec Conv2DSpec, outH, outW int) error {
	bufs := map[string]uint64{
		"input":  uint64(spec.Batch*spec.InChannels*spec.InputHeight*spec.InputWidth) * 4,
		"output": uint64(spec.Batch*spec.OutChannels*outH*outW) * 4,
		"weight": uint64(spec.OutChannels*spec.InChannels*spec.KernelSize*spec.KernelSize) * 4,
	}
	for name, size := range bufs {
		if size > l.MaxStorageBufferBindingSize || size > l.MaxBufferSize {
			return fmt.Errorf("conv2d %s buffer of %d bytes exceeds device limit %d",
				name, size, min(l.MaxStorageBufferBindingSize, l.MaxBufferSize))
		}
	}
	groups := (uint64(spec.Batch*spec.OutChannels*outH*outW) + uint64(l.WorkgroupSize()) - 1) / uint64(l.WorkgroupSize())
	if groups > uint64(l.MaxWorkgroupsPerDimension) {
		return fmt.Errorf("conv2d needs %d workgroups, device allows %d per dimension", groups, l.MaxWorkgroupsPerDimension)
	}
	return nil
}
