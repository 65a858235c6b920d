// Package gpu runs the detection head's convolutions on a WebGPU device.
package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	limits   Limits
	once     sync.Once
	initErr  error
}

var (
	ctx    Context
	logger = zap.NewNop()
)

// SetLogger sets the logger used while selecting an adapter.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.initErr = ctx.init()
	})

	if ctx.initErr != nil {
		return nil, ctx.initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	// Prefer a discrete NVIDIA adapter when one is enumerated
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		logger.Debug("found adapter",
			zap.String("name", info.Name),
			zap.String("vendor", info.VendorName),
			zap.Any("device_id", info.DeviceId))
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			logger.Debug("adapter request failed", zap.Error(err))
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("all adapter attempts failed: %v", err)
	}

	c.limits = limitsOf(c.Adapter.GetLimits())
	logger.Info("using GPU adapter", zap.Any("adapter", c.Describe()))

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return err
	}
	c.Queue = c.Device.GetQueue()
	return nil
}

// Available reports whether a WebGPU device could be initialized.
func Available() bool {
	_, err := GetContext()
	return err == nil
}
