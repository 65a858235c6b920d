package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// readTimeout bounds how long download polls for a mapped staging buffer.
const readTimeout = 10 * time.Second

// upload creates a device buffer holding data.
func (c *Context) upload(label string, data []float32, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(data),
		Usage:    usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %s: %v", label, err)
	}
	return buf, nil
}

// storage allocates an uninitialized storage buffer of n float32 values.
func (c *Context) storage(label string, n int, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(n * 4),
		Usage: wgpu.BufferUsageStorage | usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %s: %v", label, err)
	}
	return buf, nil
}

// download copies the first n float32 values of buffer to the host through a
// mappable staging buffer.
func (c *Context) download(buffer *wgpu.Buffer, n int) ([]float32, error) {
	sizeBytes := uint64(n * 4)
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %v", err)
	}
	defer staging.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	encoder.CopyBufferToBuffer(buffer, 0, staging, 0, sizeBytes)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan error, 1)
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			done <- fmt.Errorf("map failed: %v", status)
			return
		}
		done <- nil
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %v", err)
	}

	deadline := time.Now().Add(readTimeout)
	for {
		c.Device.Poll(false, nil)
		select {
		case err := <-done:
			if err != nil {
				return nil, err
			}
			data := staging.GetMappedRange(0, uint(sizeBytes))
			if data == nil {
				return nil, fmt.Errorf("failed to get mapped range")
			}
			out := make([]float32, n)
			copy(out, wgpu.FromBytes[float32](data))
			staging.Unmap()
			return out, nil
		default:
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("buffer read timed out after %s", readTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}
