package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// Conv2DSpec defines a batched 2D convolution over NCHW data
type Conv2DSpec struct {
	Batch       int       // Samples per dispatch
	InChannels  int       // Input channels
	OutChannels int       // Output channels (filters)
	KernelSize  int       // Kernel size (squared)
	Stride      int       // Stride (default 1)
	Padding     int       // Padding (default 0)
	InputHeight int       // Input height
	InputWidth  int       // Input width
	Weights     []float32 // [OutChannels * InChannels * KernelSize * KernelSize]
	Bias        []float32 // [OutChannels], zero when empty
}

// Conv2DLayer holds GPU resources for one convolution
type Conv2DLayer struct {
	Spec Conv2DSpec

	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup

	InputBuffer  *wgpu.Buffer
	OutputBuffer *wgpu.Buffer
	WeightBuffer *wgpu.Buffer
	BiasBuffer   *wgpu.Buffer

	outputH, outputW int
	workgroup        uint32
}

// NewConv2DLayer allocates buffers, compiles the kernel and uploads weights.
func NewConv2DLayer(spec Conv2DSpec, label string) (*Conv2DLayer, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	l := &Conv2DLayer{Spec: spec}
	if err := l.AllocateBuffers(c, label); err != nil {
		l.Cleanup()
		return nil, err
	}
	if err := l.Compile(c, label); err != nil {
		l.Cleanup()
		return nil, err
	}
	if err := l.CreateBindGroup(c, label); err != nil {
		l.Cleanup()
		return nil, err
	}
	return l, nil
}

// OutputSize returns the spatial output size.
func (l *Conv2DLayer) OutputSize() (int, int) {
	stride := max(l.Spec.Stride, 1)
	h := (l.Spec.InputHeight+2*l.Spec.Padding-l.Spec.KernelSize)/stride + 1
	w := (l.Spec.InputWidth+2*l.Spec.Padding-l.Spec.KernelSize)/stride + 1
	return h, w
}

func (l *Conv2DLayer) inputLen() int {
	return l.Spec.Batch * l.Spec.InChannels * l.Spec.InputHeight * l.Spec.InputWidth
}

func (l *Conv2DLayer) outputLen() int {
	return l.Spec.Batch * l.Spec.OutChannels * l.outputH * l.outputW
}

func (l *Conv2DLayer) AllocateBuffers(ctx *Context, labelPrefix string) error {
	var err error

	l.outputH, l.outputW = l.OutputSize()
	if l.outputH <= 0 || l.outputW <= 0 {
		return fmt.Errorf("conv2d %s: input %dx%d too small for kernel %d", labelPrefix,
			l.Spec.InputHeight, l.Spec.InputWidth, l.Spec.KernelSize)
	}
	if err := ctx.limits.CheckConv(l.Spec, l.outputH, l.outputW); err != nil {
		return fmt.Errorf("conv2d %s: %w", labelPrefix, err)
	}
	l.workgroup = ctx.limits.WorkgroupSize()

	if l.InputBuffer, err = ctx.storage(labelPrefix+"_In", l.inputLen(), wgpu.BufferUsageCopyDst); err != nil {
		return err
	}
	if l.OutputBuffer, err = ctx.storage(labelPrefix+"_Out", l.outputLen(), wgpu.BufferUsageCopySrc); err != nil {
		return err
	}

	weightSize := l.Spec.OutChannels * l.Spec.InChannels * l.Spec.KernelSize * l.Spec.KernelSize
	weights := l.Spec.Weights
	if len(weights) != weightSize {
		weights = make([]float32, weightSize)
	}
	l.WeightBuffer, err = ctx.upload(labelPrefix+"_W", weights, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return err
	}

	bias := l.Spec.Bias
	if len(bias) == 0 {
		bias = make([]float32, l.Spec.OutChannels)
	}
	l.BiasBuffer, err = ctx.upload(labelPrefix+"_B", bias, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	return err
}

// GenerateShader emits one invocation per output element.
func (l *Conv2DLayer) GenerateShader() string {
	stride := max(l.Spec.Stride, 1)

	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read> bias : array<f32>;
		@group(0) @binding(3) var<storage, read_write> output : array<f32>;

		const BATCH: u32 = %du;
		const IN_H: u32 = %du;
		const IN_W: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_CH: u32 = %du;
		const K: u32 = %du;
		const STRIDE: u32 = %du;
		const PADDING: u32 = %du;
		const OUT_H: u32 = %du;
		const OUT_W: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let total = BATCH * OUT_CH * OUT_H * OUT_W;
			if (idx >= total) { return; }

			// Output layout: [N, C, H, W]
			let out_w = idx %% OUT_W;
			let out_h = (idx / OUT_W) %% OUT_H;
			let out_c = (idx / (OUT_W * OUT_H)) %% OUT_CH;
			let n = idx / (OUT_W * OUT_H * OUT_CH);

			var sum: f32 = bias[out_c];

			for (var in_c: u32 = 0u; in_c < IN_CH; in_c++) {
				let plane = (n * IN_CH + in_c) * IN_H * IN_W;
				for (var kh: u32 = 0u; kh < K; kh++) {
					let in_h_signed = i32(out_h * STRIDE + kh) - i32(PADDING);
					if (in_h_signed < 0 || u32(in_h_signed) >= IN_H) { continue; }
					for (var kw: u32 = 0u; kw < K; kw++) {
						let in_w_signed = i32(out_w * STRIDE + kw) - i32(PADDING);
						if (in_w_signed < 0 || u32(in_w_signed) >= IN_W) { continue; }
						let i_idx = plane + u32(in_h_signed) * IN_W + u32(in_w_signed);
						// Weights: [OUT_CH, IN_CH, K, K]
						let w_idx = out_c * IN_CH * K * K + in_c * K * K + kh * K + kw;
						sum += input[i_idx] * weights[w_idx];
					}
				}
			}

			output[idx] = sum;
		}
	`, l.Spec.Batch, l.Spec.InputHeight, l.Spec.InputWidth, l.Spec.InChannels, l.Spec.OutChannels,
		l.Spec.KernelSize, stride, l.Spec.Padding, l.outputH, l.outputW, l.workgroupSize())
}

func (l *Conv2DLayer) workgroupSize() uint32 {
	if l.workgroup == 0 {
		return 256
	}
	return l.workgroup
}

func (l *Conv2DLayer) Compile(ctx *Context, labelPrefix string) error {
	mod, err := ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          labelPrefix + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: l.GenerateShader()},
	})
	if err != nil {
		return err
	}
	l.pipeline, err = ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   labelPrefix + "_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	return err
}

func (l *Conv2DLayer) CreateBindGroup(ctx *Context, labelPrefix string) error {
	var err error
	l.bindGroup, err = ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  labelPrefix + "_Bind",
		Layout: l.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: l.InputBuffer, Size: l.InputBuffer.GetSize()},
			{Binding: 1, Buffer: l.WeightBuffer, Size: l.WeightBuffer.GetSize()},
			{Binding: 2, Buffer: l.BiasBuffer, Size: l.BiasBuffer.GetSize()},
			{Binding: 3, Buffer: l.OutputBuffer, Size: l.OutputBuffer.GetSize()},
		},
	})
	return err
}

// UploadWeights pushes the current host weights and bias to the device.
func (l *Conv2DLayer) UploadWeights(weights, bias []float32) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	if len(weights) > 0 {
		c.Queue.WriteBuffer(l.WeightBuffer, 0, wgpu.ToBytes(weights))
	}
	if len(bias) > 0 {
		c.Queue.WriteBuffer(l.BiasBuffer, 0, wgpu.ToBytes(bias))
	}
	return nil
}

// Forward runs the convolution on input laid out as [N, C, H, W] and returns
// the [N, OUT_CH, OUT_H, OUT_W] result.
func (l *Conv2DLayer) Forward(input []float32) ([]float32, error) {
	if len(input) != l.inputLen() {
		return nil, fmt.Errorf("conv2d expects %d input values, got %d", l.inputLen(), len(input))
	}
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	c.Queue.WriteBuffer(l.InputBuffer, 0, wgpu.ToBytes(input))

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(l.pipeline)
	pass.SetBindGroup(0, l.bindGroup, nil)
	wg := int(l.workgroupSize())
	pass.DispatchWorkgroups(uint32((l.outputLen()+wg-1)/wg), 1, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)

	return c.download(l.OutputBuffer, l.outputLen())
}

func (l *Conv2DLayer) Cleanup() {
	bufs := []*wgpu.Buffer{l.InputBuffer, l.OutputBuffer, l.WeightBuffer, l.BiasBuffer}
	for _, b := range bufs {
		if b != nil {
			b.Destroy()
		}
	}
	if l.pipeline != nil {
		l.pipeline.Release()
	}
	if l.bindGroup != nil {
		l.bindGroup.Release()
	}
}
