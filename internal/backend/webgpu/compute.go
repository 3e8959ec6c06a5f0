//go:build windows

package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/duet/internal/device"
)

const maxWorkgroups = 65535

// compileShader compiles WGSL shader code into a ShaderModule.
// Results are cached by name.
func (a *Accelerator) compileShader(name, code string) *wgpu.ShaderModule {
	a.mu.RLock()
	if shader, ok := a.shaders[name]; ok {
		a.mu.RUnlock()
		return shader
	}
	a.mu.RUnlock()

	shader := a.device.CreateShaderModuleWGSL(code)

	a.mu.Lock()
	a.shaders[name] = shader
	a.mu.Unlock()
	return shader
}

// pipeline returns a cached ComputePipeline or creates a new one.
func (a *Accelerator) pipeline(name, code string) *wgpu.ComputePipeline {
	a.mu.RLock()
	if p, ok := a.pipelines[name]; ok {
		a.mu.RUnlock()
		return p
	}
	a.mu.RUnlock()

	shader := a.compileShader(name, code)
	// Auto layout (nil layout).
	p := a.device.CreateComputePipelineSimple(nil, shader, "main")

	a.mu.Lock()
	a.pipelines[name] = p
	a.mu.Unlock()
	return p
}

// createBuffer creates a GPU buffer holding data.
func (a *Accelerator) createBuffer(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := uint64(len(data))
	buffer := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	copy(unsafe.Slice((*byte)(mappedPtr), size), data)
	buffer.Unmap()
	return buffer
}

// createUniformBuffer creates a uniform buffer padded to 16 bytes.
func (a *Accelerator) createUniformBuffer(data []byte) *wgpu.Buffer {
	aligned := (len(data) + 15) &^ 15
	padded := make([]byte, aligned)
	copy(padded, data)
	return a.createBuffer(padded, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
}

// readBuffer reads size bytes back from a storage buffer through a staging
// buffer, since storage buffers can't be mapped directly.
func (a *Accelerator) readBuffer(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := a.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := a.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	a.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(a.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("webgpu: map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	out := append([]byte(nil), unsafe.Slice((*byte)(mappedPtr), size)...)
	staging.Unmap()
	return out, nil
}

// dispatch runs shader name over n invocations. Storage buffers bind to
// 0..len(bufs)-1 and the uniform parameters to len(bufs).
func (a *Accelerator) dispatch(name, code string, n int, p params, bufs ...*memory) error {
	if n == 0 {
		return nil
	}
	groups := (n + workgroupSize - 1) / workgroupSize
	if groups > maxWorkgroups {
		return fmt.Errorf("webgpu: %s over %d elements exceeds one dispatch: %w", name, n, device.ErrBadArgument)
	}
	pipeline := a.pipeline(name, code)

	uniform := a.createUniformBuffer(p)
	defer uniform.Release()

	entries := make([]wgpu.BindGroupEntry, 0, len(bufs)+1)
	for i, m := range bufs {
		//nolint:gosec // G115: binding index is small
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), m.buf, 0, m.size))
	}
	//nolint:gosec // G115: binding index is small
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(bufs)), uniform, 0, uint64((len(p)+15)&^15)))

	bindGroup := a.device.CreateBindGroupSimple(pipeline.GetBindGroupLayout(0), entries)
	defer bindGroup.Release()

	encoder := a.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	//nolint:gosec // G115: bounded by maxWorkgroups
	pass.DispatchWorkgroups(uint32(groups), 1, 1)
	pass.End()
	a.queue.Submit(encoder.Finish(nil))
	return nil
}

// params packs scalar shader parameters in declaration order.
type params []byte

func (p params) u32(v int) params {
	//nolint:gosec // G115: shader parameters are small non-negative sizes
	return binary.LittleEndian.AppendUint32(p, uint32(v))
}

func (p params) f32(v float32) params {
	return binary.LittleEndian.AppendUint32(p, math.Float32bits(v))
}

func float32Bytes(src []float32) []byte {
	out := make([]byte, 0, len(src)*4)
	for _, v := range src {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func bytesFloat32(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
