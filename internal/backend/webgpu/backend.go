//go:build windows

package webgpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/born-ml/duet/internal/device"
)

// Accelerator is a WebGPU device.
type Accelerator struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	adapterInfo *wgpu.AdapterInfo

	mu        sync.RWMutex
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	pool      *bufferPool
}

// Open opens the default high-performance adapter.
func Open() (device.Accelerator, error) {
	a, err := New()
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New creates a WebGPU accelerator.
// Returns an error wrapping device.ErrUnavailable if WebGPU is not available.
func New() (acc *Accelerator, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			acc = nil
			err = fmt.Errorf("webgpu: native library not available: %v: %w", r, device.ErrUnavailable)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: request adapter: %v: %w", err, device.ErrUnavailable)
	}
	info := adapter.GetInfo()

	dev, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: request device: %v: %w", err, device.ErrUnavailable)
	}
	queue := dev.GetQueue()
	if queue == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: no queue: %w", device.ErrUnavailable)
	}

	return &Accelerator{
		instance:    instance,
		adapter:     adapter,
		device:      dev,
		queue:       queue,
		adapterInfo: &info,
		shaders:     make(map[string]*wgpu.ShaderModule),
		pipelines:   make(map[string]*wgpu.ComputePipeline),
		pool:        newBufferPool(dev),
	}, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns the adapter description.
func (a *Accelerator) Name() string {
	if a.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", a.adapterInfo.Name, a.adapterInfo.VendorName)
	}
	return "WebGPU"
}

// Release releases all WebGPU resources.
func (a *Accelerator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pool != nil {
		a.pool.clear()
		a.pool = nil
	}
	for _, p := range a.pipelines {
		p.Release()
	}
	a.pipelines = nil
	for _, s := range a.shaders {
		s.Release()
	}
	a.shaders = nil

	if a.queue != nil {
		a.queue.Release()
		a.queue = nil
	}
	if a.device != nil {
		a.device.Release()
		a.device = nil
	}
	if a.adapter != nil {
		a.adapter.Release()
		a.adapter = nil
	}
	if a.instance != nil {
		a.instance.Release()
		a.instance = nil
	}
}

// memory is a storage buffer of n float32 values. Buffers are never smaller
// than one element because WebGPU rejects empty bindings.
type memory struct {
	owner    *Accelerator
	buf      *wgpu.Buffer
	n        int
	size     uint64
	released atomic.Bool
}

func (m *memory) Len() int { return m.n }

func (m *memory) Release() {
	if m.released.Swap(true) {
		return
	}
	m.owner.mu.RLock()
	pool := m.owner.pool
	m.owner.mu.RUnlock()
	if pool == nil {
		m.buf.Release()
		return
	}
	pool.put(m.buf, m.size)
}

func byteSize(n int) uint64 {
	//nolint:gosec // G115: n is non-negative
	return uint64(max(n, 1)) * 4
}

// Alloc returns zero-filled device memory of n elements.
func (a *Accelerator) Alloc(n int) (device.Memory, error) {
	if n < 0 {
		return nil, fmt.Errorf("webgpu: alloc %d: %w", n, device.ErrBadArgument)
	}
	a.mu.RLock()
	pool := a.pool
	a.mu.RUnlock()
	if pool == nil {
		return nil, fmt.Errorf("webgpu: alloc on released device: %w", device.ErrReleased)
	}

	size := byteSize(n)
	buf, reused := pool.get(size)
	m := &memory{owner: a, buf: buf, n: n, size: size}
	if reused {
		if err := a.Fill(m, 0); err != nil {
			m.Release()
			return nil, err
		}
	}
	return m, nil
}

// Upload copies src into dst through a mapped staging buffer.
func (a *Accelerator) Upload(dst device.Memory, src []float32) error {
	d, err := a.resolve(dst)
	if err != nil {
		return err
	}
	if len(src) != d.n {
		return fmt.Errorf("webgpu: upload %d values into %d: %w", len(src), d.n, device.ErrBadArgument)
	}
	if d.n == 0 {
		return nil
	}
	staging := a.createBuffer(float32Bytes(src), wgpu.BufferUsageCopySrc)
	defer staging.Release()

	encoder := a.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(staging, 0, d.buf, 0, uint64(len(src))*4)
	a.queue.Submit(encoder.Finish(nil))
	return nil
}

// Download copies src into dst.
func (a *Accelerator) Download(dst []float32, src device.Memory) error {
	s, err := a.resolve(src)
	if err != nil {
		return err
	}
	if len(dst) != s.n {
		return fmt.Errorf("webgpu: download %d values into %d: %w", s.n, len(dst), device.ErrBadArgument)
	}
	if s.n == 0 {
		return nil
	}
	data, err := a.readBuffer(s.buf, uint64(s.n)*4)
	if err != nil {
		return err
	}
	bytesFloat32(dst, data)
	return nil
}

// Synchronize waits for the queue by mapping a one-element staging copy,
// which completes only after all earlier submissions.
func (a *Accelerator) Synchronize() error {
	probe := a.createBuffer(make([]byte, 4), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer probe.Release()
	_, err := a.readBuffer(probe, 4)
	return err
}

func (a *Accelerator) resolve(m device.Memory) (*memory, error) {
	mem, ok := m.(*memory)
	if !ok || mem.owner != a {
		return nil, device.ErrForeignMemory
	}
	if mem.released.Load() {
		return nil, device.ErrReleased
	}
	return mem, nil
}

func (a *Accelerator) resolveAll(ms ...device.Memory) ([]*memory, error) {
	out := make([]*memory, len(ms))
	for i, m := range ms {
		d, err := a.resolve(m)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

var _ device.Accelerator = (*Accelerator)(nil)
