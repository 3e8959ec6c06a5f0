//go:build windows

package webgpu

import (
	"sync"

	"github.com/go-webgpu/webgpu/wgpu"
)

const (
	storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	maxPoolSize  = 64 // Max idle buffers per size
)

// bufferPool recycles storage buffers by exact byte size. Layer buffers are
// reallocated with identical sizes whenever the batch size flips between the
// training and validation shapes, so exact matching hits almost always.
type bufferPool struct {
	device *wgpu.Device

	mu   sync.Mutex
	idle map[uint64][]*wgpu.Buffer

	hits, misses uint64
}

func newBufferPool(device *wgpu.Device) *bufferPool {
	return &bufferPool{device: device, idle: make(map[uint64][]*wgpu.Buffer)}
}

// get returns a buffer of size bytes and whether it was recycled.
func (p *bufferPool) get(size uint64) (*wgpu.Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if bufs := p.idle[size]; len(bufs) > 0 {
		buf := bufs[len(bufs)-1]
		p.idle[size] = bufs[:len(bufs)-1]
		p.hits++
		return buf, true
	}
	p.misses++
	return p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: storageUsage,
		Size:  size,
	}), false
}

// put returns a buffer to the pool, releasing it when the pool is full.
func (p *bufferPool) put(buf *wgpu.Buffer, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle[size]) >= maxPoolSize {
		buf.Release()
		return
	}
	p.idle[size] = append(p.idle[size], buf)
}

// clear releases all pooled buffers.
func (p *bufferPool) clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for size, bufs := range p.idle {
		for _, b := range bufs {
			b.Release()
		}
		delete(p.idle, size)
	}
}

// stats returns pool hits and misses.
func (p *bufferPool) stats() (hits, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits, p.misses
}
