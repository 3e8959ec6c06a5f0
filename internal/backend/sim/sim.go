// Package sim implements device.Accelerator in software.
//
// The simulated device keeps its own memory space: host slices never alias
// device memory, every transfer goes through Upload and Download, and memory
// from another accelerator is rejected. It offers both convolution algorithms
// so descriptor selection and workspace sizing run for real. It is the
// accelerator used by tests and on machines without a GPU.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/parallel"
)

// Config configures a simulated accelerator.
type Config struct {
	// WorkspaceLimit caps convolution workspaces, in float32 elements.
	// Algorithm selection falls back to AlgoDirect when AlgoGemm would
	// need more. Zero means unlimited.
	WorkspaceLimit int

	// Parallel sizes the worker pool that executes kernels.
	Parallel parallel.Config
}

// DefaultConfig returns an unlimited workspace and the host's default pool.
func DefaultConfig() Config {
	return Config{Parallel: parallel.DefaultConfig()}
}

// Accelerator is a software device.
type Accelerator struct {
	cfg  Config
	exec *cpu.CPUBackend

	mu       sync.Mutex
	live     map[*memory]struct{}
	released bool
}

// New creates a simulated accelerator.
func New(cfg Config) *Accelerator {
	return &Accelerator{
		cfg:  cfg,
		exec: cpu.NewWithConfig(cfg.Parallel),
		live: make(map[*memory]struct{}),
	}
}

type memory struct {
	owner    *Accelerator
	data     []float32
	released atomic.Bool
}

func (m *memory) Len() int { return len(m.data) }

func (m *memory) Release() {
	if m.released.Swap(true) {
		return
	}
	m.owner.mu.Lock()
	delete(m.owner.live, m)
	m.owner.mu.Unlock()
	m.data = nil
}

// Name returns "sim".
func (a *Accelerator) Name() string { return "sim" }

// Live returns the number of allocations not yet released.
func (a *Accelerator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Alloc returns zero-filled device memory of n elements.
func (a *Accelerator) Alloc(n int) (device.Memory, error) {
	if n < 0 {
		return nil, fmt.Errorf("sim: alloc %d: %w", n, device.ErrBadArgument)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, fmt.Errorf("sim: alloc on released device: %w", device.ErrReleased)
	}
	m := &memory{owner: a, data: make([]float32, n)}
	a.live[m] = struct{}{}
	return m, nil
}

// Upload copies src into dst.
func (a *Accelerator) Upload(dst device.Memory, src []float32) error {
	d, err := a.resolve(dst)
	if err != nil {
		return err
	}
	if len(src) != len(d) {
		return fmt.Errorf("sim: upload %d values into %d: %w", len(src), len(d), device.ErrBadArgument)
	}
	copy(d, src)
	return nil
}

// Download copies src into dst.
func (a *Accelerator) Download(dst []float32, src device.Memory) error {
	s, err := a.resolve(src)
	if err != nil {
		return err
	}
	if len(dst) != len(s) {
		return fmt.Errorf("sim: download %d values into %d: %w", len(s), len(dst), device.ErrBadArgument)
	}
	copy(dst, s)
	return nil
}

// Synchronize is a no-op: every call completes before it returns.
func (a *Accelerator) Synchronize() error { return nil }

// Release frees every live allocation. Later allocations fail.
func (a *Accelerator) Release() {
	a.mu.Lock()
	live := make([]*memory, 0, len(a.live))
	for m := range a.live {
		live = append(live, m)
	}
	a.released = true
	a.mu.Unlock()

	for _, m := range live {
		m.Release()
	}
}

// resolve returns the backing slice of m after checking ownership.
func (a *Accelerator) resolve(m device.Memory) ([]float32, error) {
	mem, ok := m.(*memory)
	if !ok || mem.owner != a {
		return nil, device.ErrForeignMemory
	}
	if mem.released.Load() {
		return nil, device.ErrReleased
	}
	return mem.data, nil
}

func (a *Accelerator) resolveAll(ms ...device.Memory) ([][]float32, error) {
	out := make([][]float32, len(ms))
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
