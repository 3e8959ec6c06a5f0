// Package cpu implements the host backend: BLAS through gonum, the
// elementwise kernels, and the im2col/col2im transforms used by host
// convolutions. Every routine works on column-major float32 slices.
package cpu

import (
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"

	"github.com/born-ml/duet/internal/parallel"
)

// CPUBackend runs layer math on host memory.
type CPUBackend struct {
	par parallel.Config
}

// New creates a new CPU backend sized from the host's physical cores.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithConfig creates a CPU backend with an explicit worker configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{par: cfg}
}

// Name returns the backend name with the host CPU model and vector features.
func (cpu *CPUBackend) Name() string {
	brand := strings.TrimSpace(cpuid.CPU.BrandName)
	if brand == "" {
		brand = "unknown CPU"
	}
	return fmt.Sprintf("CPU (%s, %d workers%s)", brand, cpu.par.NumWorkers, vectorFeatures())
}

// Parallel returns the worker configuration used by the kernels.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

func vectorFeatures() string {
	var feats []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX512F, "avx512"},
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}
	if len(feats) == 0 {
		return ""
	}
	return ", " + strings.Join(feats, "+")
}
