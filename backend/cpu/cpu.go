// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/duet/internal/backend/cpu"
	"github.com/born-ml/duet/internal/parallel"
)

// Backend represents the CPU backend implementation.
type Backend = internalcpu.CPUBackend

// New creates a new CPU backend sized to the machine.
//
// Example:
//
//	host := cpu.New()
//	net, err := network.New(layers, nil, network.WithHost(host))
func New() *Backend {
	return internalcpu.New()
}

// NewWithWorkers creates a CPU backend with a fixed worker count. Zero or
// one worker runs everything on the calling goroutine.
func NewWithWorkers(workers int) *Backend {
	cfg := parallel.DefaultConfig()
	if workers <= 1 {
		cfg = parallel.Sequential()
	} else {
		cfg.NumWorkers = workers
	}
	return internalcpu.NewWithConfig(cfg)
}
