// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sim provides a software accelerator.
//
// The simulated device keeps its own memory and implements both convolution
// algorithms, so device code paths run unchanged on machines without a GPU.
package sim

import "github.com/born-ml/duet/internal/backend/sim"

// Accelerator is a software device.
type Accelerator = sim.Accelerator

// Config configures a simulated accelerator.
type Config = sim.Config

// DefaultConfig returns an unlimited workspace and the default worker pool.
func DefaultConfig() Config {
	return sim.DefaultConfig()
}

// New creates a simulated accelerator.
//
// Example:
//
//	acc := sim.New(sim.Config{WorkspaceLimit: 1 << 20})
//	defer acc.Release()
func New(cfg Config) *Accelerator {
	return sim.New(cfg)
}
