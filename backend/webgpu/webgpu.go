// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU accelerator.
//
// Layers bound to it run as WGSL compute shaders through go-webgpu, which
// loads the native wgpu library without cgo. The native library is only
// wired on windows; elsewhere Open reports that no device is available and
// callers fall back to the host or the simulated accelerator.
//
// Example:
//
//	import (
//	    "github.com/born-ml/duet/backend/sim"
//	    "github.com/born-ml/duet/backend/webgpu"
//	    "github.com/born-ml/duet/network"
//	)
//
//	func main() {
//	    acc, err := webgpu.Open()
//	    if err != nil {
//	        acc = sim.New(sim.DefaultConfig())
//	    }
//	    defer acc.Release()
//
//	    net, err := network.New(layers, nil, network.WithAccelerator(acc))
//	}
package webgpu

import (
	"github.com/born-ml/duet/internal/backend/webgpu"
	"github.com/born-ml/duet/internal/device"
)

// Open initializes the first WebGPU adapter. Call Release on the result
// when done to free GPU resources.
func Open() (device.Accelerator, error) {
	return webgpu.Open()
}

// IsAvailable checks if WebGPU is available on the current system.
//
// Example:
//
//	if !webgpu.IsAvailable() {
//	    log.Println("no GPU, training on the host")
//	}
func IsAvailable() bool {
	return webgpu.IsAvailable()
}
