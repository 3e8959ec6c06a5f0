// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the host backend.
//
// The host backend runs every layer in pure Go on float32 column-major
// buffers. Matrix products go through gonum's BLAS; elementwise kernels and
// the im2col lowering of convolutions are split across a worker pool.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/duet/backend/cpu"
//	    "github.com/born-ml/duet/network"
//	)
//
//	func main() {
//	    host := cpu.New()
//	    net, err := network.New(layers, nil, network.WithHost(host))
//	}
//
// # Performance
//
// Work is chunked across GOMAXPROCS workers once it exceeds a minimum chunk
// size; smaller tensors run inline. Use NewWithWorkers to pin the pool size.
package cpu
