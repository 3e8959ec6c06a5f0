// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the column-major float32 buffers exchanged between
// layers, losses and optimizers.
//
// # Layout
//
// A Buffer stores element (r, c) at index r + c*Rows. Each column is one
// observation, so a mini-batch of B examples with D features is a D×B
// buffer. Images are flattened NHWC (channel fastest) inside a column.
//
// # Basic Usage
//
//	import "github.com/born-ml/duet/tensor"
//
//	func main() {
//	    x := tensor.New(784, 32) // 32 observations of 784 features
//	    y, err := tensor.FromSlice(2, 2, []float32{1, 2, 3, 4})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(x, y.At(1, 0)) // y.At(1, 0) == 2
//	}
//
// # Devices
//
// A Buffer always owns its host array and may own a mirror on one
// accelerator. Transfers are explicit: call ToDevice after writing the host
// array and ToHost before reading it back.
package tensor
