// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers and the loss of a feed-forward network.
//
// # Overview
//
// This package contains:
//   - Layers: Input, Dense, Convolution, Dropout, Softmax
//   - Activations: ReLU
//   - Loss functions: CrossEntropy
//   - Initialization: Xavier
//
// Every layer runs on the host or on an accelerator. Host and device paths
// share weights: binding a layer to an accelerator mirrors its parameters
// there, and the optimizer updates whichever copy the layer computes with.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/duet/network"
//	    "github.com/born-ml/duet/nn"
//	)
//
//	func main() {
//	    in, _ := nn.NewInput(784)
//	    hidden, _ := nn.NewDense(784, 128)
//	    relu, _ := nn.NewActivation(nn.ReLU, 128)
//	    out, _ := nn.NewDense(128, 10)
//	    soft, _ := nn.NewSoftmax(10)
//
//	    net, err := network.New([]nn.Layer{in, hidden, relu, out, soft}, nil)
//	}
//
// # Convolution
//
// Convolution layers take NHWC images flattened into columns and HWIO
// filters:
//
//	conv, err := nn.NewConvolution(nn.ConvSpec{
//	    InH: 28, InW: 28, InC: 1,
//	    Filters: 8, FilterH: 5, FilterW: 5,
//	    Pad: 2, Stride: 1,
//	})
//
// # Loss Functions
//
// CrossEntropy expects one-hot targets and Softmax outputs. Its gradient is
// taken with respect to the logits, so the Softmax backward is the identity.
package nn
