// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for training neural networks.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with optional momentum
//   - Optimizer interface for custom optimizers
//   - State: the per-layer helper buffers an optimizer needs
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/duet/optim"
//	    "github.com/born-ml/duet/network"
//	)
//
//	func main() {
//	    opt := optim.NewSGD(optim.SGDConfig{
//	        LR:       0.05,
//	        Momentum: 0.9,
//	    })
//
//	    history, err := net.Train(features, targets, opt, network.DefaultOptions())
//	}
//
// # Learning Rate
//
// Layers accumulate gradients over the mini-batch, so each update scales
// the learning rate by 1/batch:
//
//	param -= (lr / batch) * grad
//
// The rate can be changed between runs:
//
//	opt.SetLR(opt.GetLR() * 0.1)
package optim
