// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package network assembles layers into a trainable network.
//
// A Network runs on the host unless it is given an accelerator. Training
// overlaps batch preparation with computation: a producer goroutine keeps a
// bounded queue of shuffled mini-batches filled while the training loop
// consumes them, validates after every epoch and stops at the epoch limit or
// when the validation loss stops improving.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/duet/network"
//	    "github.com/born-ml/duet/nn"
//	    "github.com/born-ml/duet/optim"
//	)
//
//	func main() {
//	    net, err := network.New(layers, nil, network.WithSeed(1))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer net.Release()
//
//	    opts := network.DefaultOptions()
//	    opts.Patience = 3
//	    history, err := net.Train(features, targets, optim.NewSGD(optim.SGDConfig{LR: 0.05}), opts)
//	    fmt.Println(history.Best, history.BestEpoch)
//
//	    probs, err := net.Predict(features)
//	}
package network

import (
	"log/slog"

	"github.com/born-ml/duet/backend/cpu"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/network"
	"github.com/born-ml/duet/internal/train"
	"github.com/born-ml/duet/nn"
)

// Network is an ordered list of layers with a loss.
type Network = network.Network

// Option configures a Network.
type Option = network.Option

// Options configures one training run.
type Options = train.Options

// History records the per-epoch results of a run.
type History = train.History

// EpochResult summarizes one epoch.
type EpochResult = train.EpochResult

// Errors returned by New.
var (
	ErrNoLayers = network.ErrNoLayers
	ErrNoInput  = network.ErrNoInput
)

// New creates a network. The first layer must be an Input. A nil loss
// selects cross-entropy.
func New(layers []nn.Layer, loss *nn.CrossEntropy, opts ...Option) (*Network, error) {
	return network.New(layers, loss, opts...)
}

// DefaultOptions returns the options of a short run.
func DefaultOptions() Options {
	return train.DefaultOptions()
}

// WithAccelerator runs the network on acc.
func WithAccelerator(acc device.Accelerator) Option {
	return network.WithAccelerator(acc)
}

// WithHost runs the network on the given host backend.
func WithHost(h *cpu.Backend) Option {
	return network.WithHost(h)
}

// WithLogger sets the logger for training progress.
func WithLogger(l *slog.Logger) Option {
	return network.WithLogger(l)
}

// WithSeed reinitializes every layer from a deterministic generator.
func WithSeed(seed uint64) Option {
	return network.WithSeed(seed)
}
