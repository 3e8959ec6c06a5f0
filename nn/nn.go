// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/tensor"
)

// Layer is one stage of a network. Only the layers of this package
// implement it.
type Layer = nn.Layer

// Kind identifies a layer variant.
type Kind = nn.Kind

// Layer kinds.
const (
	KindInput       = nn.KindInput
	KindDense       = nn.KindDense
	KindActivation  = nn.KindActivation
	KindDropout     = nn.KindDropout
	KindConvolution = nn.KindConvolution
	KindSoftmax     = nn.KindSoftmax
)

// Layers

// Input declares the dimensions of the network input.
type Input = nn.Input

// NewInput creates an input layer. Several dimensions are multiplied, so an
// image input is nn.NewInput(h, w, c).
func NewInput(dims ...int) (*Input, error) {
	return nn.NewInput(dims...)
}

// Dense represents a fully connected layer without bias.
type Dense = nn.Dense

// NewDense creates a dense layer with Xavier initialization.
//
// Example:
//
//	layer, err := nn.NewDense(784, 128)
func NewDense(in, out int) (*Dense, error) {
	return nn.NewDense(in, out)
}

// ConvSpec describes a 2-D convolution over NHWC images.
type ConvSpec = nn.ConvSpec

// Convolution represents a 2-D convolution layer without bias.
type Convolution = nn.Convolution

// NewConvolution creates a convolution layer with Xavier initialization.
func NewConvolution(spec ConvSpec) (*Convolution, error) {
	return nn.NewConvolution(spec)
}

// Dropout zeroes features with probability p while training.
type Dropout = nn.Dropout

// NewDropout creates a dropout layer over dim features.
func NewDropout(p float32, dim int) (*Dropout, error) {
	return nn.NewDropout(p, dim)
}

// Softmax normalizes every column into a probability distribution.
type Softmax = nn.Softmax

// NewSoftmax creates a softmax layer over dim classes.
func NewSoftmax(dim int) (*Softmax, error) {
	return nn.NewSoftmax(dim)
}

// Activations

// ActivationFunc selects the nonlinearity of an Activation layer.
type ActivationFunc = nn.ActivationFunc

// ReLU is max(0, x).
const ReLU = nn.ReLU

// Activation applies an elementwise nonlinearity.
type Activation = nn.Activation

// NewActivation creates an activation layer over dim features.
//
// Example:
//
//	relu, err := nn.NewActivation(nn.ReLU, 128)
func NewActivation(fn ActivationFunc, dim int) (*Activation, error) {
	return nn.NewActivation(fn, dim)
}

// Loss Functions

// CrossEntropy is the categorical cross-entropy over one-hot targets.
type CrossEntropy = nn.CrossEntropy

// DistributionTolerance is how far a prediction column may sum from 1.
const DistributionTolerance = nn.DistributionTolerance

// NewCrossEntropy creates the loss.
func NewCrossEntropy() *CrossEntropy {
	return nn.NewCrossEntropy()
}

// Initialization

// Xavier fills b with Glorot uniform values for the given fan-in and fan-out.
func Xavier(rng *rand.Rand, fanIn, fanOut int, b *tensor.Buffer) {
	nn.Xavier(rng, fanIn, fanOut, b)
}

// Reinitialize redraws the weights of l from rng.
func Reinitialize(l Layer, rng *rand.Rand) {
	nn.Reinitialize(l, rng)
}
