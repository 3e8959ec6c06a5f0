package main

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/internal/backend/sim"
	"github.com/born-ml/duet/internal/backend/webgpu"
	"github.com/born-ml/duet/internal/config"
	"github.com/born-ml/duet/internal/dataset"
	"github.com/born-ml/duet/internal/device"
	"github.com/born-ml/duet/internal/network"
	"github.com/born-ml/duet/internal/nn"
	"github.com/born-ml/duet/internal/parallel"
)

// Convolution filters of the classifier.
const filters = 8

// buildModel returns a small convolutional classifier for s:
//
//	Input(H, W, C) -> Conv(8, 3x3, pad 1) -> ReLU -> Dropout(0.25)
//	               -> Dense(H*W*8, classes) -> Softmax
func buildModel(s *dataset.Set) ([]nn.Layer, error) {
	in, err := nn.NewInput(s.Height, s.Width, s.Channels)
	if err != nil {
		return nil, err
	}
	conv, err := nn.NewConvolution(nn.ConvSpec{
		InH: s.Height, InW: s.Width, InC: s.Channels,
		Filters: filters, FilterH: 3, FilterW: 3,
		Pad: 1, Stride: 1,
	})
	if err != nil {
		return nil, err
	}
	features := s.Height * s.Width * filters
	relu, err := nn.NewActivation(nn.ReLU, features)
	if err != nil {
		return nil, err
	}
	drop, err := nn.NewDropout(0.25, features)
	if err != nil {
		return nil, err
	}
	dense, err := nn.NewDense(features, s.Classes)
	if err != nil {
		return nil, err
	}
	soft, err := nn.NewSoftmax(s.Classes)
	if err != nil {
		return nil, err
	}
	return []nn.Layer{in, conv, relu, drop, dense, soft}, nil
}

// deviceOptions opens the configured device. WebGPU falls back to the
// simulated accelerator when no adapter is available.
func deviceOptions(cfg *config.Config, logger *slog.Logger) ([]network.Option, func(), error) {
	noop := func() {}
	var acc device.Accelerator
	switch cfg.Device {
	case config.DeviceHost:
		return nil, noop, nil
	case config.DeviceWebGPU:
		gpu, err := webgpu.Open()
		if err == nil {
			acc = gpu
			break
		}
		logger.Warn("webgpu unavailable, using simulated accelerator", "err", err)
		fallthrough
	case config.DeviceSim:
		acc = sim.New(sim.Config{WorkspaceLimit: cfg.SimWorkspaceLimit, Parallel: parallel.DefaultConfig()})
	default:
		return nil, noop, fmt.Errorf("unknown device %q", cfg.Device)
	}
	logger.Info("accelerator ready", "device", acc.Name())
	return []network.Option{network.WithAccelerator(acc)}, acc.Release, nil
}

// accuracy predicts s in chunks of batch rows so only one chunk of
// activations and patch matrices is resident at a time.
func accuracy(net *network.Network, s *dataset.Set, batch int) (float64, error) {
	rows, cols := s.Features.Dims()
	if rows == 0 {
		return 0, nil
	}
	_, classes := s.Targets.Dims()
	var hit int
	for lo := 0; lo < rows; lo += batch {
		hi := min(lo+batch, rows)
		pred, err := net.Predict(s.Features.Slice(lo, hi, 0, cols).(*mat.Dense))
		if err != nil {
			return 0, err
		}
		want := dataset.Labels(s.Targets.Slice(lo, hi, 0, classes))
		for i, got := range dataset.Labels(pred) {
			if got == want[i] {
				hit++
			}
		}
	}
	return float64(hit) / float64(rows), nil
}
