// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package network_test

import (
	"io"
	"log/slog"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/duet/backend/cpu"
	"github.com/born-ml/duet/backend/sim"
	"github.com/born-ml/duet/network"
	"github.com/born-ml/duet/nn"
	"github.com/born-ml/duet/optim"
)

// dataset labels each point by its larger feature.
func dataset(rows int) (*mat.Dense, *mat.Dense) {
	x := mat.NewDense(rows, 2, nil)
	y := mat.NewDense(rows, 2, nil)
	for i := range rows {
		a := float64(i%7) / 7
		b := float64((i*3)%11) / 11
		x.Set(i, 0, a)
		x.Set(i, 1, b)
		if a > b {
			y.Set(i, 0, 1)
		} else {
			y.Set(i, 1, 1)
		}
	}
	return x, y
}

func layers(t *testing.T) []nn.Layer {
	t.Helper()
	in, err := nn.NewInput(2)
	if err != nil {
		t.Fatal(err)
	}
	hidden, err := nn.NewDense(2, 8)
	if err != nil {
		t.Fatal(err)
	}
	relu, err := nn.NewActivation(nn.ReLU, 8)
	if err != nil {
		t.Fatal(err)
	}
	out, err := nn.NewDense(8, 2)
	if err != nil {
		t.Fatal(err)
	}
	soft, err := nn.NewSoftmax(2)
	if err != nil {
		t.Fatal(err)
	}
	return []nn.Layer{in, hidden, relu, out, soft}
}

// TestPublicAPI trains through the re-exported surface on both backends.
func TestPublicAPI(t *testing.T) {
	x, y := dataset(120)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		opts func(t *testing.T) []network.Option
	}{
		{"Host", func(*testing.T) []network.Option {
			return []network.Option{network.WithHost(cpu.NewWithWorkers(2))}
		}},
		{"Accelerator", func(t *testing.T) []network.Option {
			acc := sim.New(sim.DefaultConfig())
			t.Cleanup(acc.Release)
			return []network.Option{network.WithAccelerator(acc)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append(tt.opts(t), network.WithLogger(logger), network.WithSeed(9))
			net, err := network.New(layers(t), nil, opts...)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			defer net.Release()

			o := network.DefaultOptions()
			o.Epochs = 3
			o.BatchSize = 8
			o.Seed = 4
			h, err := net.Train(x, y, optim.NewSGD(optim.SGDConfig{LR: 0.2, Momentum: 0.5}), o)
			if err != nil {
				t.Fatalf("Train failed: %v", err)
			}
			if len(h.Epochs) != 3 {
				t.Errorf("epochs = %d, want 3", len(h.Epochs))
			}

			p, err := net.Predict(x)
			if err != nil {
				t.Fatalf("Predict failed: %v", err)
			}
			if r, c := p.Dims(); r != 120 || c != 2 {
				t.Errorf("prediction shape = %dx%d, want 120x2", r, c)
			}
		})
	}
}

// TestNewErrors verifies construction errors are comparable through aliases.
func TestNewErrors(t *testing.T) {
	if _, err := network.New(nil, nil); err != network.ErrNoLayers {
		t.Errorf("New(nil) error = %v, want ErrNoLayers", err)
	}
}
