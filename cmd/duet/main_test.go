package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/duet/internal/config"
	"github.com/born-ml/duet/internal/dataset"
	"github.com/born-ml/duet/internal/network"
)

func TestBuildModel(t *testing.T) {
	layers, err := buildModel(dataset.Stripes(4, 6, 6, 0.1, 1))
	require.NoError(t, err)
	n, err := network.New(layers, nil, network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, n.Allocate(4))
	dims, err := n.Shapes()
	require.NoError(t, err)
	assert.Equal(t, []int{36, 288, 288, 288, 2, 2}, dims)
}

func TestAccuracy_Chunked(t *testing.T) {
	data := dataset.Stripes(10, 6, 6, 0.1, 2)
	layers, err := buildModel(data)
	require.NoError(t, err)
	n, err := network.New(layers, nil, network.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	whole, err := n.Predict(data.Features)
	require.NoError(t, err)
	want := dataset.Accuracy(whole, data.Targets)

	// 10 rows in chunks of 4 leaves a short final chunk.
	got, err := accuracy(n, data, 4)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	// The last forward pass saw only the final chunk.
	assert.Equal(t, 2, n.Output().Cols())
}

func TestLoadData(t *testing.T) {
	s, err := loadData("", "", 0, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, 10, s.Len())

	_, err = loadData(t.TempDir(), "", 0, 10, 3)
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "missing.csv")
	_, err = loadData("", path, 0, 10, 3)
	assert.Error(t, err)
}

func TestDeviceOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, dev := range []string{config.DeviceHost, config.DeviceSim, config.DeviceWebGPU} {
		t.Run(dev, func(t *testing.T) {
			cfg := config.Default()
			cfg.Device = dev
			opts, release, err := deviceOptions(cfg, logger)
			require.NoError(t, err)
			defer release()
			if dev == config.DeviceHost {
				assert.Empty(t, opts)
			} else {
				assert.Len(t, opts, 1)
			}
		})
	}
}

func TestTrainCommand(t *testing.T) {
	model := filepath.Join(t.TempDir(), "model.onnx")
	err := train([]string{"-synthetic", "64", "-epochs", "1", "-batch-size", "8", "-device", "sim", "-log-level", "error", "-save", model})
	require.NoError(t, err)
	assert.FileExists(t, model)

	// Resume from the checkpoint on the host.
	err = train([]string{"-synthetic", "64", "-epochs", "1", "-batch-size", "8", "-log-level", "error", "-load", model})
	assert.NoError(t, err)

	err = train([]string{"-lr", "-1", "-device", "tpu"})
	assert.Error(t, err)
}
