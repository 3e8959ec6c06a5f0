package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
# short run on the software accelerator
epochs: 4
batch_size: 16
learning_rate: 0.1
momentum: 0.9
device: sim
sim_workspace_limit: 4096
log_level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Epochs)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.InDelta(t, 0.1, cfg.LearningRate, 1e-12)
	assert.Equal(t, DeviceSim, cfg.Device)
	assert.Equal(t, 4096, cfg.SimWorkspaceLimit)
	// Keys absent from the file keep their defaults.
	assert.InDelta(t, 0.2, cfg.ValidationSplit, 1e-12)
	assert.Equal(t, 5, cfg.Watermark)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	opts := cfg.TrainOptions()
	assert.Equal(t, 4, opts.Epochs)
	assert.Equal(t, 16, opts.BatchSize)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("epochs: 3\nunknown_key: 1\n"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader("epochs: [1, 2]\n"))
	assert.Error(t, err)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(strings.NewReader("\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	cfg.ApplyOverrides(Overrides{Epochs: 9, Device: DeviceWebGPU, LearningRate: 0.2})
	assert.Equal(t, 9, cfg.Epochs)
	assert.Equal(t, DeviceWebGPU, cfg.Device)
	assert.InDelta(t, 0.2, cfg.LearningRate, 1e-12)
	assert.Equal(t, 32, cfg.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"NoLearningRate", func(c *Config) { c.LearningRate = 0 }},
		{"MomentumTooLarge", func(c *Config) { c.Momentum = 1 }},
		{"UnknownDevice", func(c *Config) { c.Device = "tpu" }},
		{"BadLogLevel", func(c *Config) { c.LogLevel = "loud" }},
		{"NoEpochs", func(c *Config) { c.Epochs = 0 }},
		{"NegativeWorkspace", func(c *Config) { c.SimWorkspaceLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}
