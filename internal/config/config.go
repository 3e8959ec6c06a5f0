// Package config loads the YAML configuration of a training run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/duet/internal/train"
)

// Device names accepted by Config.Device.
const (
	DeviceHost   = "host"
	DeviceSim    = "sim"
	DeviceWebGPU = "webgpu"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Epochs             int     `yaml:"epochs"`
	Patience           int     `yaml:"patience"`
	BatchSize          int     `yaml:"batch_size"`
	LearningRate       float64 `yaml:"learning_rate"`
	Momentum           float64 `yaml:"momentum"`
	IterationsPerEpoch int     `yaml:"iterations_per_epoch"`
	ValidationSplit    float64 `yaml:"validation_split"`
	Watermark          int     `yaml:"watermark"`
	Seed               uint64  `yaml:"seed"`
	Device             string  `yaml:"device"`
	SimWorkspaceLimit  int     `yaml:"sim_workspace_limit"`
	LogLevel           string  `yaml:"log_level"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs       int
	Patience     int
	BatchSize    int
	LearningRate float64
	Momentum     float64
	Seed         uint64
	Device       string
	LogLevel     string
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	o := train.DefaultOptions()
	return &Config{
		Epochs:          o.Epochs,
		BatchSize:       o.BatchSize,
		LearningRate:    0.05,
		ValidationSplit: o.ValidationSplit,
		Watermark:       o.Watermark,
		Device:          DeviceHost,
		LogLevel:        "info",
	}
}

// Load reads and validates a Config from YAML. Keys missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.Patience > 0 {
		c.Patience = o.Patience
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Momentum > 0 {
		c.Momentum = o.Momentum
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.SimWorkspaceLimit < 0 {
		return fmt.Errorf("sim_workspace_limit must be >= 0 (got %d)", c.SimWorkspaceLimit)
	}
	switch c.Device {
	case DeviceHost, DeviceSim, DeviceWebGPU:
	default:
		return fmt.Errorf("device must be one of %s, %s, %s (got %q)", DeviceHost, DeviceSim, DeviceWebGPU, c.Device)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return c.TrainOptions().Check()
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// TrainOptions returns the training options of the config.
func (c *Config) TrainOptions() train.Options {
	return train.Options{
		Epochs:             c.Epochs,
		Patience:           c.Patience,
		BatchSize:          c.BatchSize,
		IterationsPerEpoch: c.IterationsPerEpoch,
		ValidationSplit:    c.ValidationSplit,
		Watermark:          c.Watermark,
		Seed:               c.Seed,
	}
}
