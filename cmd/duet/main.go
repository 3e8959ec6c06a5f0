// Package main provides the duet CLI.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/born-ml/duet/internal/checkpoint"
	"github.com/born-ml/duet/internal/config"
	"github.com/born-ml/duet/internal/dataset"
	"github.com/born-ml/duet/internal/network"
	"github.com/born-ml/duet/internal/optim"
)

const version = "v0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		return
	}
	switch os.Args[1] {
	case "version":
		fmt.Printf("duet %s\n", version)
	case "train":
		if err := train(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "duet: %v\n", err)
			os.Exit(1)
		}
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "duet %s - host and accelerator neural network training\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  train      Train a convolutional classifier (duet train -h for flags)")
}

func train(args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to YAML config (defaults apply when empty)")
	mnistDir := fs.String("mnist", "", "Directory with MNIST IDX files (raw or .gz)")
	csvPath := fs.String("csv", "", "Kaggle-style MNIST CSV file")
	samples := fs.Int("samples", 0, "Max samples to load (0 = all)")
	synthetic := fs.Int("synthetic", 1024, "Synthetic stripe images when no data is given")
	epochs := fs.Int("epochs", 0, "Number of epochs")
	patience := fs.Int("patience", 0, "Early stopping patience")
	batchSize := fs.Int("batch-size", 0, "Batch size")
	lr := fs.Float64("lr", 0, "Learning rate")
	momentum := fs.Float64("momentum", 0, "SGD momentum")
	seed := fs.Uint64("seed", 0, "PRNG seed")
	dev := fs.String("device", "", "Device: host, sim or webgpu")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	loadPath := fs.String("load", "", "ONNX checkpoint to initialize weights from")
	savePath := fs.String("save", "", "Write trained weights as ONNX to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg.ApplyOverrides(config.Overrides{
		Epochs:       *epochs,
		Patience:     *patience,
		BatchSize:    *batchSize,
		LearningRate: *lr,
		Momentum:     *momentum,
		Seed:         *seed,
		Device:       *dev,
		LogLevel:     *logLevel,
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	data, err := loadData(*mnistDir, *csvPath, *samples, *synthetic, cfg.Seed)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded",
		"samples", data.Len(),
		"shape", fmt.Sprintf("%dx%dx%d", data.Height, data.Width, data.Channels),
		"classes", data.Classes,
	)

	opts, release, err := deviceOptions(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	layers, err := buildModel(data)
	if err != nil {
		return err
	}
	net, err := network.New(layers, nil, append(opts, network.WithLogger(logger), network.WithSeed(cfg.Seed))...)
	if err != nil {
		return err
	}
	defer net.Release()
	if *loadPath != "" {
		if err := checkpoint.LoadFile(*loadPath, net.Layers()); err != nil {
			return fmt.Errorf("failed to load checkpoint: %w", err)
		}
		logger.Info("checkpoint loaded", "path", *loadPath)
	}

	opt := optim.NewSGD(optim.SGDConfig{LR: float32(cfg.LearningRate), Momentum: float32(cfg.Momentum)})
	history, err := net.Train(data.Features, data.Targets, opt, cfg.TrainOptions())
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	acc, err := accuracy(net, data, cfg.BatchSize)
	if err != nil {
		return err
	}
	logger.Info("done",
		"epochs", len(history.Epochs),
		"best_validation_loss", history.Best,
		"best_epoch", history.BestEpoch,
		"accuracy", acc,
	)

	if *savePath != "" {
		if err := checkpoint.SaveFile(*savePath, net.Layers()); err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		logger.Info("checkpoint saved", "path", *savePath)
	}
	return nil
}

// loadData picks MNIST IDX files, a CSV file or synthetic stripes, in that
// order.
func loadData(mnistDir, csvPath string, samples, synthetic int, seed uint64) (*dataset.Set, error) {
	switch {
	case mnistDir != "":
		s, err := dataset.LoadMNIST(mnistDir, true, samples)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("MNIST files not found in %s (expected train-images-idx3-ubyte and train-labels-idx1-ubyte, optionally .gz): %w",
				filepath.Clean(mnistDir), err)
		}
		return s, err
	case csvPath != "":
		f, err := os.Open(csvPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataset.ReadCSV(f, 28, 28, 1, 10, samples)
	default:
		return dataset.Stripes(synthetic, 8, 8, 0.3, seed+1), nil
	}
}
