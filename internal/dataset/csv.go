package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// ReadCSV loads a Kaggle-style image CSV:
//
//	label,pixel0,pixel1,...
//	5,0,0,12,...,0
//
// The header row is skipped. Every record holds a label followed by
// height*width*channels pixels in 0-255. At most limit records are read;
// zero reads all.
func ReadCSV(r io.Reader, height, width, channels, classes, limit int) (*Set, error) {
	pixels := height * width * channels
	if pixels <= 0 {
		return nil, fmt.Errorf("dataset: image shape %dx%dx%d: %w", height, width, channels, ErrFormat)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = pixels + 1
	cr.ReuseRecord = true
	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("dataset: CSV header: %w", err)
	}

	var (
		labels []byte
		data   []float64
	)
	for line := 2; limit == 0 || len(labels) < limit; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: %w: %w", ErrFormat, err)
		}
		label, err := strconv.Atoi(rec[0])
		if err != nil || label < 0 || label >= classes {
			return nil, fmt.Errorf("dataset: label %q on line %d: %w", rec[0], line, ErrFormat)
		}
		labels = append(labels, byte(label))
		for j, f := range rec[1:] {
			px, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("dataset: pixel %d on line %d: %w", j, line, ErrFormat)
			}
			data = append(data, float64(px)/255.0)
		}
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("dataset: CSV has no records: %w", ErrFormat)
	}

	targets, err := OneHot(labels, classes)
	if err != nil {
		return nil, err
	}
	return &Set{
		Features: mat.NewDense(len(labels), pixels, data),
		Targets:  targets,
		Height:   height,
		Width:    width,
		Channels: channels,
		Classes:  classes,
	}, nil
}
