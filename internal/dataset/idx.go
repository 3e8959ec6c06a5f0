package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// IDX magic numbers for unsigned byte data.
const (
	idxImagesMagic = 2051 // 0x00000803, three dimensions
	idxLabelsMagic = 2049 // 0x00000801, one dimension
)

// MNIST file names inside a data directory.
var mnistFiles = map[bool][2]string{
	true:  {"train-images-idx3-ubyte", "train-labels-idx1-ubyte"},
	false: {"t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"},
}

// ReadIDXImages reads an IDX image file.
//
// IDX file format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes
//	number of cols: 4 bytes
//	pixel data: unsigned bytes (0-255)
//
// At most limit images are read; zero reads all.
func ReadIDXImages(r io.Reader, limit int) (images [][]byte, rows, cols int, err error) {
	var hdr [4]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, 0, 0, fmt.Errorf("dataset: read image header: %w", err)
	}
	if hdr[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("dataset: invalid magic number: got %d, want %d: %w", hdr[0], idxImagesMagic, ErrFormat)
	}
	n, rows, cols := int(hdr[1]), int(hdr[2]), int(hdr[3])
	if rows == 0 || cols == 0 {
		return nil, 0, 0, fmt.Errorf("dataset: empty %dx%d images: %w", rows, cols, ErrFormat)
	}
	if limit > 0 && n > limit {
		n = limit
	}

	images = make([][]byte, n)
	for i := range images {
		images[i] = make([]byte, rows*cols)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("dataset: read image %d: %w", i, err)
		}
	}
	return images, rows, cols, nil
}

// ReadIDXLabels reads an IDX label file.
//
// IDX file format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes
func ReadIDXLabels(r io.Reader, limit int) ([]byte, error) {
	var hdr [2]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, fmt.Errorf("dataset: read label header: %w", err)
	}
	if hdr[0] != idxLabelsMagic {
		return nil, fmt.Errorf("dataset: invalid magic number: got %d, want %d: %w", hdr[0], idxLabelsMagic, ErrFormat)
	}
	n := int(hdr[1])
	if limit > 0 && n > limit {
		n = limit
	}
	labels := make([]byte, n)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("dataset: read labels: %w", err)
	}
	return labels, nil
}

// FromIDX builds a single-channel Set from IDX images and labels. Pixels
// are scaled to [0, 1].
func FromIDX(images, labels io.Reader, classes, limit int) (*Set, error) {
	imgs, h, w, err := ReadIDXImages(images, limit)
	if err != nil {
		return nil, err
	}
	lbls, err := ReadIDXLabels(labels, limit)
	if err != nil {
		return nil, err
	}
	if len(imgs) != len(lbls) {
		return nil, fmt.Errorf("dataset: %d images but %d labels: %w", len(imgs), len(lbls), ErrFormat)
	}
	targets, err := OneHot(lbls, classes)
	if err != nil {
		return nil, err
	}
	features := mat.NewDense(len(imgs), h*w, nil)
	for i, img := range imgs {
		row := features.RawRowView(i)
		for j, px := range img {
			row[j] = float64(px) / 255.0
		}
	}
	return &Set{Features: features, Targets: targets, Height: h, Width: w, Channels: 1, Classes: classes}, nil
}

// LoadMNIST loads the training or test split of MNIST from dir. Each file
// may be stored raw or gzip-compressed with a .gz suffix.
func LoadMNIST(dir string, train bool, limit int) (*Set, error) {
	names := mnistFiles[train]
	images, err := openMaybeGzip(filepath.Join(dir, names[0]))
	if err != nil {
		return nil, err
	}
	defer images.Close()
	labels, err := openMaybeGzip(filepath.Join(dir, names[1]))
	if err != nil {
		return nil, err
	}
	defer labels.Close()
	return FromIDX(images, labels, 10, limit)
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openMaybeGzip opens path, or path+".gz" through a gzip reader when only
// the compressed file exists.
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return &readCloser{Reader: bufio.NewReader(f), closers: []io.Closer{f}}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	f, err = os.Open(path + ".gz")
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("dataset: %s.gz: %w", path, err)
	}
	return &readCloser{Reader: zr, closers: []io.Closer{f, zr}}, nil
}
