//go:build !windows

package webgpu

import "github.com/born-ml/duet/internal/device"

// Open reports device.ErrUnavailable on this platform.
func Open() (device.Accelerator, error) {
	return nil, device.ErrUnavailable
}

// IsAvailable reports whether a WebGPU adapter can be opened.
func IsAvailable() bool { return false }
