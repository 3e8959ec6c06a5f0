// Package webgpu implements device.Accelerator with WGSL compute shaders.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// Every kernel runs one invocation per output element. Convolutions are
// direct and need no workspace, so algorithm queries always answer
// device.AlgoDirect. Dispatches are limited to 65535 workgroups of 256
// invocations per call.
//
// The native library is only wired on windows; elsewhere Open returns
// device.ErrUnavailable.
package webgpu
