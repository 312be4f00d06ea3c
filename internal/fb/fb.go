// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fb provides access to raw pixel-addressable display devices
// and conversion of RGB images into their native pixel formats.
package fb

import (
	"errors"
	"fmt"
)

// DeviceError indicates a failure to open, query, map or write a
// display device, or an unsupported device pixel format.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return "fb: " + e.Op + ": " + e.Err.Error() }

func (e *DeviceError) Unwrap() error { return e.Err }

func devErr(op string, err error) *DeviceError {
	return &DeviceError{Op: op, Err: err}
}

func devErrf(op, format string, args ...any) *DeviceError {
	return &DeviceError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Channel describes the position of one color channel within a pixel:
// a bit field Length bits wide starting at bit Offset.
type Channel struct {
	Offset uint32
	Length uint32
}

// DeviceInfo describes a device's resolution and native pixel layout.
type DeviceInfo struct {
	// Width and Height are the visible resolution in pixels.
	Width, Height int

	// BitsPerPixel is the pixel depth. Supported depths are 16, 24
	// and 32.
	BitsPerPixel int

	// Stride is the number of bytes between the starts of
	// consecutive rows. It may exceed Width×BitsPerPixel/8 due to
	// padding.
	Stride int

	// Red, Green and Blue are the channel bit fields within a pixel.
	Red, Green, Blue Channel

	// BigEndian indicates that multi-byte pixels are stored most
	// significant byte first.
	BigEndian bool
}

// FrameBytes returns the byte length of a full device frame.
func (info DeviceInfo) FrameBytes() int {
	return info.Stride * info.Height
}

// Device is a pixel-addressable display. Map acquires the device's
// frame memory; the returned region remains valid until Unmap is
// called. Implementations are not safe for concurrent use.
type Device interface {
	// Info returns the device's resolution and pixel layout.
	Info() (DeviceInfo, error)

	// Map acquires at least length bytes of writable frame memory.
	Map(length int) ([]byte, error)

	// Unmap releases memory acquired by Map.
	Unmap() error
}

// Virtual is an in-memory Device used for testing and for rendering
// without display hardware. The zero value is not usable; construct
// with NewVirtual.
type Virtual struct {
	DeviceInfo
	mem    []byte
	mapped bool
}

// NewVirtual returns a Virtual device with the given pixel layout.
func NewVirtual(info DeviceInfo) *Virtual {
	return &Virtual{DeviceInfo: info, mem: make([]byte, info.FrameBytes())}
}

// Info implements Device.
func (v *Virtual) Info() (DeviceInfo, error) { return v.DeviceInfo, nil }

// Map implements Device.
func (v *Virtual) Map(length int) ([]byte, error) {
	if length > len(v.mem) {
		return nil, devErrf("map", "region too small: %d < %d", len(v.mem), length)
	}
	v.mapped = true
	return v.mem, nil
}

// Unmap implements Device.
func (v *Virtual) Unmap() error {
	if !v.mapped {
		return devErr("unmap", errors.New("not mapped"))
	}
	v.mapped = false
	return nil
}

// Mapped reports whether the device memory is currently mapped.
func (v *Virtual) Mapped() bool { return v.mapped }

// Bytes returns the device's frame memory.
func (v *Virtual) Bytes() []byte { return v.mem }
