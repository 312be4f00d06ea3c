// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package fb

import "errors"

var errUnsupported = errors.New("not supported on this platform")

// Framebuffer is a raw framebuffer device. It is only available on
// Linux.
type Framebuffer struct{}

var _ Device = (*Framebuffer)(nil)

// Open returns a DeviceError on platforms without framebuffer support.
func Open(path string) (*Framebuffer, error) {
	return nil, devErr("open", errUnsupported)
}

// Info implements Device.
func (fb *Framebuffer) Info() (DeviceInfo, error) {
	return DeviceInfo{}, devErr("query", errUnsupported)
}

// Map implements Device.
func (fb *Framebuffer) Map(length int) ([]byte, error) {
	return nil, devErr("map", errUnsupported)
}

// Unmap implements Device.
func (fb *Framebuffer) Unmap() error { return nil }

// Close releases the device.
func (fb *Framebuffer) Close() error { return nil }

// SetConsoleGraphics switches the console to graphics mode where
// supported.
func SetConsoleGraphics() error { return devErr("set console mode", errUnsupported) }

// SetConsoleText restores the console to text mode where supported.
func SetConsoleText() error { return devErr("set console mode", errUnsupported) }
