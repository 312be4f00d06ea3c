// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package fb

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux framebuffer ioctl requests, from <linux/fb.h>.
const (
	_FBIOGET_VSCREENINFO = 0x4600
	_FBIOGET_FSCREENINFO = 0x4602
)

// fbBitfield mirrors struct fb_bitfield.
type fbBitfield struct {
	Offset   uint32
	Length   uint32
	MSBRight uint32
}

// fbVarScreenInfo mirrors struct fb_var_screeninfo.
type fbVarScreenInfo struct {
	XRes         uint32
	YRes         uint32
	XResVirtual  uint32
	YResVirtual  uint32
	XOffset      uint32
	YOffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32
	Red          fbBitfield
	Green        fbBitfield
	Blue         fbBitfield
	Transp       fbBitfield
	NonStd       uint32
	Activate     uint32
	Height       uint32
	Width        uint32
	AccelFlags   uint32
	PixClock     uint32
	LeftMargin   uint32
	RightMargin  uint32
	UpperMargin  uint32
	LowerMargin  uint32
	HSyncLen     uint32
	VSyncLen     uint32
	Sync         uint32
	VMode        uint32
	Rotate       uint32
	Colorspace   uint32
	Reserved     [4]uint32
}

// fbFixScreenInfo mirrors struct fb_fix_screeninfo.
type fbFixScreenInfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	XPanStep     uint16
	YPanStep     uint16
	YWrapStep    uint16
	LineLength   uint32
	MMIOStart    uintptr
	MMIOLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// Framebuffer is a Linux framebuffer device.
type Framebuffer struct {
	f    *os.File
	info DeviceInfo
	smem int
	mem  []byte
}

var _ Device = (*Framebuffer)(nil)

// Open opens the framebuffer device at path and queries its screen
// layout.
func Open(path string) (*Framebuffer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, devErr("open", err)
	}
	var vinfo fbVarScreenInfo
	if err := ioctlPtr(f, _FBIOGET_VSCREENINFO, unsafe.Pointer(&vinfo)); err != nil {
		f.Close()
		return nil, devErr("query var screen info", err)
	}
	var finfo fbFixScreenInfo
	if err := ioctlPtr(f, _FBIOGET_FSCREENINFO, unsafe.Pointer(&finfo)); err != nil {
		f.Close()
		return nil, devErr("query fix screen info", err)
	}
	return &Framebuffer{
		f: f,
		info: DeviceInfo{
			Width:        int(vinfo.XRes),
			Height:       int(vinfo.YRes),
			BitsPerPixel: int(vinfo.BitsPerPixel),
			Stride:       int(finfo.LineLength),
			Red:          Channel{Offset: vinfo.Red.Offset, Length: vinfo.Red.Length},
			Green:        Channel{Offset: vinfo.Green.Offset, Length: vinfo.Green.Length},
			Blue:         Channel{Offset: vinfo.Blue.Offset, Length: vinfo.Blue.Length},
		},
		smem: int(finfo.SmemLen),
	}, nil
}

// Info implements Device.
func (fb *Framebuffer) Info() (DeviceInfo, error) { return fb.info, nil }

// Map implements Device, memory-mapping length bytes of the device's
// frame memory.
func (fb *Framebuffer) Map(length int) ([]byte, error) {
	if fb.mem != nil {
		return nil, devErr("map", errors.New("already mapped"))
	}
	if length > fb.smem {
		return nil, devErrf("map", "region too small: %d < %d", fb.smem, length)
	}
	mem, err := unix.Mmap(int(fb.f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, devErr("map", err)
	}
	fb.mem = mem
	return mem, nil
}

// Unmap implements Device.
func (fb *Framebuffer) Unmap() error {
	if fb.mem == nil {
		return nil
	}
	err := unix.Munmap(fb.mem)
	fb.mem = nil
	if err != nil {
		return devErr("unmap", err)
	}
	return nil
}

// Close releases the device mapping and closes the device file.
func (fb *Framebuffer) Close() error {
	err := fb.Unmap()
	if cerr := fb.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func ioctlPtr(f *os.File, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
