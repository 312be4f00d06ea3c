// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package fb

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Console keyboard display mode, from <linux/kd.h>.
const (
	_KDSETMODE = 0x4b3a

	kdText     = 0x00
	kdGraphics = 0x01
)

// consoles are tried in order when switching display mode; the first
// that can be opened and switched wins.
var consoles = []string{"/dev/tty0", "/dev/tty", "/dev/console"}

// SetConsoleGraphics switches the console to graphics mode, stopping
// the kernel from drawing the text cursor and console output over the
// framebuffer.
func SetConsoleGraphics() error { return setKDMode(kdGraphics) }

// SetConsoleText restores the console to text mode.
func SetConsoleText() error { return setKDMode(kdText) }

func setKDMode(mode uintptr) error {
	var last error
	for _, path := range consoles {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			last = err
			continue
		}
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), _KDSETMODE, mode)
		f.Close()
		if errno == 0 {
			return nil
		}
		last = errno
	}
	if last == nil {
		last = errors.New("no console device")
	}
	return devErr("set console mode", last)
}
