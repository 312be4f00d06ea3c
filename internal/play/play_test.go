// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package play

import (
	"context"
	"errors"
	"image"
	"image/color"
	stdgif "image/gif"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fbgif/fbgif/internal/fb"
	"github.com/fbgif/fbgif/internal/gif"
)

var testDevice = fb.DeviceInfo{
	Width: 4, Height: 4,
	BitsPerPixel: 16,
	Stride:       8,
	Red:          fb.Channel{Offset: 11, Length: 5},
	Green:        fb.Channel{Offset: 5, Length: 6},
	Blue:         fb.Channel{Offset: 0, Length: 5},
}

var testPalette = color.Palette{
	color.RGBA{A: 0xff},
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{G: 0xff, A: 0xff},
}

// writeGIF encodes a 4x4 animation with one full-canvas frame per
// palette index in frames, and returns its path. Delays are in
// hundredths of a second as in the container.
func writeGIF(t *testing.T, frames []byte, delays []int, loopCount int) string {
	t.Helper()
	g := &stdgif.GIF{LoopCount: loopCount}
	for i, idx := range frames {
		img := image.NewPaletted(image.Rect(0, 0, 4, 4), testPalette)
		for p := range img.Pix {
			img.Pix[p] = idx
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, delays[i])
	}
	path := filepath.Join(t.TempDir(), "anim.gif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("unexpected error creating file: %v", err)
	}
	defer f.Close()
	err = stdgif.EncodeAll(f, g)
	if err != nil {
		t.Fatalf("unexpected error encoding animation: %v", err)
	}
	return path
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlayOnce(t *testing.T) {
	path := writeGIF(t, []byte{1}, []int{0}, 0)
	dev := fb.NewVirtual(testDevice)
	p := New(dev, 20*time.Millisecond, true, discard())

	start := time.Now()
	err := p.Play(context.Background(), path)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error playing: %v", err)
	}
	if n := p.Frames(); n != 1 {
		t.Errorf("unexpected frame count: got %d, want 1", n)
	}
	if s := p.State(); s != Stopped {
		t.Errorf("unexpected final state: got %v, want %v", s, Stopped)
	}
	if elapsed < 20*time.Millisecond {
		t.Errorf("frame shown for %v, want at least the interval floor", elapsed)
	}
	if dev.Mapped() {
		t.Error("device still mapped after playback")
	}
	// The frame is solid red; in 5/6/5 that is 0xf800.
	mem := dev.Bytes()
	if mem[0] != 0x00 || mem[1] != 0xf8 {
		t.Errorf("unexpected device content: % x", mem[:2])
	}
}

func TestPlayLoopCount(t *testing.T) {
	// A loop count of 2 is two repeats after the initial pass, so two
	// frames are shown 3 times each.
	path := writeGIF(t, []byte{1, 2}, []int{0, 0}, 2)
	dev := fb.NewVirtual(testDevice)
	p := New(dev, time.Millisecond, false, discard())

	err := p.Play(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error playing: %v", err)
	}
	if n := p.Frames(); n != 6 {
		t.Errorf("unexpected frame count: got %d, want 6", n)
	}
	if s := p.State(); s != Stopped {
		t.Errorf("unexpected final state: got %v, want %v", s, Stopped)
	}
}

func TestPlayOnceOverridesLoop(t *testing.T) {
	path := writeGIF(t, []byte{1, 2}, []int{0, 0}, 0)
	dev := fb.NewVirtual(testDevice)
	p := New(dev, time.Millisecond, true, discard())

	err := p.Play(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error playing: %v", err)
	}
	if n := p.Frames(); n != 2 {
		t.Errorf("unexpected frame count: got %d, want 2", n)
	}
}

func TestPlayCancel(t *testing.T) {
	// Loop count zero loops forever; only cancellation ends playback.
	path := writeGIF(t, []byte{1, 2}, []int{0, 0}, 0)
	dev := fb.NewVirtual(testDevice)
	p := New(dev, time.Millisecond, false, discard())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Play(ctx, path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error playing: %v", err)
	}
	if s := p.State(); s != Cancelled {
		t.Errorf("unexpected final state: got %v, want %v", s, Cancelled)
	}
	if p.Frames() == 0 {
		t.Error("no frames shown before cancellation")
	}
	if dev.Mapped() {
		t.Error("device still mapped after cancellation")
	}
}

func TestPlayDelayFloor(t *testing.T) {
	// Declared delays below the floor are clamped up to it, and delays
	// above it are honored in full.
	path := writeGIF(t, []byte{1, 2}, []int{0, 3}, -1)
	dev := fb.NewVirtual(testDevice)
	p := New(dev, 10*time.Millisecond, true, discard())

	start := time.Now()
	err := p.Play(context.Background(), path)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error playing: %v", err)
	}
	// 10ms for the clamped frame plus 30ms declared.
	if elapsed < 40*time.Millisecond {
		t.Errorf("pass took %v, want at least 40ms", elapsed)
	}
}

func TestPlayBadSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.gif")
	err := os.WriteFile(path, []byte("this is not an animation"), 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing file: %v", err)
	}
	dev := fb.NewVirtual(testDevice)
	p := New(dev, time.Millisecond, false, discard())

	err = p.Play(context.Background(), path)
	var ferr gif.FormatError
	if !errors.As(err, &ferr) {
		t.Fatalf("unexpected error playing: %v", err)
	}
	if n := p.Frames(); n != 0 {
		t.Errorf("frames shown from invalid input: %d", n)
	}
	if dev.Mapped() {
		t.Error("device mapped for invalid input")
	}
}

func TestPlayMissingFile(t *testing.T) {
	dev := fb.NewVirtual(testDevice)
	p := New(dev, time.Millisecond, false, discard())
	err := p.Play(context.Background(), filepath.Join(t.TempDir(), "absent.gif"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unexpected error playing: %v", err)
	}
}
