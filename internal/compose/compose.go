// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compose maintains the persistent playback canvas and applies
// decoded frames to it according to GIF disposal and transparency
// semantics.
package compose

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/fbgif/fbgif/internal/gif"
)

// Compositor holds the logical screen canvas for a playback session.
// The canvas is allocated once and mutated in place; frames do not
// persist beyond their effect on it.
type Compositor struct {
	canvas     *image.RGBA
	background *image.Uniform

	// Disposal state of the most recently applied frame, acted on
	// at the start of the next Apply call.
	prevRect     image.Rectangle
	prevDisposal byte
	snapshot     *image.RGBA
}

// New returns a Compositor with a width×height canvas filled with the
// background color.
func New(width, height int, background color.RGBA) *Compositor {
	c := &Compositor{
		canvas:     image.NewRGBA(image.Rect(0, 0, width, height)),
		background: image.NewUniform(background),
	}
	c.clear()
	return c
}

// Canvas returns the compositor's canvas. The returned image is only
// valid until the next call to Apply or Reset.
func (c *Compositor) Canvas() *image.RGBA { return c.canvas }

// Reset restores the canvas to its initial background fill and drops
// any pending disposal state. It is called at the start of each loop
// pass.
func (c *Compositor) Reset() {
	c.clear()
	c.prevRect = image.Rectangle{}
	c.prevDisposal = 0
	c.snapshot = nil
}

func (c *Compositor) clear() {
	draw.Draw(c.canvas, c.canvas.Bounds(), c.background, image.Point{}, draw.Src)
}

// Apply disposes of the previously applied frame and draws f onto the
// canvas, resolving pixel indexes through the frame's color table and
// skipping pixels matching the frame's transparent index. It returns
// the updated canvas.
func (c *Compositor) Apply(f *gif.Frame) *image.RGBA {
	switch c.prevDisposal {
	case gif.DisposalBackground:
		draw.Draw(c.canvas, c.prevRect, c.background, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if c.snapshot != nil {
			draw.Draw(c.canvas, c.prevRect, c.snapshot, c.prevRect.Min, draw.Src)
		}
	}

	// Snapshot the affected region only when this frame asks for it
	// to be restored afterwards.
	if f.Disposal == gif.DisposalPrevious {
		c.snapshot = image.NewRGBA(f.Rect)
		draw.Draw(c.snapshot, f.Rect, c.canvas, f.Rect.Min, draw.Src)
	} else {
		c.snapshot = nil
	}

	c.drawFrame(f)
	c.prevRect = f.Rect
	c.prevDisposal = f.Disposal
	return c.canvas
}

func (c *Compositor) drawFrame(f *gif.Frame) {
	dx := f.Rect.Dx()
	for y := f.Rect.Min.Y; y < f.Rect.Max.Y; y++ {
		row := f.Pix[(y-f.Rect.Min.Y)*dx : (y-f.Rect.Min.Y+1)*dx]
		off := c.canvas.PixOffset(f.Rect.Min.X, y)
		for x, idx := range row {
			if f.HasTransparent && idx == f.Transparent {
				continue
			}
			r, g, b, _ := f.Palette[idx].RGBA()
			o := off + x*4
			c.canvas.Pix[o] = uint8(r >> 8)
			c.canvas.Pix[o+1] = uint8(g >> 8)
			c.canvas.Pix[o+2] = uint8(b >> 8)
			c.canvas.Pix[o+3] = 0xff
		}
	}
}
