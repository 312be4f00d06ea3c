// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fb

import (
	"image"
)

// Converter packs 24-bit RGB canvases into a device's native pixel
// encoding. The output buffer is allocated once, sized to a full
// device frame; stride padding bytes are zeroed at allocation and
// never rewritten.
type Converter struct {
	info DeviceInfo
	buf  []byte
}

// NewConverter returns a Converter for the given device layout. It
// returns a DeviceError if the device's pixel depth is not 16, 24 or
// 32 bits.
func NewConverter(info DeviceInfo) (*Converter, error) {
	switch info.BitsPerPixel {
	case 16, 24, 32:
	default:
		return nil, devErrf("convert", "unsupported depth: %d bits per pixel", info.BitsPerPixel)
	}
	return &Converter{info: info, buf: make([]byte, info.FrameBytes())}, nil
}

// Convert renders img into the device's native format and returns the
// frame buffer. The canvas is placed at the device origin and clipped
// to the visible resolution. The returned buffer is reused by
// subsequent calls.
func (c *Converter) Convert(img *image.RGBA) []byte {
	bounds := img.Bounds()
	width := min(bounds.Dx(), c.info.Width)
	height := min(bounds.Dy(), c.info.Height)
	n := c.info.BitsPerPixel / 8
	for y := 0; y < height; y++ {
		src := img.Pix[img.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		row := c.buf[y*c.info.Stride:]
		for x := 0; x < width; x++ {
			s := src[x*4:]
			px := c.pack(s[0], s[1], s[2])
			o := x * n
			if c.info.BigEndian {
				for i := 0; i < n; i++ {
					row[o+i] = byte(px >> (8 * (n - 1 - i)))
				}
			} else {
				for i := 0; i < n; i++ {
					row[o+i] = byte(px >> (8 * i))
				}
			}
		}
	}
	return c.buf
}

// pack places each channel's top bits into its declared bit field and
// combines the fields into a single pixel value.
func (c *Converter) pack(r, g, b uint8) uint32 {
	return packChannel(r, c.info.Red) |
		packChannel(g, c.info.Green) |
		packChannel(b, c.info.Blue)
}

func packChannel(v uint8, ch Channel) uint32 {
	if ch.Length >= 8 {
		return uint32(v) << (ch.Offset + ch.Length - 8)
	}
	return uint32(v>>(8-ch.Length)) << ch.Offset
}

// Unpack recovers the channel values encoded by pack, scaled back to
// the top bits of an 8-bit channel. It is the inverse of pack for the
// bits retained by the device's field widths.
func (c *Converter) Unpack(px uint32) (r, g, b uint8) {
	return unpackChannel(px, c.info.Red),
		unpackChannel(px, c.info.Green),
		unpackChannel(px, c.info.Blue)
}

func unpackChannel(px uint32, ch Channel) uint8 {
	if ch.Length >= 8 {
		return uint8(px >> (ch.Offset + ch.Length - 8))
	}
	mask := uint32(1)<<ch.Length - 1
	return uint8(px>>ch.Offset&mask) << (8 - ch.Length)
}
