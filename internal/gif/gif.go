// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gif implements a streaming decoder for the GIF container
// format. Unlike image/gif it does not retain decoded frames; frames
// are produced one at a time by a single forward pass over the input
// so that arbitrarily long animations can be played in constant
// memory. The GIF specification is at
// http://www.w3.org/Graphics/GIF/spec-gif89a.txt.
package gif

import (
	"bufio"
	"compress/lzw"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"time"
)

// FormatError indicates that the input is not a valid GIF container,
// or that a block within it is structurally malformed.
type FormatError string

func (e FormatError) Error() string { return "gif: invalid format: " + string(e) }

// DecodeError indicates that the container structure was valid but the
// compressed pixel data could not be expanded.
type DecodeError string

func (e DecodeError) Error() string { return "gif: decode error: " + string(e) }

// Disposal methods, graphic control extension values 1-3. The zero
// value means no disposal was specified and is treated as DisposalNone.
const (
	DisposalNone       = 0x01
	DisposalBackground = 0x02
	DisposalPrevious   = 0x03
)

// Section indicators.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2c
	sTrailer         = 0x3b
)

// Extension labels.
const (
	eText           = 0x01
	eGraphicControl = 0xf9
	eComment        = 0xfe
	eApplication    = 0xff
)

// Field masks.
const (
	fColorTable     = 1 << 7
	fColorTableSize = 7

	ifInterlace = 1 << 6

	gcTransparentColorSet = 1 << 0
	gcDisposalMethod      = 7 << 2
)

// Frame is a single image within a GIF container together with the
// control metadata that applies to it. Pix holds one color table index
// per pixel of Rect in row-major order; if the frame was stored
// interlaced the rows have already been rearranged into natural order.
type Frame struct {
	// Rect is the frame's position within the logical screen.
	Rect image.Rectangle

	// Palette is the color table resolving the frame's pixel
	// indexes. It is the frame's local table if one is present,
	// otherwise it aliases the Reader's global table.
	Palette color.Palette

	// Pix holds the frame's pixel indexes, Rect.Dx()*Rect.Dy() long.
	Pix []uint8

	// Delay is the presentation delay declared for the frame.
	Delay time.Duration

	// Disposal is the frame's disposal method.
	Disposal byte

	// Transparent is the frame's transparent color index.
	// It is only meaningful if HasTransparent is true.
	HasTransparent bool
	Transparent    byte
}

// reader is the interface required of the input. If the provided
// io.Reader does not implement it, buffering is introduced.
type reader interface {
	io.Reader
	io.ByteReader
}

// Reader decodes a GIF container as a single-pass sequence of frames.
// The sequence is not restartable; replaying requires a new Reader
// over a fresh view of the input.
type Reader struct {
	r reader

	// Width and Height are the logical screen dimensions.
	Width, Height int

	// Palette is the global color table, nil if absent.
	Palette color.Palette

	// BackgroundIndex is the global background color index.
	BackgroundIndex byte

	// LoopCount is the NETSCAPE2.0 animation loop count: the number
	// of passes to make over the frame sequence after the first.
	// Zero means loop forever. It is -1 if the container does not
	// carry a loop extension.
	LoopCount int

	// Pending graphic control state, applied to the next image block.
	delay          time.Duration
	disposal       byte
	hasTransparent bool
	transparent    byte

	tmp [1024]byte // must be at least 768 to hold a full color table
}

// NewReader parses the container header, logical screen descriptor and
// global color table from r and returns a Reader positioned at the
// first data block. It returns a FormatError if the GIF signature is
// absent or the descriptor is malformed.
func NewReader(r io.Reader) (*Reader, error) {
	d := &Reader{LoopCount: -1}
	if rr, ok := r.(reader); ok {
		d.r = rr
	} else {
		d.r = bufio.NewReader(r)
	}
	if _, err := io.ReadFull(d.r, d.tmp[:13]); err != nil {
		return nil, fmt.Errorf("gif: reading header: %w", err)
	}
	vers := string(d.tmp[:6])
	if vers != "GIF87a" && vers != "GIF89a" {
		return nil, FormatError(fmt.Sprintf("unrecognised signature %q", vers))
	}
	d.Width = int(d.tmp[6]) | int(d.tmp[7])<<8
	d.Height = int(d.tmp[8]) | int(d.tmp[9])<<8
	fields := d.tmp[10]
	d.BackgroundIndex = d.tmp[11]
	// d.tmp[12] is the pixel aspect ratio, which is ignored.
	if fields&fColorTable != 0 {
		var err error
		d.Palette, err = d.readColorTable(fields)
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Background returns the canvas background color: the global
// background index resolved through the global color table, or black
// when there is no global table or the index is out of range.
func (d *Reader) Background() color.RGBA {
	if int(d.BackgroundIndex) < len(d.Palette) {
		r, g, b, _ := d.Palette[d.BackgroundIndex].RGBA()
		return color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff}
	}
	return color.RGBA{A: 0xff}
}

// Next returns the next frame of the sequence. It returns io.EOF after
// the container trailer has been consumed. Any other error terminates
// the sequence: FormatError for structural problems, DecodeError for
// invalid compressed data, and an error wrapping io.ErrUnexpectedEOF
// for truncated input.
func (d *Reader) Next() (*Frame, error) {
	for {
		c, err := d.readByte()
		if err != nil {
			return nil, fmt.Errorf("gif: reading block: %w", err)
		}
		switch c {
		case sExtension:
			if err := d.readExtension(); err != nil {
				return nil, err
			}
		case sImageDescriptor:
			return d.readImage()
		case sTrailer:
			return nil, io.EOF
		default:
			return nil, FormatError(fmt.Sprintf("unknown block type 0x%.2x", c))
		}
	}
}

func (d *Reader) readByte() (byte, error) {
	c, err := d.r.ReadByte()
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return c, err
}

func (d *Reader) readColorTable(fields byte) (color.Palette, error) {
	n := 1 << (1 + fields&fColorTableSize)
	if _, err := io.ReadFull(d.r, d.tmp[:3*n]); err != nil {
		return nil, fmt.Errorf("gif: short read on color table: %w", err)
	}
	table := make(color.Palette, n)
	for i := range table {
		table[i] = color.RGBA{R: d.tmp[3*i], G: d.tmp[3*i+1], B: d.tmp[3*i+2], A: 0xff}
	}
	return table, nil
}

func (d *Reader) readExtension() error {
	label, err := d.readByte()
	if err != nil {
		return fmt.Errorf("gif: reading extension: %w", err)
	}
	switch label {
	case eGraphicControl:
		return d.readGraphicControl()
	case eApplication:
		return d.readApplication()
	case eText, eComment:
		// Plain text and comment payloads have no effect on
		// rendering; their sub-blocks are consumed and dropped.
		return d.skipSubBlocks()
	default:
		return d.skipSubBlocks()
	}
}

func (d *Reader) readGraphicControl() error {
	if _, err := io.ReadFull(d.r, d.tmp[:6]); err != nil {
		return fmt.Errorf("gif: reading graphic control: %w", err)
	}
	if d.tmp[0] != 4 {
		return FormatError(fmt.Sprintf("invalid graphic control block size %d", d.tmp[0]))
	}
	fields := d.tmp[1]
	d.disposal = (fields & gcDisposalMethod) >> 2
	d.delay = time.Duration(uint16(d.tmp[2])|uint16(d.tmp[3])<<8) * 10 * time.Millisecond
	d.hasTransparent = fields&gcTransparentColorSet != 0
	if d.hasTransparent {
		d.transparent = d.tmp[4]
	}
	if d.tmp[5] != 0 {
		return FormatError("missing graphic control terminator")
	}
	return nil
}

func (d *Reader) readApplication() error {
	b, err := d.readByte()
	if err != nil {
		return fmt.Errorf("gif: reading application extension: %w", err)
	}
	// The spec requires an 11 byte identifier, but some encoders
	// write other sizes; read whatever is declared.
	if _, err := io.ReadFull(d.r, d.tmp[:int(b)]); err != nil {
		return fmt.Errorf("gif: reading application extension: %w", err)
	}
	if string(d.tmp[:b]) != "NETSCAPE2.0" {
		return d.skipSubBlocks()
	}
	n, err := d.readSubBlock()
	if err != nil {
		return fmt.Errorf("gif: reading loop count: %w", err)
	}
	if n == 3 && d.tmp[0] == 1 {
		d.LoopCount = int(d.tmp[1]) | int(d.tmp[2])<<8
	}
	return d.skipSubBlocks()
}

// readSubBlock reads a single length-prefixed sub-block into d.tmp,
// returning its length. A zero length is the sub-block terminator.
func (d *Reader) readSubBlock() (int, error) {
	n, err := d.readByte()
	if n == 0 || err != nil {
		return 0, err
	}
	if _, err := io.ReadFull(d.r, d.tmp[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (d *Reader) skipSubBlocks() error {
	for {
		n, err := d.readSubBlock()
		if err != nil {
			return fmt.Errorf("gif: reading sub-blocks: %w", err)
		}
		if n == 0 {
			return nil
		}
	}
}

func (d *Reader) readImage() (*Frame, error) {
	if _, err := io.ReadFull(d.r, d.tmp[:9]); err != nil {
		return nil, fmt.Errorf("gif: reading image descriptor: %w", err)
	}
	left := int(d.tmp[0]) | int(d.tmp[1])<<8
	top := int(d.tmp[2]) | int(d.tmp[3])<<8
	width := int(d.tmp[4]) | int(d.tmp[5])<<8
	height := int(d.tmp[6]) | int(d.tmp[7])<<8
	fields := d.tmp[8]

	f := &Frame{
		Rect:           image.Rect(left, top, left+width, top+height),
		Delay:          d.delay,
		Disposal:       d.disposal,
		HasTransparent: d.hasTransparent,
		Transparent:    d.transparent,
	}
	// Control metadata applies to a single following image.
	d.delay = 0
	d.disposal = 0
	d.hasTransparent = false
	d.transparent = 0

	// The GIF89a spec, section 20, requires each image to fit within
	// the boundaries of the logical screen.
	screen := image.Rect(0, 0, d.Width, d.Height)
	if f.Rect != f.Rect.Intersect(screen) {
		return nil, FormatError("frame bounds outside logical screen")
	}

	if fields&fColorTable != 0 {
		var err error
		f.Palette, err = d.readColorTable(fields)
		if err != nil {
			return nil, err
		}
	} else {
		if d.Palette == nil {
			return nil, FormatError("no color table for frame")
		}
		f.Palette = d.Palette
	}

	if err := d.readImageData(f); err != nil {
		return nil, err
	}
	for _, c := range f.Pix {
		if int(c) >= len(f.Palette) {
			return nil, FormatError(fmt.Sprintf("color index %d outside table of %d entries", c, len(f.Palette)))
		}
	}
	if fields&ifInterlace != 0 {
		uninterlace(f.Pix, width, height)
	}
	return f, nil
}

// readImageData expands the frame's LZW-compressed pixel indexes.
func (d *Reader) readImageData(f *Frame) error {
	litWidth, err := d.readByte()
	if err != nil {
		return fmt.Errorf("gif: reading image data: %w", err)
	}
	if litWidth < 2 || litWidth > 8 {
		return FormatError(fmt.Sprintf("pixel size out of range: %d", litWidth))
	}
	f.Pix = make([]uint8, f.Rect.Dx()*f.Rect.Dy())
	br := &blockReader{r: d.r}
	lzwr := lzw.NewReader(br, lzw.LSB, int(litWidth))
	defer lzwr.Close()
	if _, err := io.ReadFull(lzwr, f.Pix); err != nil {
		if br.truncated {
			return fmt.Errorf("gif: reading image data: %w", io.ErrUnexpectedEOF)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return DecodeError("not enough image data")
		}
		return DecodeError(err.Error())
	}
	// Both the decompressor and the sub-block stream must now be
	// exhausted: exactly one terminator code and one zero-length
	// sub-block remain.
	if n, err := lzwr.Read(d.tmp[:1]); n != 0 || err != io.EOF {
		if br.truncated {
			return fmt.Errorf("gif: reading image data: %w", io.ErrUnexpectedEOF)
		}
		if err != nil && err != io.EOF {
			return DecodeError(err.Error())
		}
		return DecodeError("too much image data")
	}
	if n, err := br.Read(d.tmp[:1]); n != 0 || err != io.EOF {
		if br.truncated {
			return fmt.Errorf("gif: reading image data: %w", io.ErrUnexpectedEOF)
		}
		return DecodeError("too much image data")
	}
	return nil
}

// blockReader presents the (n, n bytes)* sub-block structure of GIF
// image data as a plain byte stream for the LZW decompressor. Reaching
// the zero-length terminator sub-block yields io.EOF; running out of
// input mid-block sets truncated.
type blockReader struct {
	r         reader
	slice     []byte
	err       error
	truncated bool
	tmp       [255]byte
}

func (b *blockReader) Read(p []byte) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if len(b.slice) == 0 {
		var blockLen uint8
		blockLen, b.err = b.r.ReadByte()
		if b.err != nil {
			b.truncated = true
			return 0, b.err
		}
		if blockLen == 0 {
			b.err = io.EOF
			return 0, b.err
		}
		b.slice = b.tmp[:blockLen]
		if _, b.err = io.ReadFull(b.r, b.slice); b.err != nil {
			b.truncated = true
			return 0, b.err
		}
	}
	n := copy(p, b.slice)
	b.slice = b.slice[n:]
	return n, nil
}

// interlaceScan defines the ordering for one pass of the interlace
// algorithm.
type interlaceScan struct {
	skip, start int
}

var interlacing = []interlaceScan{
	{8, 0}, // Every 8th row, starting with row 0.
	{8, 4}, // Every 8th row, starting with row 4.
	{4, 2}, // Every 4th row, starting with row 2.
	{2, 1}, // Every 2nd row, starting with row 1.
}

// uninterlace rearranges the rows of pix from interlaced file order
// into natural top-to-bottom order.
func uninterlace(pix []uint8, dx, dy int) {
	nPix := make([]uint8, dx*dy)
	offset := 0 // Steps through the input by sequential scan lines.
	for _, pass := range interlacing {
		nOffset := pass.start * dx // Steps through the output as defined by pass.
		for y := pass.start; y < dy; y += pass.skip {
			copy(nPix[nOffset:nOffset+dx], pix[offset:offset+dx])
			offset += dx
			nOffset += dx * pass.skip
		}
	}
	copy(pix, nPix)
}
