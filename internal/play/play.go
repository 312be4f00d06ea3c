// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package play schedules decoded animation frames onto a display
// device, honoring frame delays, loop counts and cancellation.
package play

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fbgif/fbgif/internal/compose"
	"github.com/fbgif/fbgif/internal/fb"
	"github.com/fbgif/fbgif/internal/gif"
)

// State is a playback session state.
type State int

const (
	Idle State = iota
	Loaded
	Playing
	Looping
	Finished
	Cancelled
	Stopped
)

var stateNames = map[State]string{
	Idle:      "idle",
	Loaded:    "loaded",
	Playing:   "playing",
	Looping:   "looping",
	Finished:  "finished",
	Cancelled: "cancelled",
	Stopped:   "stopped",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return name
}

// Player plays animated GIF files onto a display device. The pipeline
// is strictly sequential: each frame is decoded, composited, converted
// and written before the inter-frame sleep; no stages overlap.
type Player struct {
	dev   fb.Device
	floor time.Duration
	once  bool
	log   *slog.Logger

	state  State
	frames int
}

// New returns a Player writing to dev. The floor is the minimum
// inter-frame interval; frames declaring a shorter delay, including
// zero, are shown for the floor duration. If once is true playback
// finishes after a single pass regardless of the container's loop
// count.
func New(dev fb.Device, floor time.Duration, once bool, log *slog.Logger) *Player {
	return &Player{dev: dev, floor: floor, once: once, log: log, state: Idle}
}

// State returns the player's current state. It must not be called
// while Play is running in another goroutine.
func (p *Player) State() State { return p.state }

// Frames returns the total number of frames written to the device.
// It must not be called while Play is running in another goroutine.
func (p *Player) Frames() int { return p.frames }

func (p *Player) setState(ctx context.Context, s State) {
	p.log.LogAttrs(ctx, slog.LevelDebug, "state transition",
		slog.String("from", p.state.String()), slog.String("to", s.String()))
	p.state = s
}

// Play plays the GIF file at path until the animation terminates, an
// error occurs, or ctx is cancelled. Cancellation is honored only at
// frame boundaries, so a complete frame is always left on the device;
// it is reported as ctx's error. The device mapping is released on
// every return path.
func (p *Player) Play(ctx context.Context, path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("play: opening input: %w", err)
	}
	r, err := gif.NewReader(f)
	if err != nil {
		f.Close()
		return err
	}
	p.setState(ctx, Loaded)

	info, err := p.dev.Info()
	if err != nil {
		f.Close()
		return err
	}
	conv, err := fb.NewConverter(info)
	if err != nil {
		f.Close()
		return err
	}
	mem, err := p.dev.Map(info.FrameBytes())
	if err != nil {
		f.Close()
		return err
	}
	defer func() {
		uerr := p.dev.Unmap()
		if err == nil {
			err = uerr
		}
	}()
	defer func() {
		if p.state == Finished {
			p.setState(ctx, Stopped)
		}
	}()

	// The canvas is allocated once for the session; its dimensions
	// are fixed by the first parse of the container.
	width, height := r.Width, r.Height
	comp := compose.New(width, height, r.Background())
	p.log.LogAttrs(ctx, slog.LevelInfo, "playing",
		slog.String("path", path),
		slog.Int("width", width), slog.Int("height", height),
		slog.Bool("once", p.once))

	for pass := 0; ; pass++ {
		if pass == 0 {
			p.setState(ctx, Playing)
		} else {
			p.setState(ctx, Looping)
		}
		n, perr := p.playPass(ctx, r, comp, conv, mem)
		f.Close()
		if perr != nil {
			if errors.Is(perr, context.Canceled) || errors.Is(perr, context.DeadlineExceeded) {
				p.setState(ctx, Cancelled)
			}
			return perr
		}
		if n == 0 {
			return gif.FormatError("missing image data")
		}
		p.log.LogAttrs(ctx, slog.LevelDebug, "pass complete",
			slog.Int("pass", pass), slog.Int("frames", n),
			slog.Int("loop_count", r.LoopCount))

		if p.once || (r.LoopCount > 0 && pass == r.LoopCount) {
			p.setState(ctx, Finished)
			return nil
		}

		// The frame sequence is a single forward pass; looping
		// requires re-parsing the container from the start.
		f, err = os.Open(path)
		if err != nil {
			return fmt.Errorf("play: reopening input: %w", err)
		}
		r, err = gif.NewReader(f)
		if err != nil {
			f.Close()
			return err
		}
		if r.Width != width || r.Height != height {
			f.Close()
			return gif.FormatError("canvas dimensions changed during playback")
		}
		comp.Reset()
	}
}

// playPass plays a single pass over the container's frame sequence,
// returning the number of frames shown.
func (p *Player) playPass(ctx context.Context, r *gif.Reader, comp *compose.Compositor, conv *fb.Converter, mem []byte) (int, error) {
	var shown int
	for {
		select {
		case <-ctx.Done():
			return shown, ctx.Err()
		default:
		}
		frame, err := r.Next()
		if err == io.EOF {
			return shown, nil
		}
		if err != nil {
			return shown, err
		}
		canvas := comp.Apply(frame)
		copy(mem, conv.Convert(canvas))
		shown++
		p.frames++

		delay := max(frame.Delay, p.floor)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return shown, ctx.Err()
		case <-timer.C:
		}
	}
}
