// Copyright ©2024 The fbgif Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The fbgif command plays animated GIF files on a Linux framebuffer
// device.
//
// Playback defaults may be set in $XDG_CONFIG_HOME/fbgif/config.toml;
// command line flags take precedence over the configuration file.
//
// Exit status is 0 on success, including interruption by a signal;
// 2 for usage errors; 3 for container format errors; 4 for pixel data
// decode errors; 5 for input i/o errors; and 6 for device errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/fbgif/fbgif/internal/fb"
	"github.com/fbgif/fbgif/internal/gif"
	"github.com/fbgif/fbgif/internal/play"
	"github.com/fbgif/fbgif/internal/slogext"
	"github.com/fbgif/fbgif/internal/version"
	"github.com/fbgif/fbgif/internal/xdg"
)

// Exit statuses, one per error kind.
const (
	exitSuccess = 0
	exitError   = 1
	exitUsage   = 2
	exitFormat  = 3
	exitDecode  = 4
	exitIO      = 5
	exitDevice  = 6
)

func main() {
	os.Exit(Main())
}

// config is the schema of the optional defaults file.
type config struct {
	Device   string `toml:"device"`
	Interval int    `toml:"interval"` // milliseconds
	Once     bool   `toml:"once"`
	Log      string `toml:"log"`
}

func Main() int {
	device := flag.String("device", "/dev/fb0", "framebuffer device file")
	interval := flag.Int("interval", 5, "minimum interval between frames in milliseconds")
	once := flag.Bool("once", false, "play the file one time and exit")
	watch := flag.Bool("watch", false, "restart playback when the input file changes")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [options] <file.gif>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitError
		}
		return exitSuccess
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}
	path := flag.Arg(0)

	var level slog.LevelVar
	addSource := slogext.NewAtomicBool(*lines)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "fbgif.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applyConfig(ctx, device, interval, once, logging, mlog)
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return exitUsage
	}
	floor := time.Duration(*interval) * time.Millisecond
	if floor < 0 {
		flag.Usage()
		return exitUsage
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	// Hold an advisory lock so that two players do not interleave
	// writes to the same device.
	unlock, err := lockDevice(*device)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "no device lock", slog.Any("error", err))
	} else if unlock == nil {
		fmt.Fprintf(os.Stderr, "%s is in use by another fbgif instance\n", *device)
		return exitDevice
	} else {
		defer unlock()
	}

	// Stop the kernel drawing the console over our frames. This is
	// best effort; it fails when not run from a virtual terminal.
	if err := fb.SetConsoleGraphics(); err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "console graphics mode", slog.Any("error", err))
	} else {
		defer func() {
			if err := fb.SetConsoleText(); err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "console text mode", slog.Any("error", err))
			}
		}()
	}

	dev, err := fb.Open(*device)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitDevice
	}
	defer dev.Close()

	player := play.New(dev, floor, *once, log.With(slog.String("component", "fbgif.play")))
	err = run(ctx, player, path, *watch, mlog)
	return exitStatus(ctx, err, mlog)
}

// applyConfig overlays defaults from the configuration file onto flags
// that were not explicitly set on the command line.
func applyConfig(ctx context.Context, device *string, interval *int, once *bool, logging *string, log *slog.Logger) {
	cfgPath, err := xdg.Config(filepath.Join("fbgif", "config.toml"), false)
	if err != nil {
		return
	}
	var cfg config
	if _, err := toml.DecodeFile(cfgPath, &cfg); err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "invalid config file",
			slog.String("path", cfgPath), slog.Any("error", err))
		return
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["device"] && cfg.Device != "" {
		*device = cfg.Device
	}
	if !set["interval"] && cfg.Interval != 0 {
		*interval = cfg.Interval
	}
	if !set["once"] && cfg.Once {
		*once = true
	}
	if !set["log"] && cfg.Log != "" {
		*logging = cfg.Log
	}
	log.LogAttrs(ctx, slog.LevelDebug, "applied config file", slog.String("path", cfgPath))
}

// lockDevice takes an advisory per-device lock in the user's runtime
// directory. It returns a release function, or nil if another instance
// holds the lock.
func lockDevice(device string) (unlock func(), err error) {
	dir, ok := xdg.RuntimeDir()
	if !ok {
		return nil, errors.New("no runtime directory")
	}
	name := strings.ReplaceAll(strings.TrimPrefix(device, "/"), string(filepath.Separator), "-")
	path := filepath.Join(dir, "fbgif-"+name+".lock")
	fl := flock.New(path)
	ok, err = fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return func() {
		fl.Unlock()
		os.Remove(path)
	}, nil
}

// run plays the file, restarting playback whenever the input changes
// if watching is enabled.
func run(ctx context.Context, player *play.Player, path string, watch bool, log *slog.Logger) error {
	if !watch {
		return player.Play(ctx, path)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Watch the directory rather than the file so that atomic
	// replacement by rename is seen.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for {
		playCtx, stop := context.WithCancel(ctx)
		var changed atomic.Bool
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-playCtx.Done():
					return
				case ev, ok := <-w.Events:
					if !ok {
						return
					}
					name, err := filepath.Abs(ev.Name)
					if err != nil {
						name = ev.Name
					}
					if name == abs && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						changed.Store(true)
						stop()
						return
					}
				case err, ok := <-w.Errors:
					if !ok {
						return
					}
					log.LogAttrs(playCtx, slog.LevelWarn, "watch error", slog.Any("error", err))
				}
			}
		}()
		err := player.Play(playCtx, path)
		stop()
		<-done
		if changed.Load() && ctx.Err() == nil {
			log.LogAttrs(ctx, slog.LevelInfo, "input changed, restarting", slog.String("path", path))
			continue
		}
		return err
	}
}

// exitStatus maps an error from playback to the command's exit status.
func exitStatus(ctx context.Context, err error, log *slog.Logger) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Signal-driven cancellation is a normal exit.
		return exitSuccess
	}
	log.LogAttrs(ctx, slog.LevelError, "playback failed", slog.Any("error", err))
	fmt.Fprintln(os.Stderr, err)
	var (
		formatErr gif.FormatError
		decodeErr gif.DecodeError
		devErr    *fb.DeviceError
		pathErr   *fs.PathError
	)
	switch {
	case errors.As(err, &formatErr):
		return exitFormat
	case errors.As(err, &decodeErr):
		return exitDecode
	case errors.As(err, &devErr):
		return exitDevice
	case errors.As(err, &pathErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return exitIO
	default:
		return exitError
	}
}
