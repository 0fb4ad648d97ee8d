package app

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"

	"maix/framebuf"
	"maix/hal"
)

// Splash describes raw RGB565 frames stored back to back on the card.
type Splash struct {
	Width, Height int
	// Offset is the byte offset of the first frame.
	Offset int64
	// Frames caps how many frames are played; 0 plays until the first
	// short read.
	Frames int
}

// PlaySplash reads frames from src while present shows the previous one, and
// returns how many frames were presented.
func PlaySplash(ctx context.Context, src io.ReaderAt, sp Splash, present func(*framebuf.Frame) error) (int, error) {
	if sp.Width <= 0 || sp.Height <= 0 {
		return 0, fmt.Errorf("app: splash: bad geometry %dx%d", sp.Width, sp.Height)
	}
	chain := framebuf.NewSwapChain(sp.Width, sp.Height)
	size := int64(sp.Width * sp.Height * 2)
	off := sp.Offset
	read, shown := 0, 0

	capture := func(f *framebuf.Frame) error {
		if sp.Frames > 0 && read == sp.Frames {
			return framebuf.ErrDone
		}
		n, err := src.ReadAt(f.Buffer(), off)
		if int64(n) < size {
			if read > 0 || sp.Frames == 0 {
				return framebuf.ErrDone
			}
			return fmt.Errorf("app: splash: frame 0: %w", err)
		}
		off += size
		read++
		return nil
	}
	show := func(f *framebuf.Frame) error {
		if err := present(f); err != nil {
			return err
		}
		shown++
		return nil
	}
	err := framebuf.Stream(ctx, chain, capture, show)
	return shown, err
}

// LogFrames returns a present func that logs a checksum per frame.
func LogFrames(l hal.Logger) func(*framebuf.Frame) error {
	n := 0
	return func(f *framebuf.Frame) error {
		r, g, b := framebuf.RGB888(f.At(0, 0))
		l.WriteLineString(fmt.Sprintf("splash: frame %d crc32=0x%08x first=#%02x%02x%02x", n, crc32.ChecksumIEEE(f.Buffer()), r, g, b))
		n++
		return nil
	}
}
