//go:build !tinygo

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"maix/app"
	"maix/hal"
	"maix/sdcard"
	"maix/sdcard/sdsim"
)

type options struct {
	image   string
	csize   uint
	spi     string
	cs      string
	detect  string
	mount   bool
	crc     bool
	verbose bool
	splash  app.Splash
}

func main() {
	var o options
	flag.StringVar(&o.image, "image", "card.img", "Card image backing the simulated card.")
	flag.UintVar(&o.csize, "csize", 63, "CSD C_SIZE of the simulated card.")
	flag.StringVar(&o.spi, "spi", "", "Boot against a spidev port (e.g. SPI0.0) instead of the image.")
	flag.StringVar(&o.cs, "cs", "GPIO8", "Chip-select GPIO line for -spi.")
	flag.StringVar(&o.detect, "cd", "", "Card-detect GPIO line (active low); with the image, names the simulated switch.")
	flag.BoolVar(&o.mount, "mount", false, "Mount the FAT filesystem and list its root.")
	flag.BoolVar(&o.crc, "crc", false, "Enable command and data CRC checking.")
	flag.BoolVar(&o.verbose, "verbose", false, "Log at debug level.")
	flag.IntVar(&o.splash.Frames, "splash", 0, "Play this many raw RGB565 frames from the card after boot.")
	flag.IntVar(&o.splash.Width, "splash-width", 320, "Splash frame width.")
	flag.IntVar(&o.splash.Height, "splash-height", 240, "Splash frame height.")
	flag.Int64Var(&o.splash.Offset, "splash-offset", 0, "Byte offset of the first splash frame.")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(o options) (err error) {
	zcfg := zap.NewProductionConfig()
	if o.verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var bus hal.SDCardBus
	var backing io.Closer
	var pins []hal.GPIOPin
	if o.spi != "" {
		b, port, err := hal.OpenPeriphCard(o.spi, o.cs)
		if err != nil {
			return err
		}
		bus, backing = b, port
		if o.detect != "" {
			pin, err := hal.OpenPeriphPin(o.detect)
			if err != nil {
				return multierr.Append(err, port.Close())
			}
			pins = append(pins, pin)
		}
	} else {
		card, err := sdsim.OpenImage(afero.NewOsFs(), o.image, sdsim.Options{CSize: uint32(o.csize)})
		if err != nil {
			return err
		}
		bus, backing = card.Bus(), card
		if o.detect != "" {
			pins = append(pins, card.DetectPin(o.detect))
		}
	}
	defer func() { err = multierr.Append(err, backing.Close()) }()

	h := hal.New(hal.HostConfig{Logger: hal.NewZapLogger(logger), SDCard: &bus, Pins: pins})
	sys, err := app.Boot(h, app.Config{SD: sdcard.Config{CRC: o.crc}, Mount: o.mount, CardDetect: o.detect})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sys.Close()) }()

	if o.splash.Frames > 0 {
		disk := sys.Disk
		if disk == nil {
			if disk, err = sdcard.NewDisk(sys.Card); err != nil {
				return err
			}
		}
		if _, err := app.PlaySplash(context.Background(), disk, o.splash, app.LogFrames(h.Logger())); err != nil {
			return err
		}
	}
	return nil
}
