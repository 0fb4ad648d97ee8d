//go:build !tinygo

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"maix/fatvol"
	"maix/hal"
	"maix/sdcard"
	"maix/sdcard/sdsim"
)

// session is one initialized card plus whatever backs it.
type session struct {
	dev     *sdcard.Device
	info    sdcard.CardInfo
	backing io.Closer
	vol     *fatvol.Volume
}

func openSession(c *cli.Context, logger *zap.Logger) (*session, error) {
	var bus hal.SDCardBus
	var backing io.Closer
	switch {
	case c.String(flagSPI) != "":
		b, port, err := hal.OpenPeriphCard(c.String(flagSPI), c.String(flagCS))
		if err != nil {
			return nil, err
		}
		bus, backing = b, port
	case c.String(flagImage) != "":
		card, err := sdsim.OpenImage(afero.NewOsFs(), c.String(flagImage), sdsim.Options{CSize: uint32(c.Uint(flagCSize))})
		if err != nil {
			return nil, err
		}
		bus, backing = card.Bus(), card
	default:
		return nil, errors.New("one of --spi or --image is required")
	}

	dev := sdcard.New(bus.SPI, bus.CS, sdcard.Config{
		SlaveSelect: bus.SlaveSelect,
		CRC:         c.Bool(flagCRC),
		Logger:      hal.NewZapLogger(logger.Named("sdcard")),
	})
	info, err := dev.Init()
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("init: %w", err), backing.Close())
	}
	return &session{dev: dev, info: info, backing: backing}, nil
}

func (s *session) mount() (*fatvol.Volume, error) {
	if s.vol != nil {
		return s.vol, nil
	}
	disk, err := sdcard.NewDisk(s.dev)
	if err != nil {
		return nil, err
	}
	vol, err := fatvol.Mount(disk)
	if err != nil {
		return nil, err
	}
	s.vol = vol
	return vol, nil
}

func (s *session) Close() error {
	var err error
	if s.vol != nil {
		err = multierr.Append(err, s.vol.Unmount())
	}
	return multierr.Append(err, s.backing.Close())
}

func withSession(c *cli.Context, logger *zap.Logger, fn func(*session) error) (err error) {
	s, err := openSession(c, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Combine(err, s.Close()) }()
	return fn(s)
}
