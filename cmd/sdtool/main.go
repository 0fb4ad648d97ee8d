//go:build !tinygo

// Command sdtool inspects and edits an SD card through the block driver,
// either on a Linux spidev port or a simulated card image.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"maix/internal/buildinfo"
	"maix/sdcard"
)

const (
	flagImage   = "image"
	flagCSize   = "csize"
	flagSPI     = "spi"
	flagCS      = "cs"
	flagCRC     = "crc"
	flagVerbose = "verbose"

	flagBlock = "block"
	flagCount = "count"
	flagOut   = "out"
	flagIn    = "in"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	var logger *zap.Logger

	return &cli.App{
		Name:    "sdtool",
		Usage:   "read and write SD cards through the SPI block driver",
		Version: buildinfo.Short(),
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagImage,
				Aliases: []string{"i"},
				EnvVars: []string{"MAIX_SD_IMAGE"},
				Usage:   "simulate a card backed by image `FILE`",
			},
			&cli.UintFlag{
				Name:  flagCSize,
				Value: 63,
				Usage: "CSD C_SIZE reported by the simulated card",
			},
			&cli.StringFlag{
				Name:    flagSPI,
				EnvVars: []string{"MAIX_SD_SPI"},
				Usage:   "spidev port, e.g. SPI0.0 (overrides --image)",
			},
			&cli.StringFlag{
				Name:    flagCS,
				EnvVars: []string{"MAIX_SD_CS"},
				Value:   "GPIO8",
				Usage:   "chip-select GPIO line for --spi",
			},
			&cli.BoolFlag{
				Name:  flagCRC,
				Usage: "enable command and data CRC checking",
			},
			&cli.BoolFlag{
				Name:  flagVerbose,
				Usage: "log driver progress",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagVerbose) {
				l, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				logger = l
			} else {
				logger = zap.NewNop()
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logger != nil {
				_ = logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "info",
				Usage: "print card capacity and registers",
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(s *session) error {
						return printInfo(c.App.Writer, s)
					})
				},
			},
			{
				Name:  "read",
				Usage: "read blocks",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagBlock, Aliases: []string{"b"}, Usage: "first block"},
					&cli.UintFlag{Name: flagCount, Aliases: []string{"n"}, Value: 1, Usage: "number of blocks"},
					&cli.StringFlag{Name: flagOut, Aliases: []string{"o"}, Usage: "write raw blocks to `FILE` instead of a hex dump"},
				},
				Action: func(c *cli.Context) error {
					return withSession(c, logger, func(s *session) error {
						return readBlocks(c.App.Writer, s, c.Uint(flagBlock), c.Uint(flagCount), c.String(flagOut))
					})
				},
			},
			{
				Name:  "write",
				Usage: "write a file to consecutive blocks, zero-padding the last one",
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagBlock, Aliases: []string{"b"}, Usage: "first block"},
					&cli.StringFlag{Name: flagIn, Required: true, Usage: "source `FILE`"},
				},
				Action: func(c *cli.Context) error {
					data, err := os.ReadFile(c.String(flagIn))
					if err != nil {
						return err
					}
					return withSession(c, logger, func(s *session) error {
						n, err := writeBlocks(s, c.Uint(flagBlock), data)
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "wrote %d blocks at %d\n", n, c.Uint(flagBlock))
						return nil
					})
				},
			},
			{
				Name:      "ls",
				Usage:     "list a directory of the FAT filesystem",
				ArgsUsage: "[PATH]",
				Action: func(c *cli.Context) error {
					dir := "/"
					if c.Args().Present() {
						dir = c.Args().First()
					}
					return withSession(c, logger, func(s *session) error {
						vol, err := s.mount()
						if err != nil {
							return err
						}
						return listDir(c.App.Writer, vol, dir)
					})
				},
			},
			{
				Name:      "cat",
				Usage:     "print a file from the FAT filesystem",
				ArgsUsage: "PATH",
				Action: func(c *cli.Context) error {
					if !c.Args().Present() {
						return errors.New("cat: PATH required")
					}
					return withSession(c, logger, func(s *session) error {
						vol, err := s.mount()
						if err != nil {
							return err
						}
						data, err := vol.ReadFile(c.Args().First())
						if err != nil {
							return err
						}
						_, err = c.App.Writer.Write(data)
						return err
					})
				},
			},
		},
	}
}

func printInfo(w io.Writer, s *session) error {
	info := s.info
	fmt.Fprintf(w, "blocks:     %d\n", info.Blocks)
	fmt.Fprintf(w, "capacity:   %d bytes\n", info.CapacityBytes())
	fmt.Fprintf(w, "ocr:        0x%08x (ccs=%t)\n", info.OCR, info.HighCapacity())
	fmt.Fprintf(w, "csd:        v%d c_size=%#x tran_speed=%d\n", info.CSD.Structure()+1, info.CSD.CSize(), info.CSD.TransferRate())
	cid, err := s.dev.CID()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "cid:        %s\n", cid)
	return nil
}

func blockRange(first, count uint) (sdcard.BlockIndex, int, error) {
	if count == 0 {
		return 0, 0, errors.New("count must be positive")
	}
	if uint64(first) > 0xFFFFFFFF {
		return 0, 0, fmt.Errorf("block %d: %w", first, sdcard.ErrOutOfRange)
	}
	return sdcard.BlockIndex(first), int(count), nil
}
