//go:build !tinygo

package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"maix/fatvol"
	"maix/sdcard"
)

// readBatch caps the blocks fetched per driver call.
const readBatch = 32

func readBlocks(w io.Writer, s *session, first, count uint, outPath string) error {
	start, n, err := blockRange(first, count)
	if err != nil {
		return err
	}
	out := w
	var dump io.WriteCloser
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		out = f
	} else {
		dump = hex.Dumper(w)
		out = dump
	}

	buf := make([]sdcard.Block, readBatch)
	for n > 0 {
		batch := n
		if batch > readBatch {
			batch = readBatch
		}
		if err := s.dev.ReadBlocks(buf[:batch], start); err != nil {
			return err
		}
		for i := 0; i < batch; i++ {
			if _, err := out.Write(buf[i][:]); err != nil {
				return err
			}
		}
		start += sdcard.BlockIndex(batch)
		n -= batch
	}
	if dump != nil {
		return dump.Close()
	}
	return nil
}

// writeBlocks writes data from block first on and returns the number of
// blocks written.
func writeBlocks(s *session, first uint, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	blocks := make([]sdcard.Block, (len(data)+sdcard.BlockSize-1)/sdcard.BlockSize)
	for i := range blocks {
		copy(blocks[i][:], data[i*sdcard.BlockSize:])
	}
	start, _, err := blockRange(first, uint(len(blocks)))
	if err != nil {
		return 0, err
	}
	if err := s.dev.WriteBlocks(blocks, start); err != nil {
		return 0, err
	}
	return len(blocks), nil
}

func listDir(w io.Writer, vol *fatvol.Volume, dir string) error {
	return vol.ListDir(dir, func(e fatvol.Entry) bool {
		if e.Dir {
			fmt.Fprintf(w, "%10s  %s/\n", "-", e.Name)
		} else {
			fmt.Fprintf(w, "%10d  %s\n", e.Size, e.Name)
		}
		return true
	})
}
