//go:build !tinygo

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"maix/fatvol"
	"maix/hal"
	"maix/sdcard"
	"maix/sdcard/sdsim"
)

const (
	defaultImagePath = "card.img"
	// defaultCSize gives a 32 MiB image.
	defaultCSize = 63
)

func main() {
	var srcDir string
	var outPath string
	var csize uint
	flag.StringVar(&srcDir, "src", "", "Source directory to copy onto the card.")
	flag.StringVar(&outPath, "out", defaultImagePath, "Output card image path.")
	flag.UintVar(&csize, "csize", defaultCSize, "CSD C_SIZE; the image holds (csize+1)*512 KiB.")
	flag.Parse()

	if srcDir == "" {
		fmt.Fprintln(os.Stderr, "error: -src is required")
		os.Exit(2)
	}
	if outPath == "" {
		fmt.Fprintln(os.Stderr, "error: -out is required")
		os.Exit(2)
	}

	if err := run(afero.NewOsFs(), srcDir, outPath, uint32(csize)); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openImage creates a zeroed image covering the card's physical capacity.
func openImage(osfs afero.Fs, path string, csize uint32) (*sdsim.Card, error) {
	if csize == 0 || csize > 0x3FFFFF {
		return nil, fmt.Errorf("card: invalid C_SIZE %d", csize)
	}
	f, err := osfs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open card image %q: %w", path, err)
	}
	size := int64(csize+1) * 1024 * sdsim.BlockSize
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("truncate card image %q to %d: %w", path, size, err)
	}
	return sdsim.New(f, sdsim.Options{CSize: csize})
}

func run(osfs afero.Fs, srcDir string, outPath string, csize uint32) error {
	srcDir = filepath.Clean(srcDir)
	st, err := osfs.Stat(srcDir)
	if err != nil {
		return fmt.Errorf("stat src %q: %w", srcDir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("src %q is not a directory", srcDir)
	}

	card, err := openImage(osfs, outPath, csize)
	if err != nil {
		return err
	}
	defer func() { _ = card.Close() }()

	dev := sdcard.New(card, card.CS(), sdcard.Config{Delay: hal.DelayFunc(func(uint32) {})})
	if _, err := dev.Init(); err != nil {
		return fmt.Errorf("card init: %w", err)
	}
	disk, err := sdcard.NewDisk(dev)
	if err != nil {
		return err
	}

	vol, err := fatvol.Format(disk)
	if err != nil {
		return err
	}
	defer func() { _ = vol.Unmount() }()

	var dirs []string
	var files []string
	walkErr := afero.Walk(osfs, srcDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		fatPath := "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			dirs = append(dirs, fatPath)
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, fatPath)
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk src %q: %w", srcDir, walkErr)
	}

	sort.Strings(dirs)
	sort.Strings(files)

	for _, d := range dirs {
		if err := vol.Mkdir(d); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("mkdir %q: %w", d, err)
		}
	}

	for _, fpath := range files {
		hostPath := filepath.Join(srcDir, filepath.FromSlash(strings.TrimPrefix(fpath, "/")))
		if err := copyFile(osfs, vol, hostPath, fpath); err != nil {
			return err
		}
	}

	return vol.Unmount()
}

func copyFile(osfs afero.Fs, vol *fatvol.Volume, hostPath string, fatPath string) error {
	in, err := osfs.Open(hostPath)
	if err != nil {
		return fmt.Errorf("open %q: %w", hostPath, err)
	}
	defer func() { _ = in.Close() }()

	w, err := vol.OpenWriter(fatPath)
	if err != nil {
		return fmt.Errorf("open writer %q: %w", fatPath, err)
	}

	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(w, in, buf); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy %q: %w", fatPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %q: %w", fatPath, err)
	}
	return nil
}
