package sdcard

import (
	"fmt"
	"io"
	"os"

	"tinygo.org/x/tinyfs"
)

// diskRun is the largest number of blocks moved per multi-block transfer.
const diskRun = 8

// Disk exposes an initialized Device as a byte-addressed tinyfs.BlockDevice
// so a FAT layer can sit on top of it.
type Disk struct {
	dev     *Device
	size    int64
	scratch [diskRun]Block
}

var _ tinyfs.BlockDevice = (*Disk)(nil)

// NewDisk wraps dev, which must already be initialized.
func NewDisk(dev *Device) (*Disk, error) {
	n, err := dev.NumBlocks()
	if err != nil {
		return nil, err
	}
	return &Disk{dev: dev, size: int64(n) * BlockSize}, nil
}

func (d *Disk) Size() int64           { return d.size }
func (d *Disk) WriteBlockSize() int64 { return BlockSize }
func (d *Disk) EraseBlockSize() int64 { return BlockSize }

func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("sdcard: read at %d: %w", off, os.ErrInvalid)
	}
	if off >= d.size {
		return 0, io.EOF
	}
	var eof error
	if rem := d.size - off; int64(len(p)) > rem {
		p = p[:rem]
		eof = io.EOF
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		first := pos / BlockSize
		within := int(pos % BlockSize)
		count := (within + len(p) - n + BlockSize - 1) / BlockSize
		if count > diskRun {
			count = diskRun
		}
		if err := d.dev.ReadBlocks(d.scratch[:count], BlockIndex(first)); err != nil {
			return n, err
		}
		for i := 0; i < count && n < len(p); i++ {
			src := d.scratch[i][:]
			if i == 0 {
				src = src[within:]
			}
			n += copy(p[n:], src)
		}
	}
	return n, eof
}

func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("sdcard: write %d bytes at %d: %w", len(p), off, os.ErrInvalid)
	}
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		first := BlockIndex(pos / BlockSize)
		within := int(pos % BlockSize)
		if within != 0 || len(p)-n < BlockSize {
			// Partial block: read, patch, write back.
			blk := d.scratch[:1]
			if err := d.dev.ReadBlocks(blk, first); err != nil {
				return n, err
			}
			c := copy(blk[0][within:], p[n:])
			if err := d.dev.WriteBlocks(blk, first); err != nil {
				return n, err
			}
			n += c
			continue
		}
		count := (len(p) - n) / BlockSize
		if count > diskRun {
			count = diskRun
		}
		for i := 0; i < count; i++ {
			copy(d.scratch[i][:], p[n+i*BlockSize:])
		}
		if err := d.dev.WriteBlocks(d.scratch[:count], first); err != nil {
			return n, err
		}
		n += count * BlockSize
	}
	return n, nil
}

// EraseBlocks zero-fills n erase blocks starting at erase block start.
func (d *Disk) EraseBlocks(start, n int64) error {
	if start < 0 || n < 0 || (start+n)*BlockSize > d.size {
		return fmt.Errorf("sdcard: erase %d blocks at %d: %w", n, start, os.ErrInvalid)
	}
	d.scratch = [diskRun]Block{}
	for n > 0 {
		count := int64(diskRun)
		if n < count {
			count = n
		}
		if err := d.dev.WriteBlocks(d.scratch[:count], BlockIndex(start)); err != nil {
			return err
		}
		start += count
		n -= count
	}
	return nil
}
