// Package fatvol mounts a FAT filesystem on a block device and exposes the
// handful of file operations the boot path and host tools need.
package fatvol

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/fatfs"
)

var errNotReady = errors.New("fat: not ready")

// Entry is one directory entry.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Volume is a mounted FAT filesystem.
type Volume struct {
	fat *fatfs.FATFS
}

func newFAT(dev tinyfs.BlockDevice) *fatfs.FATFS {
	return fatfs.New(dev).Configure(&fatfs.Config{SectorSize: fatfs.SectorSize})
}

// Mount mounts an existing filesystem. Removable media is never formatted here.
func Mount(dev tinyfs.BlockDevice) (*Volume, error) {
	fat := newFAT(dev)
	if err := fat.Mount(); err != nil {
		return nil, mapFatErr("mount", err)
	}
	return &Volume{fat: fat}, nil
}

// Format creates a fresh filesystem on dev and mounts it.
func Format(dev tinyfs.BlockDevice) (*Volume, error) {
	fat := newFAT(dev)
	if err := fat.Format(); err != nil {
		return nil, mapFatErr("format", err)
	}
	if err := fat.Mount(); err != nil {
		return nil, mapFatErr("mount", err)
	}
	return &Volume{fat: fat}, nil
}

func (v *Volume) Unmount() error {
	if v == nil || v.fat == nil {
		return nil
	}
	err := v.fat.Unmount()
	v.fat = nil
	return mapFatErr("unmount", err)
}

// ListDir calls fn for each entry of dir until fn returns false.
func (v *Volume) ListDir(dir string, fn func(Entry) bool) error {
	if v == nil || v.fat == nil {
		return errNotReady
	}
	f, err := v.fat.OpenFile(dir, os.O_RDONLY)
	if err != nil {
		return mapFatErr("open dir", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := f.Readdir(0)
	if err != nil {
		return mapFatErr("readdir", err)
	}
	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		if !fn(Entry{Name: name, Dir: e.IsDir(), Size: e.Size()}) {
			return nil
		}
	}
	return nil
}

func (v *Volume) Stat(name string) (Entry, error) {
	if v == nil || v.fat == nil {
		return Entry{}, errNotReady
	}
	fi, err := v.fat.Stat(name)
	if err != nil {
		return Entry{}, mapFatErr("stat", err)
	}
	return Entry{Name: fi.Name(), Dir: fi.IsDir(), Size: fi.Size()}, nil
}

func (v *Volume) Mkdir(name string) error {
	if v == nil || v.fat == nil {
		return errNotReady
	}
	return mapFatErr("mkdir", v.fat.Mkdir(name, 0o777))
}

// MkdirAll creates name and any missing parents.
func (v *Volume) MkdirAll(name string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(path.Clean(name), "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		cur += "/" + part
		err := v.Mkdir(cur)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

func (v *Volume) ReadFile(name string) ([]byte, error) {
	if v == nil || v.fat == nil {
		return nil, errNotReady
	}
	f, err := v.fat.OpenFile(name, os.O_RDONLY)
	if err != nil {
		return nil, mapFatErr("open", err)
	}
	defer func() { _ = f.Close() }()

	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			return out, nil
		}
		if err != nil {
			return out, mapFatErr("read", err)
		}
	}
}

// WriteFile creates or truncates name and writes data to it.
func (v *Volume) WriteFile(name string, data []byte) error {
	w, err := v.OpenWriter(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// OpenWriter creates or truncates name for writing.
func (v *Volume) OpenWriter(name string) (io.WriteCloser, error) {
	if v == nil || v.fat == nil {
		return nil, errNotReady
	}
	f, err := v.fat.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, mapFatErr("open writer", err)
	}
	return &writer{f: f}, nil
}

type writer struct {
	f tinyfs.File
}

func (w *writer) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, errors.New("fat: write on closed writer")
	}
	total := 0
	for total < len(p) {
		n, err := w.f.Write(p[total:])
		total += n
		if err != nil {
			return total, mapFatErr("write", err)
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (w *writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return mapFatErr("close", err)
}

func mapFatErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var fr fatfs.FileResult
	if errors.As(err, &fr) {
		switch fr {
		case fatfs.FileResultNoFile, fatfs.FileResultNoPath:
			return fmt.Errorf("fat %s: %w", op, fs.ErrNotExist)
		case fatfs.FileResultExist:
			return fmt.Errorf("fat %s: %w", op, fs.ErrExist)
		case fatfs.FileResultDenied, fatfs.FileResultLocked:
			return fmt.Errorf("fat %s: %w", op, fs.ErrPermission)
		case fatfs.FileResultNoFilesystem, fatfs.FileResultInvalidName, fatfs.FileResultInvalidParameter:
			return fmt.Errorf("fat %s: %w (%v)", op, fs.ErrInvalid, err)
		default:
			return fmt.Errorf("fat %s: %w", op, err)
		}
	}

	return fmt.Errorf("fat %s: %w", op, err)
}
