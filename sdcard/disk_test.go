package sdcard

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"

	"maix/sdcard/sdsim"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	dev, _ := initDevice(t, sdsim.Options{}, Config{})
	disk, err := NewDisk(dev)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	return disk
}

func TestDiskSize(t *testing.T) {
	disk := newTestDisk(t)
	if want := int64((testCSize+1)*1000) * BlockSize; disk.Size() != want {
		t.Fatalf("Size = %d, want %d", disk.Size(), want)
	}
	if disk.WriteBlockSize() != BlockSize || disk.EraseBlockSize() != BlockSize {
		t.Fatalf("block sizes = %d/%d", disk.WriteBlockSize(), disk.EraseBlockSize())
	}
}

func TestDiskUnalignedRoundTrip(t *testing.T) {
	disk := newTestDisk(t)

	payload := make([]byte, 11*BlockSize+123)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	const off = 3*BlockSize + 77
	if n, err := disk.WriteAt(payload, off); err != nil || n != len(payload) {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}

	got := make([]byte, len(payload))
	if n, err := disk.ReadAt(got, off); err != nil || n != len(got) {
		t.Fatalf("ReadAt = %d, %v", n, err)
	}
	if !bytes.Equal(payload, got) {
		t.Fatal("read back differs from written payload")
	}

	// Bytes around the write keep their previous (zero) contents.
	edge := make([]byte, 77)
	if _, err := disk.ReadAt(edge, 3*BlockSize); err != nil {
		t.Fatalf("ReadAt head: %v", err)
	}
	if !bytes.Equal(edge, make([]byte, 77)) {
		t.Fatal("bytes before the write were modified")
	}
}

func TestDiskReadAtEnd(t *testing.T) {
	disk := newTestDisk(t)

	buf := make([]byte, 64)
	n, err := disk.ReadAt(buf, disk.Size()-16)
	if n != 16 || !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt tail = %d, %v, want 16, EOF", n, err)
	}
	if _, err := disk.ReadAt(buf, disk.Size()); !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt past end = %v, want EOF", err)
	}
	if _, err := disk.ReadAt(buf, -1); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("ReadAt negative = %v, want invalid", err)
	}
}

func TestDiskWriteAtOutOfRange(t *testing.T) {
	disk := newTestDisk(t)
	if _, err := disk.WriteAt(make([]byte, 2), disk.Size()-1); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("WriteAt across end = %v, want invalid", err)
	}
}

func TestDiskEraseBlocks(t *testing.T) {
	disk := newTestDisk(t)

	ones := bytes.Repeat([]byte{0xA5}, 12*BlockSize)
	if _, err := disk.WriteAt(ones, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if err := disk.EraseBlocks(1, 10); err != nil {
		t.Fatalf("EraseBlocks: %v", err)
	}

	got := make([]byte, len(ones))
	if _, err := disk.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got[:BlockSize], ones[:BlockSize]) {
		t.Fatal("block 0 was erased")
	}
	if !bytes.Equal(got[BlockSize:11*BlockSize], make([]byte, 10*BlockSize)) {
		t.Fatal("blocks 1-10 not zeroed")
	}
	if !bytes.Equal(got[11*BlockSize:], ones[11*BlockSize:]) {
		t.Fatal("block 11 was erased")
	}
	if err := disk.EraseBlocks(0, disk.Size()/BlockSize+1); !errors.Is(err, os.ErrInvalid) {
		t.Fatalf("EraseBlocks past end = %v, want invalid", err)
	}
}
