package sdcard

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"maix/sdcard/sdsim"
)

func patternBlock(seed byte) Block {
	var b Block
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestWriteReadSingleBlock(t *testing.T) {
	dev, card := initDevice(t, sdsim.Options{}, Config{})

	want := []Block{patternBlock(0x5A)}
	if err := dev.WriteBlocks(want, 7); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
	card.ResetEvents()
	got := make([]Block, 1)
	if err := dev.ReadBlocks(got, 7); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("block (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint8{17}, commandIndexes(card)); diff != "" {
		t.Fatalf("single read commands (-want +got):\n%s", diff)
	}
}

func TestWriteReadMultiBlock(t *testing.T) {
	dev, card := initDevice(t, sdsim.Options{}, Config{})

	want := make([]Block, 5)
	for i := range want {
		want[i] = patternBlock(byte(i))
	}
	card.ResetEvents()
	if err := dev.WriteBlocks(want, 100); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
	var written []uint32
	for _, e := range card.Events() {
		if e.Kind == sdsim.EventDataReceived {
			written = append(written, e.Block)
		}
	}
	if diff := cmp.Diff([]uint32{100, 101, 102, 103, 104}, written); diff != "" {
		t.Fatalf("written blocks (-want +got):\n%s", diff)
	}

	got := make([]Block, 5)
	if err := dev.ReadBlocks(got, 100); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("blocks (-want +got):\n%s", diff)
	}

	window := make([]Block, 2)
	if err := dev.ReadBlocks(window, 103); err != nil {
		t.Fatalf("ReadBlocks window: %v", err)
	}
	if diff := cmp.Diff(want[3:], window); diff != "" {
		t.Fatalf("window (-want +got):\n%s", diff)
	}
}

func TestMultiReadStopsOnceAfterData(t *testing.T) {
	dev, card := initDevice(t, sdsim.Options{}, Config{})

	card.ResetEvents()
	if err := dev.ReadBlocks(make([]Block, 4), 10); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	var got []string
	for _, e := range card.Events() {
		got = append(got, e.String())
	}
	want := []string{
		"CMD18(0xa)",
		"data-out 10",
		"data-out 11",
		"data-out 12",
		"data-out 13",
		"CMD12(0x0)",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bus log (-want +got):\n%s", diff)
	}
}

func TestWriteDataResponses(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status byte
		want   error
		not    []error
	}{
		{"crc", 0b01011, ErrCRC, []error{ErrWrite, ErrUnknown}},
		{"write error", 0b01101, ErrWrite, []error{ErrCRC, ErrUnknown}},
		{"unknown", 0b00111, ErrUnknown, []error{ErrCRC, ErrWrite}},
		{"unknown high bits", 0xE9, ErrUnknown, []error{ErrCRC, ErrWrite}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status := tc.status
			dev, _ := initDevice(t, sdsim.Options{WriteStatus: func(uint32) byte { return status }}, Config{})

			err := dev.WriteBlocks([]Block{patternBlock(1)}, 3)
			if !errors.Is(err, tc.want) {
				t.Fatalf("WriteBlocks = %v, want %v", err, tc.want)
			}
			for _, other := range tc.not {
				if errors.Is(err, other) {
					t.Fatalf("WriteBlocks = %v, unexpectedly %v", err, other)
				}
			}
		})
	}
}

func TestWriteAcceptedWithHighBits(t *testing.T) {
	dev, _ := initDevice(t, sdsim.Options{WriteStatus: func(uint32) byte { return 0xE5 }}, Config{})
	if err := dev.WriteBlocks([]Block{patternBlock(9)}, 2); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
}

func TestMultiWriteFailureSendsStopToken(t *testing.T) {
	reject := func(block uint32) byte {
		if block == 52 {
			return 0b01101
		}
		return 0
	}
	dev, card := initDevice(t, sdsim.Options{WriteStatus: reject}, Config{})

	blocks := []Block{patternBlock(1), patternBlock(2), patternBlock(3), patternBlock(4)}
	card.ResetEvents()
	err := dev.WriteBlocks(blocks, 50)

	var partial *PartialWriteError
	if !errors.As(err, &partial) {
		t.Fatalf("WriteBlocks = %v, want *PartialWriteError", err)
	}
	if partial.Written != 2 || partial.Total != 4 || partial.Start != 50 {
		t.Fatalf("partial = %+v, want 2 of 4 at 50", partial)
	}
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("WriteBlocks = %v, want write error", err)
	}

	var got []string
	for _, e := range card.Events() {
		if e.Kind == sdsim.EventDataReceived || e.Kind == sdsim.EventStopToken {
			got = append(got, e.String())
		}
	}
	want := []string{
		"data-in 50 status 0x05",
		"data-in 51 status 0x05",
		"data-in 52 status 0x0d",
		"stop-token",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("bus log (-want +got):\n%s", diff)
	}

	readBack := make([]Block, 2)
	if err := dev.ReadBlocks(readBack, 50); err != nil {
		t.Fatalf("ReadBlocks after failed write: %v", err)
	}
	if diff := cmp.Diff(blocks[:2], readBack); diff != "" {
		t.Fatalf("accepted blocks (-want +got):\n%s", diff)
	}
}

func TestReadTokenTimeout(t *testing.T) {
	mock := clock.NewMock()
	dev, _ := initDevice(t,
		sdsim.Options{StallReads: true, Clock: mock, StallStep: 20 * time.Millisecond},
		Config{Clock: mock, ReadTimeout: 100 * time.Millisecond},
	)

	err := dev.ReadBlocks(make([]Block, 1), 0)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrReadDataFailed) {
		t.Fatalf("ReadBlocks = %v, want read timeout", err)
	}
	err = dev.ReadBlocks(make([]Block, 3), 0)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrReadDataFailed) {
		t.Fatalf("multi ReadBlocks = %v, want read timeout", err)
	}
}

func TestWriteBusyTimeout(t *testing.T) {
	mock := clock.NewMock()
	dev, _ := initDevice(t,
		sdsim.Options{StuckBusy: true, Clock: mock, StallStep: 50 * time.Millisecond},
		Config{Clock: mock, WriteTimeout: 200 * time.Millisecond},
	)

	err := dev.WriteBlocks([]Block{patternBlock(0)}, 1)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrWrite) {
		t.Fatalf("WriteBlocks = %v, want write timeout", err)
	}
}

func TestReadTransportFault(t *testing.T) {
	fault := errors.New("dma underrun")
	dev, _ := initDevice(t, sdsim.Options{PayloadFault: fault}, Config{})

	err := dev.ReadBlocks(make([]Block, 1), 0)
	if !errors.Is(err, ErrReadDataFailed) || !errors.Is(err, fault) {
		t.Fatalf("ReadBlocks = %v, want read failure wrapping transport fault", err)
	}
}

func TestReadPastPhysicalEnd(t *testing.T) {
	dev, _ := initDevice(t, sdsim.Options{}, Config{})
	// Drop the capacity check so the card itself rejects the address.
	dev.info.Blocks = 0
	n := BlockIndex((testCSize + 1) * 1024)

	err := dev.ReadBlocks(make([]Block, 1), n)
	if !errors.Is(err, ErrReadDataFailed) {
		t.Fatalf("ReadBlocks past card = %v, want read failure", err)
	}
}

func TestBlockRange(t *testing.T) {
	dev, _ := initDevice(t, sdsim.Options{}, Config{})
	info, _ := dev.Info()

	if err := dev.ReadBlocks(make([]Block, 2), BlockIndex(info.Blocks-1)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("ReadBlocks across end = %v, want out of range", err)
	}
	if err := dev.WriteBlocks(make([]Block, 1), BlockIndex(info.Blocks)); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("WriteBlocks at end = %v, want out of range", err)
	}
	if err := dev.ReadBlocks(make([]Block, 1), BlockIndex(info.Blocks-1)); err != nil {
		t.Fatalf("ReadBlocks last block: %v", err)
	}
	if err := dev.ReadBlocks(nil, 0); err != nil {
		t.Fatalf("ReadBlocks empty: %v", err)
	}
	if err := dev.WriteBlocks(nil, 0); err != nil {
		t.Fatalf("WriteBlocks empty: %v", err)
	}
}

func TestNumBlocks(t *testing.T) {
	dev, _ := initDevice(t, sdsim.Options{CSize: 0x1000}, Config{})
	n, err := dev.NumBlocks()
	if err != nil {
		t.Fatalf("NumBlocks: %v", err)
	}
	if n != 0x1001*1000 {
		t.Fatalf("NumBlocks = %d, want %d", n, 0x1001*1000)
	}
}
