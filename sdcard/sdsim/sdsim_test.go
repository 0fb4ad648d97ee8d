package sdsim_test

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"

	"maix/hal"
	"maix/sdcard"
	"maix/sdcard/sdsim"
)

var goIdle = []byte{0x40, 0, 0, 0, 0, 0x95}

func sendGoIdle(t *testing.T, card *sdsim.Card) []byte {
	t.Helper()
	cs := card.CS()
	cs.Low()
	defer cs.High()
	w := append(append([]byte{}, goIdle...), bytes.Repeat([]byte{0xFF}, 8)...)
	r := make([]byte, len(w))
	if err := card.Tx(w, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	return r
}

func TestCardNeedsWakeClocks(t *testing.T) {
	card, err := sdsim.New(nil, sdsim.Options{CSize: 7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer card.Close()

	if r := sendGoIdle(t, card); bytes.IndexByte(r, 0x01) >= 0 {
		t.Fatalf("card answered before wake clocks: % x", r)
	}

	if err := card.Tx(bytes.Repeat([]byte{0xFF}, 10), nil); err != nil {
		t.Fatalf("wake: %v", err)
	}
	r := sendGoIdle(t, card)
	if bytes.IndexByte(r[6:], 0x01) < 0 {
		t.Fatalf("no idle response after wake: % x", r)
	}
	if cmds := card.Commands(); len(cmds) != 1 || cmds[0].Cmd != 0 {
		t.Fatalf("commands = %v, want [CMD0]", cmds)
	}
}

func TestCardRejectsBadCommandCRC(t *testing.T) {
	card, err := sdsim.New(nil, sdsim.Options{CSize: 7})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer card.Close()
	_ = card.Tx(bytes.Repeat([]byte{0xFF}, 10), nil)

	cs := card.CS()
	cs.Low()
	w := []byte{0x40, 0, 0, 0, 0, 0x01, 0xFF, 0xFF, 0xFF}
	r := make([]byte, len(w))
	if err := card.Tx(w, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	cs.High()
	resp := byte(0xFF)
	for _, b := range r[6:] {
		if b != 0xFF {
			resp = b
			break
		}
	}
	if resp == 0xFF || resp&0x08 == 0 {
		t.Fatalf("response % x lacks the CRC error bit", r[6:])
	}
}

func TestImagePersists(t *testing.T) {
	fs := afero.NewMemMapFs()
	noDelay := hal.DelayFunc(func(uint32) {})
	want := sdcard.Block{}
	copy(want[:], "persisted block")

	card, err := sdsim.OpenImage(fs, "/cards/a.img", sdsim.Options{CSize: 7})
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	dev := sdcard.New(card, card.CS(), sdcard.Config{Delay: noDelay})
	if _, err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := dev.WriteBlocks([]sdcard.Block{want}, 5); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}
	if err := card.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw, err := afero.ReadFile(fs, "/cards/a.img")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) < 6*sdsim.BlockSize || !bytes.Equal(raw[5*sdsim.BlockSize:6*sdsim.BlockSize], want[:]) {
		t.Fatalf("image holds %d bytes without block 5", len(raw))
	}

	card, err = sdsim.OpenImage(fs, "/cards/a.img", sdsim.Options{CSize: 7})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer card.Close()
	dev = sdcard.New(card, card.CS(), sdcard.Config{Delay: noDelay})
	if _, err := dev.Init(); err != nil {
		t.Fatalf("Init after reopen: %v", err)
	}
	got := make([]sdcard.Block, 1)
	if err := dev.ReadBlocks(got, 5); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if got[0] != want {
		t.Fatal("block 5 not persisted across reopen")
	}
}

func TestEventString(t *testing.T) {
	for _, tc := range []struct {
		ev   sdsim.Event
		want string
	}{
		{sdsim.Event{Kind: sdsim.EventCommand, Cmd: 17, Arg: 0x20}, "CMD17(0x20)"},
		{sdsim.Event{Kind: sdsim.EventCommand, Cmd: 41, App: true, Arg: 0x40000000}, "ACMD41(0x40000000)"},
		{sdsim.Event{Kind: sdsim.EventDataSent, Block: 3}, "data-out 3"},
		{sdsim.Event{Kind: sdsim.EventDataReceived, Block: 50, Status: 0x05}, "data-in 50 status 0x05"},
		{sdsim.Event{Kind: sdsim.EventStopToken}, "stop-token"},
		{sdsim.Event{Kind: sdsim.EventClock, Hz: 200 * hal.KHz}, "clock 200kHz"},
	} {
		if got := tc.ev.String(); got != tc.want {
			t.Fatalf("String = %q, want %q", got, tc.want)
		}
	}
}

func TestDetectPin(t *testing.T) {
	for _, tc := range []struct {
		noCard  bool
		present bool
	}{
		{false, true},
		{true, false},
	} {
		card, err := sdsim.New(nil, sdsim.Options{CSize: 7, NoCard: tc.noCard})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		pin := card.DetectPin("SD_DET")
		if _, err := pin.Read(); err == nil {
			t.Fatal("expected error reading unconfigured pin")
		}
		present, err := hal.CardPresent(pin)
		if err != nil {
			t.Fatalf("CardPresent: %v", err)
		}
		if present != tc.present {
			t.Fatalf("NoCard=%v: present = %v, want %v", tc.noCard, present, tc.present)
		}
		if err := pin.Write(true); err == nil {
			t.Fatal("expected write to input-only pin to fail")
		}
		if err := pin.Configure(hal.GPIOModeOutput, hal.GPIOPullNone); err == nil {
			t.Fatal("expected output mode to be rejected")
		}
		_ = card.Close()
	}
}
