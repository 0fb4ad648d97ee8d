package sdcard

import (
	"errors"
	"strings"
	"testing"
)

func TestCSDBlockCount(t *testing.T) {
	var csd CSD
	csd[0] = 0x40
	csd[7], csd[8], csd[9] = 0x00, 0x10, 0x00

	if got := csd.CSize(); got != 0x1000 {
		t.Fatalf("CSize = %#x, want 0x1000", got)
	}
	n, err := csd.BlockCount()
	if err != nil {
		t.Fatalf("BlockCount: %v", err)
	}
	if n != 0x1001*1000 {
		t.Fatalf("BlockCount = %d, want %d", n, 0x1001*1000)
	}
}

func TestCSDSizeUsesSixBitsOfByte7(t *testing.T) {
	var csd CSD
	csd[0] = 0x40
	csd[7], csd[8], csd[9] = 0xFF, 0xFF, 0xFF
	if got := csd.CSize(); got != 0x3FFFFF {
		t.Fatalf("CSize = %#x, want 0x3fffff", got)
	}
}

func TestCSDVersion1Rejected(t *testing.T) {
	var csd CSD
	csd[0] = 0x00
	if _, err := csd.BlockCount(); !errors.Is(err, ErrUnsupportedCard) {
		t.Fatalf("BlockCount v1 = %v, want unsupported card", err)
	}
}

func TestCSDFields(t *testing.T) {
	csd := CSD{0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59}
	if got := csd.TransferRate(); got != 25_000_000 {
		t.Fatalf("TransferRate = %d, want 25000000", got)
	}
	if got := csd.ReadBlockLength(); got != 512 {
		t.Fatalf("ReadBlockLength = %d, want 512", got)
	}
}

func TestCIDFields(t *testing.T) {
	cid := CID{0x1B, 'S', 'M', 'E', 'B', '1', 'Q', 'T', 0x30, 0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x32}
	if cid.ManufacturerID() != 0x1B {
		t.Fatalf("ManufacturerID = %#x", cid.ManufacturerID())
	}
	if got := cid.ProductName(); got != "EB1QT" {
		t.Fatalf("ProductName = %q, want EB1QT", got)
	}
	if major, minor := cid.Revision(); major != 3 || minor != 0 {
		t.Fatalf("Revision = %d.%d, want 3.0", major, minor)
	}
	if y, m := cid.ManufactureDate(); y != 2019 || m != 2 {
		t.Fatalf("ManufactureDate = %d-%d, want 2019-2", y, m)
	}
	cid[3] = 0x01
	if got := cid.ProductName(); got != "?B1QT" {
		t.Fatalf("ProductName = %q, want non-printable replaced", got)
	}
}

func TestCommandFrame(t *testing.T) {
	for _, tc := range []struct {
		cmd  Command
		arg  uint32
		crc  byte
		want [6]byte
	}{
		{CmdGoIdleState, 0, crcGoIdle, [6]byte{0x40, 0, 0, 0, 0, 0x95}},
		{CmdSendIfCond, ifCondArg, crcSendCond, [6]byte{0x48, 0, 0, 0x01, 0xAA, 0x87}},
		{AcmdSendOpCond, opCondHCS, 0, [6]byte{0x69, 0x40, 0, 0, 0, 0x01}},
		{CmdReadSingleBlock, 0x01020304, 0, [6]byte{0x51, 1, 2, 3, 4, 0x01}},
	} {
		if got := tc.cmd.Frame(tc.arg, tc.crc); got != tc.want {
			t.Fatalf("%v.Frame = % x, want % x", tc.cmd, got, tc.want)
		}
	}
	if got := AcmdSendOpCond.String(); got != "ACMD41" {
		t.Fatalf("String = %q", got)
	}
	if got := CmdReadOCR.String(); got != "CMD58" {
		t.Fatalf("String = %q", got)
	}
}

func TestCardInfoCapacity(t *testing.T) {
	info := CardInfo{Blocks: 2048, OCR: 0xC0FF8000}
	if got := info.CapacityBytes(); got != 1<<20 {
		t.Fatalf("CapacityBytes = %d, want 1MiB", got)
	}
	if !info.HighCapacity() {
		t.Fatal("expected high capacity")
	}
}

func TestErrorMessagesHexWidth(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want string
	}{
		{r1Error(0x05), "R1 0x05"},
		{r1Error(noResponse), "no response"},
		{dataResponse(0x0B), "sdcard: crc error: data response 0x0b"},
		{dataResponse(0xE9), "sdcard: unknown data response: 0xe9"},
	} {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
	cid := CID{0x03, 'S', 'D'}
	if s := cid.String(); !strings.HasPrefix(s, "mid=0x03 ") || !strings.Contains(s, "psn=0x00000000") {
		t.Fatalf("CID.String = %q", s)
	}
}
