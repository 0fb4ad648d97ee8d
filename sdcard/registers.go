package sdcard

import (
	"fmt"
	"strings"
)

// BlockSize is the fixed transfer unit of SDHC/SDXC cards.
const BlockSize = 512

// Block is one 512-byte data block.
type Block [BlockSize]byte

// BlockIndex addresses a block; SDHC/SDXC cards use block addressing.
type BlockIndex uint32

// BlockCount is a number of blocks.
type BlockCount uint32

// CSD is the 16-byte card-specific data register.
type CSD [16]byte

// Structure returns CSD_STRUCTURE: 0 for v1 (SDSC), 1 for v2 (SDHC/SDXC).
func (c CSD) Structure() uint8 { return c[0] >> 6 }

// CSize returns the 22-bit v2 C_SIZE field.
func (c CSD) CSize() uint32 {
	return uint32(c[7]&0x3F)<<16 | uint32(c[8])<<8 | uint32(c[9])
}

// ReadBlockLength returns 2^READ_BL_LEN in bytes.
func (c CSD) ReadBlockLength() int { return 1 << (c[5] & 0x0F) }

// TransferRate returns TRAN_SPEED in bits per second.
func (c CSD) TransferRate() uint32 {
	units := [...]uint32{100_000, 1_000_000, 10_000_000, 100_000_000}
	// Multipliers are scaled by 10.
	mults := [...]uint32{0, 10, 12, 13, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60, 70, 80}
	u := c[3] & 0x07
	if int(u) >= len(units) {
		return 0
	}
	return units[u] / 10 * mults[(c[3]>>3)&0x0F]
}

// BlockCount returns the card capacity in blocks, (C_SIZE+1)*1000.
// This stays below the nominal (C_SIZE+1)*1024 of the physical card.
func (c CSD) BlockCount() (BlockCount, error) {
	if v := c.Structure(); v != 1 {
		return 0, fmt.Errorf("%w: CSD structure v%d", ErrUnsupportedCard, v+1)
	}
	return BlockCount((c.CSize() + 1) * 1000), nil
}

// CID is the 16-byte card identification register.
type CID [16]byte

func (c CID) ManufacturerID() uint8 { return c[0] }
func (c CID) OEMID() string         { return printable(c[1:3]) }
func (c CID) ProductName() string   { return printable(c[3:8]) }

// Revision returns the product revision as major, minor.
func (c CID) Revision() (major, minor uint8) { return c[8] >> 4, c[8] & 0x0F }

func (c CID) Serial() uint32 {
	return uint32(c[9])<<24 | uint32(c[10])<<16 | uint32(c[11])<<8 | uint32(c[12])
}

// ManufactureDate returns the year (2000-2255) and month (1-12).
func (c CID) ManufactureDate() (year, month int) {
	y := int(c[13]&0x0F)<<4 | int(c[14]>>4)
	return 2000 + y, int(c[14] & 0x0F)
}

func (c CID) String() string {
	major, minor := c.Revision()
	year, month := c.ManufactureDate()
	return fmt.Sprintf("mid=0x%02x oem=%q pnm=%q rev=%d.%d psn=0x%08x mdt=%04d-%02d",
		c.ManufacturerID(), c.OEMID(), c.ProductName(), major, minor, c.Serial(), year, month)
}

func printable(b []byte) string {
	var sb strings.Builder
	for _, ch := range b {
		if ch < 0x20 || ch > 0x7E {
			ch = '?'
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

// CardInfo describes an initialized card.
type CardInfo struct {
	Blocks BlockCount
	OCR    uint32
	CSD    CSD
}

// CapacityBytes returns the addressable capacity in bytes.
func (i CardInfo) CapacityBytes() uint64 { return uint64(i.Blocks) * BlockSize }

// HighCapacity reports the OCR CCS bit (SDHC/SDXC).
func (i CardInfo) HighCapacity() bool { return i.OCR&ocrCCS != 0 }
