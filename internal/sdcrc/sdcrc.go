// Package sdcrc implements the two checksums used on the SD bus: CRC7 over
// command frames and registers, CRC16-CCITT (XMODEM) over data blocks.
package sdcrc

var (
	crc7Table  [256]byte
	crc16Table [256]uint16
)

func init() {
	for i := 0; i < 256; i++ {
		c := byte(i)
		for j := 0; j < 8; j++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x09<<1
			} else {
				c <<= 1
			}
		}
		crc7Table[i] = c

		w := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if w&0x8000 != 0 {
				w = w<<1 ^ 0x1021
			} else {
				w <<= 1
			}
		}
		crc16Table[i] = w
	}
}

// CRC7 returns the 7-bit CRC (x^7 + x^3 + 1) of data, right aligned.
func CRC7(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crc7Table[crc^b]
	}
	return crc >> 1
}

// CommandCRC returns the CRC byte that ends a command frame or register:
// CRC7 shifted left with the end bit set.
func CommandCRC(data []byte) byte {
	return CRC7(data)<<1 | 0x01
}

// CRC16 returns the CRC16-CCITT of data with a zero seed.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}
