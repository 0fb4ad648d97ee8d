package sdsim

import "maix/internal/sdcrc"

func (c *Card) csd() [16]byte {
	var csd [16]byte
	if c.opts.CSDVersion1 {
		// 2 GB standard-capacity layout with C_SIZE spread across bytes 6-8.
		csd = [16]byte{0x00, 0x26, 0x00, 0x32, 0x5F, 0x5A, 0x83, 0xAE, 0xFE, 0xFB, 0xCF, 0xFF, 0x92, 0x80, 0x40}
	} else {
		size := c.opts.CSize
		csd = [16]byte{
			0x40, 0x0E, 0x00, 0x32, 0x5B, 0x59, 0x00,
			byte(size>>16) & 0x3F, byte(size >> 8), byte(size),
			0x7F, 0x80, 0x0A, 0x40, 0x00,
		}
	}
	csd[15] = sdcrc.CommandCRC(csd[:15])
	return csd
}

func cid() [16]byte {
	reg := [16]byte{
		0x03, 'S', 'D', 'M', 'A', 'I', 'X', '1',
		0x21,
		0x12, 0x34, 0x56, 0x78,
		0x01, 0x8A,
	}
	reg[15] = sdcrc.CommandCRC(reg[:15])
	return reg
}
