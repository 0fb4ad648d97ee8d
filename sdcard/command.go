package sdcard

import "strconv"

// Command is an SD command index in SPI mode.
type Command uint8

const (
	CmdGoIdleState        Command = 0
	CmdSendOpCond         Command = 1
	CmdSendIfCond         Command = 8
	CmdSendCSD            Command = 9
	CmdSendCID            Command = 10
	CmdStopTransmission   Command = 12
	CmdSetBlockLength     Command = 16
	CmdReadSingleBlock    Command = 17
	CmdReadMultipleBlock  Command = 18
	CmdSetBlockCount      Command = 23
	CmdWriteBlock         Command = 24
	CmdWriteMultipleBlock Command = 25
	CmdAppCmd             Command = 55
	CmdReadOCR            Command = 58
	CmdCRCOnOff           Command = 59

	// AcmdSendOpCond is only valid right after CmdAppCmd.
	AcmdSendOpCond Command = 41
)

func (c Command) String() string {
	if c == AcmdSendOpCond {
		return "ACMD41"
	}
	return "CMD" + strconv.Itoa(int(c))
}

// Frame encodes the 6-byte command frame. The end bit is always set.
func (c Command) Frame(arg uint32, crc byte) [6]byte {
	return [6]byte{
		byte(c)&0x3F | 0x40,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		crc | 0x01,
	}
}

const (
	// Fixed CRCs for the two commands a card checks before CRC_ON_OFF.
	crcGoIdle   = 0x95
	crcSendCond = 0x87

	ifCondArg     = 0x1AA
	ifCondPattern = 0x1AA
	opCondHCS     = 1 << 30
	ocrCCS        = 1 << 30
)

// R1 response bits.
const (
	r1Ready      = 0x00
	r1Idle       = 0x01
	r1IllegalCmd = 0x04
	r1ErrorMask  = 0x7E
	noResponse   = 0xFF
)

// Data tokens and data response codes.
const (
	tokenStartBlock = 0xFE
	tokenStartMulti = 0xFC
	tokenStopTran   = 0xFD

	dataResponseMask = 0x1F
	dataAccepted     = 0b00101
	dataCRCError     = 0b01011
	dataWriteError   = 0b01101
)
