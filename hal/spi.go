package hal

import (
	"errors"
	"fmt"

	"tinygo.org/x/drivers"
)

// Hertz is a bus clock rate.
type Hertz uint32

const (
	KHz Hertz = 1_000
	MHz Hertz = 1_000_000
)

func (h Hertz) String() string {
	switch {
	case h >= MHz && h%MHz == 0:
		return fmt.Sprintf("%dMHz", h/MHz)
	case h >= KHz && h%KHz == 0:
		return fmt.Sprintf("%dkHz", h/KHz)
	default:
		return fmt.Sprintf("%dHz", uint32(h))
	}
}

// SPIMode selects clock polarity and phase.
type SPIMode uint8

const (
	SPIMode0 SPIMode = iota
	SPIMode1
	SPIMode2
	SPIMode3
)

// FrameFormat selects how many data lines carry each frame.
type FrameFormat uint8

const (
	FrameStandard FrameFormat = iota
	FrameDual
	FrameQuad
	FrameOctal
)

// TransferMode selects which direction the controller services during a phase.
//
// Controllers such as the K210 only fill the receive FIFO in TransferReceive
// or TransferFull, and clock out filler bytes in TransferReceive.
type TransferMode uint8

const (
	TransferFull TransferMode = iota
	TransferTransmit
	TransferReceive
)

func (m TransferMode) String() string {
	switch m {
	case TransferFull:
		return "full"
	case TransferTransmit:
		return "transmit"
	case TransferReceive:
		return "receive"
	default:
		return fmt.Sprintf("TransferMode(%d)", uint8(m))
	}
}

// SPIConfig is the per-phase controller configuration.
type SPIConfig struct {
	Mode     SPIMode
	Frame    FrameFormat
	DataBits uint8
	LSBFirst bool
	Transfer TransferMode
}

var ErrInvalidSPIConfig = errors.New("spi: invalid config")

func (c SPIConfig) Validate() error {
	if c.Mode > SPIMode3 {
		return fmt.Errorf("%w: mode %d", ErrInvalidSPIConfig, c.Mode)
	}
	if c.Frame > FrameOctal {
		return fmt.Errorf("%w: frame format %d", ErrInvalidSPIConfig, c.Frame)
	}
	if c.DataBits < 4 || c.DataBits > 32 {
		return fmt.Errorf("%w: %d data bits", ErrInvalidSPIConfig, c.DataBits)
	}
	if c.Transfer > TransferReceive {
		return fmt.Errorf("%w: transfer mode %d", ErrInvalidSPIConfig, c.Transfer)
	}
	return nil
}

// SlaveSelect identifies a controller-driven select line.
type SlaveSelect int8

// NoSlaveSelect leaves every controller select line inactive.
const NoSlaveSelect SlaveSelect = -1

// SPI is a byte-oriented bus controller.
//
// Tx and Transfer follow tinygo.org/x/drivers: Tx clocks out w while filling r
// (both the same length when non-nil), Transfer exchanges one byte.
type SPI interface {
	drivers.SPI
	Configure(cfg SPIConfig) error
	SetClockRate(hz Hertz) error
	SetSlaveSelect(ss SlaveSelect) error
}
