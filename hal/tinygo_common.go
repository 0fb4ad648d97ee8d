//go:build tinygo && baremetal

package hal

import (
	"machine"

	"tinygo.org/x/drivers"
)

type uartLogger struct {
	uart *machine.UART
}

func (l *uartLogger) WriteLineString(s string) {
	for i := 0; i < len(s); i++ {
		l.uart.WriteByte(s[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

func (l *uartLogger) WriteLineBytes(b []byte) {
	for i := 0; i < len(b); i++ {
		l.uart.WriteByte(b[i])
	}
	l.uart.WriteByte('\r')
	l.uart.WriteByte('\n')
}

type pinOut struct {
	pin machine.Pin
}

func newPinOut(p machine.Pin, initial bool) *pinOut {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(initial)
	return &pinOut{pin: p}
}

func (o *pinOut) High() { o.pin.High() }
func (o *pinOut) Low()  { o.pin.Low() }

// machineSPI adapts a machine SPI peripheral to SPI.
//
// machine.SPIConfig has no transfer-mode field, so only changes to mode, bit
// order or clock rate touch the hardware.
type machineSPI struct {
	bus        drivers.SPI
	configure  func(machine.SPIConfig) error
	pins       machine.SPIConfig
	hz         Hertz
	cfg        SPIConfig
	configured bool
}

func (s *machineSPI) Tx(w, r []byte) error          { return s.bus.Tx(w, r) }
func (s *machineSPI) Transfer(b byte) (byte, error) { return s.bus.Transfer(b) }

func (s *machineSPI) Configure(cfg SPIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Frame != FrameStandard || cfg.DataBits != 8 {
		return ErrUnsupported
	}
	same := s.configured && cfg.Mode == s.cfg.Mode && cfg.LSBFirst == s.cfg.LSBFirst
	s.cfg = cfg
	if same {
		return nil
	}
	return s.apply()
}

func (s *machineSPI) SetClockRate(hz Hertz) error {
	s.hz = hz
	if !s.configured {
		return nil
	}
	return s.apply()
}

func (s *machineSPI) SetSlaveSelect(ss SlaveSelect) error { return nil }

func (s *machineSPI) apply() error {
	c := s.pins
	c.Frequency = uint32(s.hz)
	c.Mode = uint8(s.cfg.Mode)
	c.LSBFirst = s.cfg.LSBFirst
	if err := s.configure(c); err != nil {
		return err
	}
	s.configured = true
	return nil
}
