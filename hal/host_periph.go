//go:build !tinygo

package hal

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	periphOnce sync.Once
	periphErr  error
)

func initPeriph() error {
	periphOnce.Do(func() {
		_, periphErr = host.Init()
	})
	return periphErr
}

var errPeriphClosed = errors.New("spi: port closed")

// PeriphSPI drives a Linux spidev port through periph.io.
//
// Chip select is left to a GPIO line: the port is opened with spi.NoCS and
// SetSlaveSelect only accepts NoSlaveSelect or the port's own line.
type PeriphSPI struct {
	mu     sync.Mutex
	name   string
	port   spi.PortCloser
	conn   spi.Conn
	hz     Hertz
	cfg    SPIConfig
	closed bool
	fill   []byte
}

// OpenPeriphSPI opens a named port such as "SPI0.0" or "/dev/spidev0.0".
//
// The port connects lazily at the first SetClockRate or Configure call.
func OpenPeriphSPI(name string) (*PeriphSPI, error) {
	if err := initPeriph(); err != nil {
		return nil, fmt.Errorf("spi: periph init: %w", err)
	}
	s := &PeriphSPI{
		name: name,
		hz:   400 * KHz,
		cfg:  SPIConfig{Mode: SPIMode0, Frame: FrameStandard, DataBits: 8},
	}
	return s, nil
}

func (s *PeriphSPI) Configure(cfg SPIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Frame != FrameStandard || cfg.DataBits != 8 {
		return fmt.Errorf("spi: %s: frame %d with %d bits: %w", s.name, cfg.Frame, cfg.DataBits, ErrUnsupported)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wire := cfg.Mode != s.cfg.Mode || cfg.LSBFirst != s.cfg.LSBFirst
	s.cfg = cfg
	if s.conn != nil && !wire {
		return nil
	}
	return s.connectLocked()
}

// SetClockRate reopens the port at hz; periph fixes the speed per connection.
func (s *PeriphSPI) SetClockRate(hz Hertz) error {
	if hz == 0 {
		return fmt.Errorf("%w: zero clock rate", ErrInvalidSPIConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hz = hz
	return s.connectLocked()
}

func (s *PeriphSPI) SetSlaveSelect(ss SlaveSelect) error {
	if ss == NoSlaveSelect || ss == 0 {
		return nil
	}
	return fmt.Errorf("spi: %s: slave select %d: %w", s.name, ss, ErrUnsupported)
}

func (s *PeriphSPI) connectLocked() error {
	if s.closed {
		return errPeriphClosed
	}
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			return fmt.Errorf("spi: close %s: %w", s.name, err)
		}
		s.port, s.conn = nil, nil
	}
	port, err := spireg.Open(s.name)
	if err != nil {
		return fmt.Errorf("spi: open %s: %w", s.name, err)
	}
	mode := spi.Mode(s.cfg.Mode) | spi.NoCS
	if s.cfg.LSBFirst {
		mode |= spi.LSBFirst
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(s.hz), mode, 8)
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("spi: connect %s at %s: %w", s.name, s.hz, err)
	}
	s.port, s.conn = port, conn
	return nil
}

func (s *PeriphSPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
	}
	switch {
	case w == nil && r == nil:
		return nil
	case w == nil:
		w = s.filler(len(r))
	case r != nil && len(r) != len(w):
		return fmt.Errorf("spi: %s: tx %d bytes, rx %d bytes: %w", s.name, len(w), len(r), ErrInvalidSPIConfig)
	}
	return s.conn.Tx(w, r)
}

func (s *PeriphSPI) Transfer(b byte) (byte, error) {
	var w, r [1]byte
	w[0] = b
	if err := s.Tx(w[:], r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

func (s *PeriphSPI) filler(n int) []byte {
	if cap(s.fill) < n {
		s.fill = make([]byte, n)
		for i := range s.fill {
			s.fill[i] = 0xFF
		}
	}
	return s.fill[:n]
}

func (s *PeriphSPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port, s.conn = nil, nil
	return err
}

type periphPin struct {
	mu   sync.Mutex
	name string
	pin  gpio.PinIO
	mode GPIOMode
}

// OpenPeriphPin looks up a GPIO line by its periph.io name (e.g. "GPIO25").
func OpenPeriphPin(name string) (GPIOPin, error) {
	if err := initPeriph(); err != nil {
		return nil, fmt.Errorf("gpio: periph init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: no pin named %q", name)
	}
	return &periphPin{name: name, pin: p, mode: GPIOModeInput}, nil
}

func (p *periphPin) Name() string { return p.name }

func (p *periphPin) Caps() GPIOCaps {
	return GPIOCapInput | GPIOCapOutput | GPIOCapPullUp | GPIOCapPullDown
}

func (p *periphPin) Configure(mode GPIOMode, pull GPIOPull) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch mode {
	case GPIOModeOutput:
		if pull != GPIOPullNone {
			return fmt.Errorf("gpio: pin %s: pull unsupported on output", p.name)
		}
		if err := p.pin.Out(gpio.High); err != nil {
			return fmt.Errorf("gpio: pin %s: %w", p.name, err)
		}
	case GPIOModeInput:
		var pp gpio.Pull
		switch pull {
		case GPIOPullNone:
			pp = gpio.Float
		case GPIOPullUp:
			pp = gpio.PullUp
		case GPIOPullDown:
			pp = gpio.PullDown
		default:
			return fmt.Errorf("gpio: pin %s: invalid pull", p.name)
		}
		if err := p.pin.In(pp, gpio.NoEdge); err != nil {
			return fmt.Errorf("gpio: pin %s: %w", p.name, err)
		}
	default:
		return fmt.Errorf("gpio: pin %s: invalid mode", p.name)
	}
	p.mode = mode
	return nil
}

func (p *periphPin) Read() (bool, error) {
	return p.pin.Read() == gpio.High, nil
}

func (p *periphPin) Write(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode != GPIOModeOutput {
		return fmt.Errorf("gpio: pin %s: not in output mode", p.name)
	}
	return p.pin.Out(gpio.Level(level))
}

// OpenPeriphCard wires an SD slot from a spidev port and a GPIO chip-select
// line. Close the returned port when done.
func OpenPeriphCard(spiName, csName string) (SDCardBus, *PeriphSPI, error) {
	port, err := OpenPeriphSPI(spiName)
	if err != nil {
		return SDCardBus{}, nil, err
	}
	pin, err := OpenPeriphPin(csName)
	if err != nil {
		_ = port.Close()
		return SDCardBus{}, nil, err
	}
	cs, err := OutputLine(pin, true)
	if err != nil {
		_ = port.Close()
		return SDCardBus{}, nil, err
	}
	return SDCardBus{SPI: port, CS: cs, SlaveSelect: NoSlaveSelect}, port, nil
}
