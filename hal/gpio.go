package hal

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// GPIOMode selects whether a pin is an input or output.
type GPIOMode uint8

const (
	GPIOModeInput GPIOMode = iota
	GPIOModeOutput
)

// GPIOPull selects the pull resistor configuration.
type GPIOPull uint8

const (
	GPIOPullNone GPIOPull = iota
	GPIOPullUp
	GPIOPullDown
)

// GPIOCaps declares what operations a pin supports.
type GPIOCaps uint8

const (
	GPIOCapInput GPIOCaps = 1 << iota
	GPIOCapOutput
	GPIOCapPullUp
	GPIOCapPullDown
)

// GPIO provides access to general-purpose IO pins.
//
// Implementations may return nil if GPIO is unsupported.
type GPIO interface {
	PinCount() int
	Pin(id int) GPIOPin
}

// GPIOPin is a single digital IO pin.
type GPIOPin interface {
	Name() string
	Caps() GPIOCaps
	Configure(mode GPIOMode, pull GPIOPull) error
	Read() (level bool, err error)
	Write(level bool) error
}

// FindPin returns the first pin of g named name, or nil.
func FindPin(g GPIO, name string) GPIOPin {
	if g == nil {
		return nil
	}
	for i := 0; i < g.PinCount(); i++ {
		if p := g.Pin(i); p != nil && p.Name() == name {
			return p
		}
	}
	return nil
}

// pinTable is a fixed GPIO set. Nil entries are dropped on construction.
type pinTable []GPIOPin

func newPinTable(pins ...GPIOPin) GPIO {
	t := make(pinTable, 0, len(pins))
	for _, p := range pins {
		if p != nil {
			t = append(t, p)
		}
	}
	return t
}

func (t pinTable) PinCount() int { return len(t) }

func (t pinTable) Pin(id int) GPIOPin {
	if id < 0 || id >= len(t) {
		return nil
	}
	return t[id]
}

// outPin exposes a board output line (LED, chip select) as a GPIOPin. The
// last written level is remembered since the line cannot be read back.
type outPin struct {
	mu    sync.Mutex
	out   Pin
	name  string
	level bool
}

func newOutPin(name string, out Pin, level bool) GPIOPin {
	if out == nil {
		return nil
	}
	return &outPin{out: out, name: name, level: level}
}

func (p *outPin) Name() string   { return p.name }
func (p *outPin) Caps() GPIOCaps { return GPIOCapOutput }

func (p *outPin) Configure(mode GPIOMode, pull GPIOPull) error {
	if mode != GPIOModeOutput {
		return fmt.Errorf("gpio: pin %s: only output supported", p.name)
	}
	if pull != GPIOPullNone {
		return fmt.Errorf("gpio: pin %s: pull unsupported", p.name)
	}
	return nil
}

func (p *outPin) Read() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level, nil
}

func (p *outPin) Write(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
	if level {
		p.out.High()
	} else {
		p.out.Low()
	}
	return nil
}

// CardPresent samples an active-low card-detect switch: the slot pulls the
// line to ground while a card is inserted.
func CardPresent(pin GPIOPin) (bool, error) {
	if pin == nil {
		return false, fmt.Errorf("gpio: card detect: %w", ErrNotImplemented)
	}
	pull := GPIOPullNone
	if pin.Caps()&GPIOCapPullUp != 0 {
		pull = GPIOPullUp
	}
	if err := pin.Configure(GPIOModeInput, pull); err != nil {
		return false, err
	}
	level, err := pin.Read()
	if err != nil {
		return false, fmt.Errorf("gpio: pin %s: %w", pin.Name(), err)
	}
	return !level, nil
}

// OutputLine configures pin as an output and adapts it to Pin.
//
// Write errors after configuration are counted rather than returned.
func OutputLine(pin GPIOPin, initial bool) (*Line, error) {
	if pin == nil {
		return nil, fmt.Errorf("gpio: output line: %w", ErrNotImplemented)
	}
	if pin.Caps()&GPIOCapOutput == 0 {
		return nil, fmt.Errorf("gpio: pin %s: output unsupported", pin.Name())
	}
	if err := pin.Configure(GPIOModeOutput, GPIOPullNone); err != nil {
		return nil, err
	}
	if err := pin.Write(initial); err != nil {
		return nil, err
	}
	return &Line{pin: pin}, nil
}

// Line is an infallible output view of a GPIOPin.
type Line struct {
	pin    GPIOPin
	faults atomic.Uint32
}

func (l *Line) High() { l.set(true) }
func (l *Line) Low()  { l.set(false) }

func (l *Line) set(level bool) {
	if err := l.pin.Write(level); err != nil {
		l.faults.Add(1)
	}
}

// Faults reports how many writes the underlying pin rejected.
func (l *Line) Faults() uint32 { return l.faults.Load() }

// Name returns the underlying pin name.
func (l *Line) Name() string { return l.pin.Name() }
