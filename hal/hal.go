package hal

import (
	"errors"
	"time"
)

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// Pin is a minimal output pin abstraction.
//
// Setting a level cannot fail; implementations backed by fallible hardware
// swallow the error (see OutputLine).
type Pin interface {
	High()
	Low()
}

// LED is the board status LED.
type LED = Pin

var (
	ErrNotImplemented = errors.New("not implemented")
	ErrUnsupported    = errors.New("unsupported")
)

// Delay blocks the caller for at least the given number of microseconds.
type Delay interface {
	SleepMicroseconds(us uint32)
}

// DelayFunc adapts a function to Delay.
type DelayFunc func(us uint32)

func (f DelayFunc) SleepMicroseconds(us uint32) { f(us) }

// SleepDelay implements Delay with time.Sleep.
type SleepDelay struct{}

func (SleepDelay) SleepMicroseconds(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

// SDCardBus groups the lines wired to an SD card slot.
type SDCardBus struct {
	SPI         SPI
	CS          Pin
	SlaveSelect SlaveSelect
}

// HAL provides the only contact point between the firmware and the board.
type HAL interface {
	Logger() Logger
	LED() LED
	GPIO() GPIO
	Delay() Delay
	// SDCard returns the card slot wiring, if the board has one.
	SDCard() (SDCardBus, bool)
}

type nullLogger struct{}

func (nullLogger) WriteLineString(string) {}
func (nullLogger) WriteLineBytes([]byte)  {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nullLogger{} }
