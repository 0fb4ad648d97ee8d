package sdcard

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"maix/hal"
)

const (
	// MaxIdentificationClock is the highest clock allowed before ACMD41 completes.
	MaxIdentificationClock = 400 * hal.KHz

	DefaultIdentificationClock = 200 * hal.KHz
	DefaultOperatingClock      = 10 * hal.MHz

	DefaultInitAttempts  = 1000
	DefaultInitTimeout   = time.Second
	DefaultReadTimeout   = 200 * time.Millisecond
	DefaultWriteTimeout  = 500 * time.Millisecond
	DefaultResponsePolls = 8

	settleMicros = 2000
	wakeBytes    = 10
)

// Config tunes a Device. The zero value selects the defaults above.
type Config struct {
	IdentificationClock hal.Hertz
	OperatingClock      hal.Hertz
	// SlaveSelect is the controller select line claimed during bring-up;
	// hal.NoSlaveSelect claims none. Chip select itself is a GPIO line.
	SlaveSelect hal.SlaveSelect

	// InitAttempts and InitTimeout bound the ACMD41 loop, whichever ends first.
	InitAttempts int
	InitTimeout  time.Duration
	// ReadTimeout bounds the wait for a data token.
	ReadTimeout time.Duration
	// WriteTimeout bounds the busy wait after a block or stop token.
	WriteTimeout time.Duration
	// ResponsePolls is how many bytes are polled for an R1 response.
	ResponsePolls int

	// CRC turns on card-side CRC checking (CMD59) and data CRC16 on both
	// directions. When false the driver sends CRC_ON_OFF(0) explicitly and
	// fills data CRC fields with zeros.
	CRC bool

	Clock  clock.Clock
	Delay  hal.Delay
	Logger hal.Logger
}

func (c Config) withDefaults() Config {
	if c.IdentificationClock == 0 {
		c.IdentificationClock = DefaultIdentificationClock
	}
	if c.OperatingClock == 0 {
		c.OperatingClock = DefaultOperatingClock
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = DefaultInitAttempts
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ResponsePolls <= 0 {
		c.ResponsePolls = DefaultResponsePolls
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Delay == nil {
		c.Delay = hal.SleepDelay{}
	}
	return c
}

func (c Config) validate() error {
	if c.IdentificationClock > MaxIdentificationClock {
		return fmt.Errorf("%w: identification clock %s above %s", ErrInvalidConfig, c.IdentificationClock, MaxIdentificationClock)
	}
	if c.OperatingClock < c.IdentificationClock {
		return fmt.Errorf("%w: operating clock %s below identification clock %s", ErrInvalidConfig, c.OperatingClock, c.IdentificationClock)
	}
	return nil
}
