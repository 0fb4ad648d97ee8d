package app

import (
	"errors"

	"maix/hal"
	"maix/sdcard"
)

const (
	blinkOnMicros  = 150_000
	blinkOffMicros = 350_000
	pauseMicros    = 1_500_000
)

// haltCode maps a boot error to the number of LED blinks per cycle.
func haltCode(err error) int {
	switch {
	case errors.Is(err, errNoCardSlot):
		return 1
	case errors.Is(err, sdcard.ErrTimeout):
		return 2
	case errors.Is(err, sdcard.ErrInitFailed):
		return 3
	case errors.Is(err, sdcard.ErrReadCSDFailed):
		return 4
	case errors.Is(err, errNoCard):
		return 6
	default:
		return 5
	}
}

// halt logs err and blinks its code forever.
func halt(h hal.HAL, err error) {
	h.Logger().WriteLineString("maix halt: " + err.Error())
	blink(h.LED(), h.Delay(), haltCode(err), -1)
}

// blink flashes code pulses per cycle for cycles cycles, or forever if cycles < 0.
func blink(led hal.LED, d hal.Delay, code, cycles int) {
	for i := 0; cycles < 0 || i < cycles; i++ {
		for j := 0; j < code; j++ {
			led.High()
			d.SleepMicroseconds(blinkOnMicros)
			led.Low()
			d.SleepMicroseconds(blinkOffMicros)
		}
		d.SleepMicroseconds(pauseMicros)
	}
}
