//go:build !tinygo

package hal

import "sync"

// HostConfig wires a host HAL.
type HostConfig struct {
	// Logger receives log lines; nil logs nothing.
	Logger Logger
	// SDCard is the card slot wiring: a simulated card or a periph.io bus.
	SDCard *SDCardBus
	// Pins are exposed through GPIO after the LED pin, e.g. a card-detect
	// switch looked up by name at boot.
	Pins []GPIOPin
	// Delay defaults to SleepDelay.
	Delay Delay
}

type hostHAL struct {
	logger Logger
	led    *hostLED
	gpio   GPIO
	delay  Delay
	sd     *SDCardBus
}

// New returns a host HAL implementation.
func New(cfg HostConfig) HAL {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	delay := cfg.Delay
	if delay == nil {
		delay = SleepDelay{}
	}
	led := &hostLED{logger: logger}
	pins := append([]GPIOPin{newOutPin("LED", led, false)}, cfg.Pins...)
	return &hostHAL{
		logger: logger,
		led:    led,
		gpio:   newPinTable(pins...),
		delay:  delay,
		sd:     cfg.SDCard,
	}
}

func (h *hostHAL) Logger() Logger { return h.logger }
func (h *hostHAL) LED() LED       { return h.led }
func (h *hostHAL) GPIO() GPIO     { return h.gpio }
func (h *hostHAL) Delay() Delay   { return h.delay }

func (h *hostHAL) SDCard() (SDCardBus, bool) {
	if h.sd == nil || h.sd.SPI == nil || h.sd.CS == nil {
		return SDCardBus{}, false
	}
	return *h.sd, true
}

type hostLED struct {
	mu     sync.Mutex
	on     bool
	logger Logger
}

func (l *hostLED) High() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = true
	l.logger.WriteLineString("led: HIGH")
}

func (l *hostLED) Low() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = false
	l.logger.WriteLineString("led: LOW")
}
