//go:build tinygo && baremetal && k210

package hal

import "machine"

// Maix board SD slot: SPI1 on IO27 (SCLK), IO28 (MOSI), IO26 (MISO), chip
// select on IO29 driven as a GPIO.
const (
	maixSDSCK = machine.Pin(27)
	maixSDSDO = machine.Pin(28)
	maixSDSDI = machine.Pin(26)
	maixSDCS  = machine.Pin(29)

	maixSDSlaveSelect SlaveSelect = 3
)

type maixHAL struct {
	logger *uartLogger
	led    *pinOut
	gpio   GPIO
	sd     SDCardBus
}

// New returns a K210 Maix HAL implementation.
//
// UART: UART0 (UARTHS) at 115200 8N1.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{BaudRate: 115200})

	led := newPinOut(machine.LED, false)
	cs := newPinOut(maixSDCS, true)
	bus := &machineSPI{
		bus:       machine.SPI1,
		configure: machine.SPI1.Configure,
		pins:      machine.SPIConfig{SCK: maixSDSCK, SDO: maixSDSDO, SDI: maixSDSDI},
		hz:        200 * KHz,
	}
	return &maixHAL{
		logger: &uartLogger{uart: uart},
		led:    led,
		gpio:   newPinTable(newOutPin("LED", led, false), newOutPin("SD_CS", cs, true)),
		sd:     SDCardBus{SPI: bus, CS: cs, SlaveSelect: maixSDSlaveSelect},
	}
}

func (h *maixHAL) Logger() Logger            { return h.logger }
func (h *maixHAL) LED() LED                  { return h.led }
func (h *maixHAL) GPIO() GPIO                { return h.gpio }
func (h *maixHAL) Delay() Delay              { return SleepDelay{} }
func (h *maixHAL) SDCard() (SDCardBus, bool) { return h.sd, true }
