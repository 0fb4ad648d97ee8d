//go:build tinygo && baremetal && picocalc

package hal

import "machine"

type picoCalcHAL struct {
	logger *uartLogger
	led    *pinOut
	gpio   GPIO
	sd     SDCardBus
}

// New returns a PicoCalc HAL implementation (Pico/Pico2 on the PicoCalc carrier).
//
// UART: UART0 on GP0 (TX) / GP1 (RX), 115200 8N1.
// SD: SPI0 on GP18 (SCK) / GP19 (SDO) / GP16 (SDI), chip select on GP17.
func New() HAL {
	uart := machine.UART0
	uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GP0,
		RX:       machine.GP1,
	})

	led := newPinOut(machine.LED, false)
	cs := newPinOut(machine.GP17, true)
	bus := &machineSPI{
		bus:       machine.SPI0,
		configure: machine.SPI0.Configure,
		pins:      machine.SPIConfig{SCK: machine.GP18, SDO: machine.GP19, SDI: machine.GP16},
		hz:        200 * KHz,
	}

	return &picoCalcHAL{
		logger: &uartLogger{uart: uart},
		led:    led,
		gpio:   newPinTable(newOutPin("LED", led, false), newOutPin("SD_CS", cs, true)),
		sd:     SDCardBus{SPI: bus, CS: cs, SlaveSelect: NoSlaveSelect},
	}
}

func (h *picoCalcHAL) Logger() Logger            { return h.logger }
func (h *picoCalcHAL) LED() LED                  { return h.led }
func (h *picoCalcHAL) GPIO() GPIO                { return h.gpio }
func (h *picoCalcHAL) Delay() Delay              { return SleepDelay{} }
func (h *picoCalcHAL) SDCard() (SDCardBus, bool) { return h.sd, true }
