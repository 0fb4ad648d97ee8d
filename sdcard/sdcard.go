// Package sdcard drives SD/SDHC/SDXC cards in SPI mode as a block device.
//
// A Device owns its SPI transport and chip-select line. All operations are
// synchronous; every polling loop is bounded by the configured clock.
package sdcard

import (
	"encoding/binary"
	"fmt"

	"github.com/benbjohnson/clock"

	"maix/hal"
	"maix/internal/sdcrc"
)

// State is the card bring-up state.
type State uint8

const (
	StateNotInitialized State = iota
	StateIdle
	StateVoltageChecked
	StateInitializing
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not-initialized"
	case StateIdle:
		return "idle"
	case StateVoltageChecked:
		return "voltage-checked"
	case StateInitializing:
		return "initializing"
	case StateOperational:
		return "operational"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Device is an SD card attached over SPI.
type Device struct {
	spi hal.SPI
	cs  hal.Pin
	cfg Config
	clk clock.Clock
	log hal.Logger

	state State
	info  CardInfo

	fill  [BlockSize]byte
	token [2]byte
	crc   [2]byte
}

// New returns a Device that takes ownership of spi and cs. Call Init before
// any block operation.
func New(spi hal.SPI, cs hal.Pin, cfg Config) *Device {
	cfg = cfg.withDefaults()
	d := &Device{
		spi: spi,
		cs:  cs,
		cfg: cfg,
		clk: cfg.Clock,
		log: cfg.Logger,
	}
	for i := range d.fill {
		d.fill[i] = 0xFF
	}
	return d
}

// State returns the current bring-up state.
func (d *Device) State() State { return d.state }

// Info returns the CardInfo from the last successful Init.
func (d *Device) Info() (CardInfo, bool) {
	return d.info, d.state == StateOperational
}

// Init runs the SPI-mode bring-up sequence. It may be called again to
// re-initialize a card; every call starts from the not-initialized state.
func (d *Device) Init() (info CardInfo, err error) {
	d.state = StateNotInitialized
	d.info = CardInfo{}
	if err := d.cfg.validate(); err != nil {
		return CardInfo{}, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}
	defer func() {
		d.deselect()
		if err != nil {
			d.state = StateNotInitialized
			d.info = CardInfo{}
		}
	}()

	if err := d.powerUp(); err != nil {
		return CardInfo{}, err
	}
	if err := d.goIdle(); err != nil {
		return CardInfo{}, err
	}
	if err := d.checkVoltage(); err != nil {
		return CardInfo{}, err
	}
	if err := d.waitOpCond(); err != nil {
		return CardInfo{}, err
	}
	if err := d.setCRC(); err != nil {
		return CardInfo{}, err
	}
	ocr, err := d.readOCR()
	if err != nil {
		return CardInfo{}, err
	}
	if err := d.spi.SetClockRate(d.cfg.OperatingClock); err != nil {
		return CardInfo{}, fail(ErrInitFailed, "set operating clock", err)
	}
	d.state = StateOperational
	d.logf("sdcard: operational at %s", d.cfg.OperatingClock)

	csd, blocks, err := d.readCapacity()
	if err != nil {
		return CardInfo{}, err
	}
	d.info = CardInfo{Blocks: blocks, OCR: ocr, CSD: csd}
	d.logf("sdcard: %d blocks (%d MiB)", blocks, d.info.CapacityBytes()>>20)
	return d.info, nil
}

func (d *Device) powerUp() error {
	if err := d.spi.SetClockRate(d.cfg.IdentificationClock); err != nil {
		return fail(ErrInitFailed, "set identification clock", err)
	}
	if err := d.configure(hal.TransferTransmit); err != nil {
		return fail(ErrInitFailed, "configure", err)
	}
	d.cfg.Delay.SleepMicroseconds(settleMicros)
	d.cs.High()
	if err := d.spi.SetSlaveSelect(d.cfg.SlaveSelect); err != nil {
		return fail(ErrInitFailed, "slave select", err)
	}
	if err := d.spi.Tx(d.fill[:wakeBytes], nil); err != nil {
		return fail(ErrInitFailed, "wake clocks", err)
	}
	return nil
}

func (d *Device) goIdle() error {
	r, err := d.command(CmdGoIdleState, 0, crcGoIdle)
	if err != nil {
		return fail(ErrInitFailed, "CMD0", err)
	}
	if r != r1Idle {
		return fail(ErrInitFailed, fmt.Sprintf("CMD0 response 0x%02x", r), nil)
	}
	d.state = StateIdle
	d.logf("sdcard: idle")
	return nil
}

func (d *Device) checkVoltage() error {
	r, err := d.command(CmdSendIfCond, ifCondArg, crcSendCond)
	if err != nil {
		return fail(ErrInitFailed, "CMD8", err)
	}
	if r != r1Idle {
		return fail(ErrInitFailed, fmt.Sprintf("CMD8 response 0x%02x", r), nil)
	}
	echo, err := d.readTrailing()
	if err != nil {
		return fail(ErrInitFailed, "CMD8 echo", err)
	}
	if echo&0xFFF != ifCondPattern {
		return fail(ErrInitFailed, fmt.Sprintf("CMD8 echo 0x%08x", echo), nil)
	}
	d.state = StateVoltageChecked
	return nil
}

func (d *Device) waitOpCond() error {
	d.state = StateInitializing
	deadline := d.clk.Now().Add(d.cfg.InitTimeout)
	for attempt := 1; ; attempt++ {
		if _, err := d.command(CmdAppCmd, 0, 0); err != nil {
			return fail(ErrInitFailed, "CMD55", err)
		}
		r, err := d.command(AcmdSendOpCond, opCondHCS, 0)
		if err != nil {
			return fail(ErrInitFailed, "ACMD41", err)
		}
		if r == r1Ready {
			d.logf("sdcard: ready after %d ACMD41", attempt)
			return nil
		}
		if r != noResponse && r&r1ErrorMask != 0 {
			return fail(ErrInitFailed, fmt.Sprintf("ACMD41 response 0x%02x", r), nil)
		}
		if attempt >= d.cfg.InitAttempts || d.clk.Now().After(deadline) {
			return fmt.Errorf("%w: %w: ACMD41 busy after %d attempts", ErrInitFailed, ErrTimeout, attempt)
		}
	}
}

func (d *Device) setCRC() error {
	var arg uint32
	if d.cfg.CRC {
		arg = 1
	}
	r, err := d.command(CmdCRCOnOff, arg, 0)
	if err != nil {
		return fail(ErrInitFailed, "CMD59", err)
	}
	if err := checkR1(r); err != nil {
		if d.cfg.CRC {
			return fail(ErrInitFailed, "CMD59", err)
		}
		d.logf("sdcard: CMD59 ignored: %v", err)
	}
	return nil
}

func (d *Device) readOCR() (uint32, error) {
	r, err := d.command(CmdReadOCR, 0, 0)
	if err != nil {
		return 0, fail(ErrInitFailed, "CMD58", err)
	}
	if r&r1ErrorMask != 0 {
		return 0, fail(ErrInitFailed, fmt.Sprintf("CMD58 response 0x%02x", r), nil)
	}
	ocr, err := d.readTrailing()
	if err != nil {
		return 0, fail(ErrInitFailed, "OCR", err)
	}
	if ocr&ocrCCS == 0 {
		return 0, fmt.Errorf("%w: %w: byte-addressed card (OCR 0x%08x)", ErrInitFailed, ErrUnsupportedCard, ocr)
	}
	return ocr, nil
}

// command sends a frame and returns the first non-idle-bus byte.
func (d *Device) command(cmd Command, arg uint32, crc byte) (byte, error) {
	if err := d.sendCommand(cmd, arg, crc); err != nil {
		return 0, err
	}
	return d.readResponse()
}

func (d *Device) sendCommand(cmd Command, arg uint32, crc byte) error {
	if err := d.configure(hal.TransferTransmit); err != nil {
		return err
	}
	d.cs.High()
	if _, err := d.spi.Transfer(0xFF); err != nil {
		return err
	}
	d.cs.Low()
	frame := cmd.Frame(arg, crc)
	if d.cfg.CRC {
		frame[5] = sdcrc.CommandCRC(frame[:5])
	}
	return d.spi.Tx(frame[:], nil)
}

func (d *Device) readResponse() (byte, error) {
	if err := d.configure(hal.TransferReceive); err != nil {
		return 0, err
	}
	r := byte(noResponse)
	for i := 0; i < d.cfg.ResponsePolls && r == noResponse; i++ {
		b, err := d.spi.Transfer(0xFF)
		if err != nil {
			return 0, err
		}
		r = b
	}
	return r, nil
}

// readTrailing reads the 4 bytes that follow an R7 or R3 response.
func (d *Device) readTrailing() (uint32, error) {
	if err := d.configure(hal.TransferReceive); err != nil {
		return 0, err
	}
	var buf [4]byte
	if err := d.spi.Tx(d.fill[:4], buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *Device) configure(mode hal.TransferMode) error {
	return d.spi.Configure(hal.SPIConfig{
		Mode:     hal.SPIMode0,
		Frame:    hal.FrameStandard,
		DataBits: 8,
		Transfer: mode,
	})
}

// deselect releases the card and clocks one byte so it tri-states its output.
func (d *Device) deselect() {
	d.cs.High()
	if err := d.configure(hal.TransferTransmit); err != nil {
		return
	}
	_, _ = d.spi.Transfer(0xFF)
}

func (d *Device) logf(format string, args ...any) {
	if d.log == nil {
		return
	}
	d.log.WriteLineString(fmt.Sprintf(format, args...))
}
