// Package sdsim simulates an SDHC card on the SPI bus, byte by byte.
//
// A Card is both the SPI controller and the card behind it: every byte the
// host clocks out is fed to the card state machine and the card's next queued
// byte is clocked back. Block data lives in an afero.File card image.
package sdsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/afero"

	"maix/hal"
	"maix/internal/sdcrc"
)

const (
	BlockSize = 512

	// DefaultCSize gives (0x1000+1)*1024 physical blocks, about 2 GiB.
	DefaultCSize = 0x1000

	maxIdentClock = 400 * hal.KHz
	wakeBytes     = 10
)

// Options select card geometry, timing and injected faults.
// Zero values select the defaults.
type Options struct {
	CSize uint32

	// ResponseDelay is the number of 0xFF bytes before each R1 (default 1).
	ResponseDelay int
	// TokenDelay is the number of 0xFF bytes before a data token (default 2).
	TokenDelay int
	// BusyBytes is how long the card holds the bus at 0x00 after a write (default 2).
	BusyBytes int

	// ACMD41Busy answers this many ACMD41 with the idle bit still set.
	ACMD41Busy int
	// NeverReady keeps the card in idle forever.
	NeverReady bool
	// NoCard leaves the bus floating: every byte reads 0xFF. The
	// card-detect switch reads open (high).
	NoCard bool
	// BadEchoPattern corrupts the CMD8 check pattern.
	BadEchoPattern bool
	// ByteAddressed clears the OCR CCS bit (standard-capacity card).
	ByteAddressed bool
	// CSDVersion1 reports a v1 CSD.
	CSDVersion1 bool
	// StallReads never sends a data token for blocks.
	StallReads bool
	// StuckBusy holds the bus at 0x00 forever after an accepted write.
	StuckBusy bool
	// WriteStatus overrides the data response for a block; return 0 to accept.
	WriteStatus func(block uint32) byte
	// PayloadFault is returned by Tx when the host receives a full block.
	PayloadFault error

	// Clock, when set, advances by StallStep each time the card stalls the host.
	Clock     *clock.Mock
	StallStep time.Duration
}

func (o Options) withDefaults() Options {
	if o.CSize == 0 {
		o.CSize = DefaultCSize
	}
	if o.ResponseDelay <= 0 {
		o.ResponseDelay = 1
	}
	if o.TokenDelay <= 0 {
		o.TokenDelay = 2
	}
	if o.BusyBytes <= 0 {
		o.BusyBytes = 2
	}
	if o.StallStep <= 0 {
		o.StallStep = 10 * time.Millisecond
	}
	return o
}

type mode uint8

const (
	modeCommand mode = iota
	modeReadMulti
	modeWriteSingle
	modeWriteMulti
	modeWriteData
)

type blockEnd struct {
	at uint64
	ev Event
}

// Card is a simulated card and the SPI controller it hangs off.
type Card struct {
	opts  Options
	store afero.File

	selected bool
	cfg      hal.SPIConfig
	hz       hal.Hertz
	ss       hal.SlaveSelect

	wake   int
	awake  bool
	idle   bool
	ready  bool
	appCmd bool
	crcOn  bool
	acmds  int

	mode   mode
	resume mode
	cmd    [6]byte
	cmdLen int

	readNext  uint32
	writeNext uint32
	wbuf      [BlockSize + 2]byte
	wlen      int
	stuck     bool
	stalling  bool

	out    []byte
	popped uint64
	ends   []blockEnd
	events []Event
}

var (
	_ hal.SPI = (*Card)(nil)

	errTxLength = errors.New("sdsim: tx and rx lengths differ")
)

// New returns a card backed by store. A nil store uses an in-memory image.
func New(store afero.File, opts Options) (*Card, error) {
	if store == nil {
		f, err := afero.NewMemMapFs().Create("card.img")
		if err != nil {
			return nil, fmt.Errorf("sdsim: memory image: %w", err)
		}
		store = f
	}
	return &Card{
		opts:  opts.withDefaults(),
		store: store,
		ss:    hal.NoSlaveSelect,
		cfg:   hal.SPIConfig{DataBits: 8},
	}, nil
}

// OpenImage opens or creates the card image at path on fs.
func OpenImage(fs afero.Fs, path string, opts Options) (*Card, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sdsim: open image %q: %w", path, err)
	}
	return New(f, opts)
}

// Close closes the card image.
func (c *Card) Close() error { return c.store.Close() }

// Blocks returns the physical capacity in blocks.
func (c *Card) Blocks() uint32 { return (c.opts.CSize + 1) * 1024 }

// CS returns the chip-select line; low selects the card.
func (c *Card) CS() hal.Pin { return chipSelect{c} }

// Bus returns the card wired as an SD card slot.
func (c *Card) Bus() hal.SDCardBus {
	return hal.SDCardBus{SPI: c, CS: c.CS(), SlaveSelect: hal.NoSlaveSelect}
}

// ClockRate returns the last rate set by the host.
func (c *Card) ClockRate() hal.Hertz { return c.hz }

// SlaveSelect returns the last controller select line claimed by the host.
func (c *Card) SlaveSelect() hal.SlaveSelect { return c.ss }

// CRCEnabled reports whether the host turned on CRC checking.
func (c *Card) CRCEnabled() bool { return c.crcOn }

type chipSelect struct{ c *Card }

func (p chipSelect) High() { p.c.setSelected(false) }
func (p chipSelect) Low()  { p.c.setSelected(true) }

// DetectPin returns the slot's active-low card-detect switch as a GPIO input.
func (c *Card) DetectPin(name string) hal.GPIOPin { return &detectPin{c: c, name: name} }

type detectPin struct {
	c          *Card
	name       string
	configured bool
}

func (p *detectPin) Name() string       { return p.name }
func (p *detectPin) Caps() hal.GPIOCaps { return hal.GPIOCapInput | hal.GPIOCapPullUp }

func (p *detectPin) Configure(mode hal.GPIOMode, pull hal.GPIOPull) error {
	if mode != hal.GPIOModeInput || pull == hal.GPIOPullDown {
		return fmt.Errorf("sdsim: detect pin %s: input with pull-up only", p.name)
	}
	p.configured = true
	return nil
}

func (p *detectPin) Read() (bool, error) {
	if !p.configured {
		return false, fmt.Errorf("sdsim: detect pin %s: not configured", p.name)
	}
	return p.c.opts.NoCard, nil
}

func (p *detectPin) Write(bool) error {
	return fmt.Errorf("sdsim: detect pin %s: input only", p.name)
}

func (c *Card) setSelected(sel bool) {
	if c.selected == sel {
		return
	}
	c.selected = sel
	c.out = c.out[:0]
	c.ends = c.ends[:0]
	c.cmdLen = 0
}

func (c *Card) Configure(cfg hal.SPIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

func (c *Card) SetClockRate(hz hal.Hertz) error {
	c.hz = hz
	c.record(Event{Kind: EventClock, Hz: hz})
	return nil
}

func (c *Card) SetSlaveSelect(ss hal.SlaveSelect) error {
	c.ss = ss
	return nil
}

func (c *Card) Tx(w, r []byte) error {
	if w != nil && r != nil && len(w) != len(r) {
		return errTxLength
	}
	n := len(w)
	if r != nil {
		n = len(r)
		if c.opts.PayloadFault != nil && len(r) == BlockSize {
			return c.opts.PayloadFault
		}
	}
	for i := 0; i < n; i++ {
		in := byte(0xFF)
		if w != nil {
			in = w[i]
		}
		b := c.exchange(in)
		if r != nil {
			r[i] = b
		}
	}
	return nil
}

func (c *Card) Transfer(b byte) (byte, error) {
	return c.exchange(b), nil
}

// exchange clocks one byte in each direction.
func (c *Card) exchange(in byte) byte {
	if c.opts.NoCard {
		return 0xFF
	}
	if !c.selected {
		if !c.awake && in == 0xFF {
			c.wake++
			c.awake = c.wake >= wakeBytes
		}
		return 0xFF
	}
	if c.cfg.Transfer == hal.TransferReceive {
		in = 0xFF
	}
	out := c.pop()
	c.accept(in)
	if c.cfg.Transfer == hal.TransferTransmit {
		// Transmit-only phases leave the receive FIFO untouched.
		return 0x00
	}
	return out
}

func (c *Card) pop() byte {
	if len(c.out) == 0 && c.mode == modeReadMulti {
		c.queueBlock(c.readNext)
		c.readNext++
	}
	if len(c.out) == 0 {
		switch {
		case c.stuck:
			c.stall()
			return 0x00
		case c.stalling:
			c.stall()
		}
		return 0xFF
	}
	b := c.out[0]
	c.out = c.out[1:]
	c.popped++
	if len(c.ends) > 0 && c.popped == c.ends[0].at {
		c.record(c.ends[0].ev)
		c.ends = c.ends[1:]
	}
	return b
}

func (c *Card) stall() {
	if c.opts.Clock != nil {
		c.opts.Clock.Add(c.opts.StallStep)
	}
}

func (c *Card) queue(b ...byte) { c.out = append(c.out, b...) }

func (c *Card) queueFill(n int) {
	for i := 0; i < n; i++ {
		c.out = append(c.out, 0xFF)
	}
}

func (c *Card) r1(v byte) {
	c.queueFill(c.opts.ResponseDelay)
	c.queue(v)
}

func (c *Card) status() byte {
	if c.idle {
		return 0x01
	}
	return 0x00
}

func (c *Card) accept(in byte) {
	switch c.mode {
	case modeWriteSingle:
		if in == 0xFE {
			c.beginWrite(modeCommand)
		}
		return
	case modeWriteMulti:
		switch in {
		case 0xFC:
			c.beginWrite(modeWriteMulti)
		case 0xFD:
			c.record(Event{Kind: EventStopToken, Block: c.writeNext})
			c.mode = modeCommand
			c.queue(0xFF)
			c.busy()
		}
		return
	case modeWriteData:
		c.wbuf[c.wlen] = in
		c.wlen++
		if c.wlen == len(c.wbuf) {
			c.commitWrite()
		}
		return
	}

	if c.cmdLen == 0 && in&0xC0 != 0x40 {
		return
	}
	c.cmd[c.cmdLen] = in
	c.cmdLen++
	if c.cmdLen == len(c.cmd) {
		c.cmdLen = 0
		c.execute()
	}
}

func (c *Card) beginWrite(resume mode) {
	c.mode = modeWriteData
	c.resume = resume
	c.wlen = 0
}

func (c *Card) busy() {
	if c.opts.StuckBusy {
		c.stuck = true
		return
	}
	for i := 0; i < c.opts.BusyBytes; i++ {
		c.out = append(c.out, 0x00)
	}
}

func (c *Card) commitWrite() {
	block := c.writeNext
	c.writeNext++
	c.mode = c.resume

	status := byte(0x05)
	data := c.wbuf[:BlockSize]
	if c.crcOn && binary.BigEndian.Uint16(c.wbuf[BlockSize:]) != sdcrc.CRC16(data) {
		status = 0x0B
	}
	if c.opts.WriteStatus != nil {
		if s := c.opts.WriteStatus(block); s != 0 {
			status = s
		}
	}
	if block >= c.Blocks() {
		status = 0x0D
	}
	if status&0x1F == 0x05 {
		if _, err := c.store.WriteAt(data, int64(block)*BlockSize); err != nil {
			status = 0x0D
		}
	}
	c.record(Event{Kind: EventDataReceived, Block: block, Status: status})
	c.queue(status)
	if status&0x1F == 0x05 {
		c.busy()
	}
}

func (c *Card) execute() {
	idx := c.cmd[0] & 0x3F
	arg := binary.BigEndian.Uint32(c.cmd[1:5])
	app := c.appCmd
	c.appCmd = false

	if !c.awake || (!c.ready && c.hz > maxIdentClock) {
		return
	}
	c.record(Event{Kind: EventCommand, Cmd: idx, Arg: arg, App: app})
	c.stalling = false

	if c.mode == modeReadMulti {
		c.out = c.out[:0]
		c.ends = c.ends[:0]
		if idx == 12 {
			c.mode = modeCommand
			c.queue(0xFF)
			c.r1(c.status())
			return
		}
	}

	if (c.crcOn || idx == 0 || idx == 8) && sdcrc.CommandCRC(c.cmd[:5]) != c.cmd[5] {
		c.r1(c.status() | 0x08)
		return
	}

	switch {
	case idx == 0:
		c.idle, c.ready, c.crcOn, c.acmds = true, false, false, 0
		c.mode = modeCommand
		c.stuck, c.stalling = false, false
		c.r1(c.status())
	case idx == 8:
		c.r1(c.status())
		pattern := byte(arg)
		if c.opts.BadEchoPattern {
			pattern ^= 0x55
		}
		c.queue(0x00, 0x00, byte(arg>>8)&0x0F, pattern)
	case idx == 55:
		c.appCmd = true
		c.r1(c.status())
	case idx == 41 && app:
		switch {
		case c.opts.NeverReady:
			c.stall()
		case c.acmds < c.opts.ACMD41Busy:
			c.acmds++
		default:
			c.idle, c.ready = false, true
		}
		c.r1(c.status())
	case idx == 58:
		c.r1(c.status())
		ocr := uint32(0x00FF8000)
		if c.ready {
			ocr |= 1 << 31
			if !c.opts.ByteAddressed {
				ocr |= 1 << 30
			}
		}
		c.queue(byte(ocr>>24), byte(ocr>>16), byte(ocr>>8), byte(ocr))
	case idx == 59:
		c.crcOn = arg&1 == 1
		c.r1(c.status())
	case !c.ready:
		c.r1(c.status() | 0x04)
	case idx == 9:
		c.r1(0x00)
		reg := c.csd()
		c.queueData(reg[:])
	case idx == 10:
		c.r1(0x00)
		reg := cid()
		c.queueData(reg[:])
	case idx == 12:
		c.queue(0xFF)
		c.r1(0x00)
	case idx == 16:
		if arg != BlockSize {
			c.r1(0x40)
			return
		}
		c.r1(0x00)
	case idx == 17:
		if arg >= c.Blocks() {
			c.r1(0x20)
			return
		}
		c.r1(0x00)
		c.queueBlock(arg)
	case idx == 18:
		if arg >= c.Blocks() {
			c.r1(0x20)
			return
		}
		c.r1(0x00)
		c.mode = modeReadMulti
		c.readNext = arg
	case idx == 24, idx == 25:
		if arg >= c.Blocks() {
			c.r1(0x20)
			return
		}
		c.r1(0x00)
		c.writeNext = arg
		c.mode = modeWriteSingle
		if idx == 25 {
			c.mode = modeWriteMulti
		}
	default:
		c.r1(c.status() | 0x04)
	}
}

func (c *Card) queueBlock(block uint32) {
	if c.opts.StallReads {
		c.stalling = true
		return
	}
	c.queueFill(c.opts.TokenDelay)
	if block >= c.Blocks() {
		c.queue(0x08)
		return
	}
	var data [BlockSize]byte
	if _, err := c.store.ReadAt(data[:], int64(block)*BlockSize); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		c.queue(0x01)
		return
	}
	c.queue(0xFE)
	c.queue(data[:]...)
	crc := sdcrc.CRC16(data[:])
	c.queue(byte(crc>>8), byte(crc))
	c.ends = append(c.ends, blockEnd{
		at: c.popped + uint64(len(c.out)),
		ev: Event{Kind: EventDataSent, Block: block},
	})
}

func (c *Card) queueData(reg []byte) {
	c.queueFill(c.opts.TokenDelay)
	c.queue(0xFE)
	c.queue(reg...)
	crc := sdcrc.CRC16(reg)
	c.queue(byte(crc>>8), byte(crc))
}
