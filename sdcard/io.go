package sdcard

import (
	"encoding/binary"
	"fmt"
	"time"

	"maix/hal"
	"maix/internal/sdcrc"
)

// NumBlocks reads the CSD and returns the card capacity in blocks.
func (d *Device) NumBlocks() (BlockCount, error) {
	if d.state != StateOperational {
		return 0, ErrNotInitialized
	}
	defer d.deselect()
	_, n, err := d.readCapacity()
	if err != nil {
		return 0, err
	}
	d.info.Blocks = n
	return n, nil
}

func (d *Device) readCapacity() (CSD, BlockCount, error) {
	var csd CSD
	if err := d.readRegister(CmdSendCSD, csd[:]); err != nil {
		return CSD{}, 0, fail(ErrReadCSDFailed, "CMD9", err)
	}
	n, err := csd.BlockCount()
	if err != nil {
		return CSD{}, 0, fmt.Errorf("%w: %w", ErrReadCSDFailed, err)
	}
	return csd, n, nil
}

// CID reads the card identification register.
func (d *Device) CID() (CID, error) {
	if d.state != StateOperational {
		return CID{}, ErrNotInitialized
	}
	defer d.deselect()
	var cid CID
	if err := d.readRegister(CmdSendCID, cid[:]); err != nil {
		return CID{}, fail(ErrReadDataFailed, "CMD10", err)
	}
	return cid, nil
}

func (d *Device) readRegister(cmd Command, dst []byte) error {
	r, err := d.command(cmd, 0, 0)
	if err != nil {
		return err
	}
	if r != r1Ready {
		return r1Error(r)
	}
	return d.readData(dst)
}

// ReadBlocks reads len(blocks) consecutive blocks starting at start.
func (d *Device) ReadBlocks(blocks []Block, start BlockIndex) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := d.checkRange(start, len(blocks)); err != nil {
		return err
	}
	defer d.deselect()
	if len(blocks) == 1 {
		return d.readSingle(&blocks[0], start)
	}
	return d.readMulti(blocks, start)
}

func (d *Device) readSingle(blk *Block, start BlockIndex) error {
	r, err := d.command(CmdReadSingleBlock, uint32(start), 0)
	if err != nil {
		return fail(ErrReadDataFailed, "CMD17", err)
	}
	if err := checkR1(r); err != nil {
		return fail(ErrReadDataFailed, fmt.Sprintf("CMD17 block %d", start), err)
	}
	if err := d.readData(blk[:]); err != nil {
		return fail(ErrReadDataFailed, fmt.Sprintf("block %d", start), err)
	}
	return nil
}

func (d *Device) readMulti(blocks []Block, start BlockIndex) error {
	r, err := d.command(CmdReadMultipleBlock, uint32(start), 0)
	if err != nil {
		return fail(ErrReadDataFailed, "CMD18", err)
	}
	if err := checkR1(r); err != nil {
		return fail(ErrReadDataFailed, fmt.Sprintf("CMD18 block %d", start), err)
	}
	for i := range blocks {
		if err := d.readData(blocks[i][:]); err != nil {
			_ = d.stopTransmission()
			return fail(ErrReadDataFailed, fmt.Sprintf("block %d", start+BlockIndex(i)), err)
		}
	}
	if err := d.stopTransmission(); err != nil {
		return fail(ErrReadDataFailed, "CMD12", err)
	}
	return nil
}

// stopTransmission ends a CMD18 stream. The first byte after CMD12 may still
// be stream data, so two response reads are consumed.
func (d *Device) stopTransmission() error {
	if err := d.sendCommand(CmdStopTransmission, 0, 0); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := d.readResponse(); err != nil {
			return err
		}
	}
	return d.waitReady(d.cfg.ReadTimeout)
}

// readData runs the data-read protocol: wait for the start token, read
// len(dst) bytes, then the two CRC bytes.
func (d *Device) readData(dst []byte) error {
	tok, err := d.waitToken()
	if err != nil {
		return err
	}
	if tok != tokenStartBlock && tok&0xF0 == 0 {
		return fmt.Errorf("data error token 0x%02x", tok)
	}
	if err := d.spi.Tx(d.fill[:len(dst)], dst); err != nil {
		return err
	}
	if err := d.spi.Tx(d.fill[:2], d.crc[:]); err != nil {
		return err
	}
	if d.cfg.CRC {
		got, want := binary.BigEndian.Uint16(d.crc[:]), sdcrc.CRC16(dst)
		if got != want {
			return fmt.Errorf("%w: data crc 0x%04x, computed 0x%04x", ErrCRC, got, want)
		}
	}
	return nil
}

// waitToken polls until a byte whose low two bits are not both set.
func (d *Device) waitToken() (byte, error) {
	deadline := d.clk.Now().Add(d.cfg.ReadTimeout)
	for {
		tok, err := d.readResponse()
		if err != nil {
			return 0, err
		}
		if tok&0b11 != 0b11 {
			return tok, nil
		}
		if d.clk.Now().After(deadline) {
			return 0, fmt.Errorf("%w: no data token within %s", ErrTimeout, d.cfg.ReadTimeout)
		}
	}
}

// waitReady polls until the card stops holding the bus at 0x00.
func (d *Device) waitReady(timeout time.Duration) error {
	if err := d.configure(hal.TransferReceive); err != nil {
		return err
	}
	deadline := d.clk.Now().Add(timeout)
	for {
		b, err := d.spi.Transfer(0xFF)
		if err != nil {
			return err
		}
		if b != 0x00 {
			return nil
		}
		if d.clk.Now().After(deadline) {
			return fmt.Errorf("%w: card busy after %s", ErrTimeout, timeout)
		}
	}
}

// WriteBlocks writes len(blocks) consecutive blocks starting at start.
//
// A failed multi-block write returns a *PartialWriteError wrapping the block
// error; the stop token has already been sent.
func (d *Device) WriteBlocks(blocks []Block, start BlockIndex) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := d.checkRange(start, len(blocks)); err != nil {
		return err
	}
	defer d.deselect()
	if len(blocks) == 1 {
		return d.writeSingle(&blocks[0], start)
	}
	return d.writeMulti(blocks, start)
}

func (d *Device) writeSingle(blk *Block, start BlockIndex) error {
	r, err := d.command(CmdWriteBlock, uint32(start), 0)
	if err != nil {
		return fail(ErrWrite, "CMD24", err)
	}
	if err := checkR1(r); err != nil {
		return fail(ErrWrite, fmt.Sprintf("CMD24 block %d", start), err)
	}
	if err := d.writeData(tokenStartBlock, blk); err != nil {
		return fmt.Errorf("sdcard: write block %d: %w", start, err)
	}
	return nil
}

func (d *Device) writeMulti(blocks []Block, start BlockIndex) error {
	r, err := d.command(CmdWriteMultipleBlock, uint32(start), 0)
	if err != nil {
		return fail(ErrWrite, "CMD25", err)
	}
	if err := checkR1(r); err != nil {
		return fail(ErrWrite, fmt.Sprintf("CMD25 block %d", start), err)
	}
	for i := range blocks {
		if err := d.writeData(tokenStartMulti, &blocks[i]); err != nil {
			_ = d.stopWrite()
			return &PartialWriteError{Start: start, Written: i, Total: len(blocks), Err: err}
		}
	}
	if err := d.stopWrite(); err != nil {
		return fail(ErrWrite, "stop token", err)
	}
	return nil
}

// writeData sends one data packet and classifies the card's data response.
func (d *Device) writeData(token byte, blk *Block) error {
	d.token = [2]byte{0xFF, token}
	d.crc = [2]byte{}
	if d.cfg.CRC {
		binary.BigEndian.PutUint16(d.crc[:], sdcrc.CRC16(blk[:]))
	}
	if err := d.sendData(d.token[:], blk[:], d.crc[:]); err != nil {
		return fail(ErrWrite, "data packet", err)
	}
	r, err := d.readResponse()
	if err != nil {
		return fail(ErrWrite, "data response", err)
	}
	if err := dataResponse(r); err != nil {
		return err
	}
	if err := d.waitReady(d.cfg.WriteTimeout); err != nil {
		return fail(ErrWrite, "programming", err)
	}
	return nil
}

func dataResponse(r byte) error {
	switch r & dataResponseMask {
	case dataAccepted:
		return nil
	case dataCRCError:
		return fmt.Errorf("%w: data response 0x%02x", ErrCRC, r)
	case dataWriteError:
		return fmt.Errorf("%w: data response 0x%02x", ErrWrite, r)
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknown, r)
	}
}

func (d *Device) stopWrite() error {
	d.token = [2]byte{tokenStopTran, 0x00}
	if err := d.sendData(d.token[:]); err != nil {
		return err
	}
	return d.waitReady(d.cfg.WriteTimeout)
}

func (d *Device) sendData(parts ...[]byte) error {
	if err := d.configure(hal.TransferTransmit); err != nil {
		return err
	}
	for _, p := range parts {
		if err := d.spi.Tx(p, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) checkRange(start BlockIndex, n int) error {
	if d.state != StateOperational {
		return ErrNotInitialized
	}
	if end := uint64(start) + uint64(n); d.info.Blocks != 0 && end > uint64(d.info.Blocks) {
		return fmt.Errorf("%w: blocks [%d, %d) beyond %d", ErrOutOfRange, start, end, d.info.Blocks)
	}
	return nil
}
