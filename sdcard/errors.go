package sdcard

import (
	"errors"
	"fmt"
)

var (
	ErrInitFailed     = errors.New("sdcard: init failed")
	ErrReadCSDFailed  = errors.New("sdcard: read CSD failed")
	ErrReadDataFailed = errors.New("sdcard: read data failed")
	// ErrCRC is a CRC mismatch: reported by the card for written data, or
	// detected by the driver on read data when CRC checking is enabled.
	ErrCRC     = errors.New("sdcard: crc error")
	ErrWrite   = errors.New("sdcard: write error")
	ErrUnknown = errors.New("sdcard: unknown data response")

	ErrTimeout         = errors.New("sdcard: timeout")
	ErrUnsupportedCard = errors.New("sdcard: unsupported card")
	ErrNotInitialized  = errors.New("sdcard: not initialized")
	ErrOutOfRange      = errors.New("sdcard: block out of range")
	ErrInvalidConfig   = errors.New("sdcard: invalid config")
)

// PartialWriteError is returned when a multi-block write fails after the
// card accepted Written of Total blocks starting at Start.
type PartialWriteError struct {
	Start   BlockIndex
	Written int
	Total   int
	Err     error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("sdcard: write %d blocks at %d: %d accepted: %v", e.Total, e.Start, e.Written, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// fail attaches what to kind, keeping cause matchable when present.
func fail(kind error, what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", kind, what)
	}
	return fmt.Errorf("%w: %s: %w", kind, what, cause)
}

// r1Error describes an R1 response carrying error bits.
type r1Error byte

func (r r1Error) Error() string {
	if byte(r) == noResponse {
		return "no response"
	}
	return fmt.Sprintf("R1 0x%02x", byte(r))
}

func checkR1(r byte) error {
	if r == noResponse || r&r1ErrorMask != 0 {
		return r1Error(r)
	}
	return nil
}
