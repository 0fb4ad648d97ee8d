package app

import (
	"errors"
	"fmt"

	"maix/fatvol"
	"maix/hal"
	"maix/internal/buildinfo"
	"maix/sdcard"
)

var (
	errNoCardSlot = errors.New("app: board has no sd card slot")
	errNoCard     = errors.New("app: no card in slot")
)

type Config struct {
	SD sdcard.Config
	// Mount mounts the FAT filesystem and lists its root after card init.
	// A card without one boots with a nil Volume.
	Mount bool
	// MaxEntries caps the logged root listing (default 32).
	MaxEntries int
	// CardDetect names the GPIO pin wired to the slot's card-detect switch.
	// Empty skips the check and relies on card init alone.
	CardDetect string
}

// System is a booted board with an operational card.
type System struct {
	Card    *sdcard.Device
	Info    sdcard.CardInfo
	Disk    *sdcard.Disk
	Volume  *fatvol.Volume
	Entries []fatvol.Entry
}

// Boot initializes the card and, when configured, mounts its filesystem.
func Boot(h hal.HAL, cfg Config) (*System, error) {
	l := h.Logger()
	l.WriteLineString("maix: boot " + buildinfo.Short())

	bus, ok := h.SDCard()
	if !ok {
		return nil, errNoCardSlot
	}
	if cfg.CardDetect != "" {
		if err := detectCard(h, cfg.CardDetect); err != nil {
			return nil, err
		}
	}
	sdCfg := cfg.SD
	if sdCfg.Logger == nil {
		sdCfg.Logger = l
	}
	if sdCfg.Delay == nil {
		sdCfg.Delay = h.Delay()
	}
	sdCfg.SlaveSelect = bus.SlaveSelect

	led := h.LED()
	led.High()
	defer led.Low()

	dev := sdcard.New(bus.SPI, bus.CS, sdCfg)
	info, err := dev.Init()
	if err != nil {
		return nil, fmt.Errorf("app: sd init: %w", err)
	}
	l.WriteLineString(fmt.Sprintf("sd: %d blocks (%s) ocr=0x%08x", info.Blocks, formatBytes(info.CapacityBytes()), info.OCR))
	if cid, err := dev.CID(); err == nil {
		l.WriteLineString("sd: " + cid.String())
	}

	sys := &System{Card: dev, Info: info}
	if !cfg.Mount {
		return sys, nil
	}

	disk, err := sdcard.NewDisk(dev)
	if err != nil {
		return nil, fmt.Errorf("app: sd disk: %w", err)
	}
	sys.Disk = disk
	vol, err := fatvol.Mount(disk)
	if err != nil {
		// Cards without a filesystem still boot; they are never formatted here.
		l.WriteLineString("fat: " + err.Error())
		return sys, nil
	}
	sys.Volume = vol

	limit := cfg.MaxEntries
	if limit <= 0 {
		limit = 32
	}
	err = vol.ListDir("/", func(e fatvol.Entry) bool {
		sys.Entries = append(sys.Entries, e)
		if e.Dir {
			l.WriteLineString("fat: /" + e.Name + "/")
		} else {
			l.WriteLineString(fmt.Sprintf("fat: /%s %d", e.Name, e.Size))
		}
		return len(sys.Entries) < limit
	})
	if err != nil {
		_ = vol.Unmount()
		return nil, fmt.Errorf("app: %w", err)
	}
	return sys, nil
}

func detectCard(h hal.HAL, name string) error {
	pin := hal.FindPin(h.GPIO(), name)
	if pin == nil {
		return fmt.Errorf("app: card detect: no pin %q: %w", name, hal.ErrNotImplemented)
	}
	present, err := hal.CardPresent(pin)
	if err != nil {
		return fmt.Errorf("app: card detect: %w", err)
	}
	if !present {
		return errNoCard
	}
	return nil
}

// Close unmounts the filesystem, if mounted.
func (s *System) Close() error {
	if s == nil || s.Volume == nil {
		return nil
	}
	return s.Volume.Unmount()
}

// Run boots and blocks forever (TinyGo/native entrypoint). A boot failure is
// logged and the LED blinks the halt pattern.
func Run(h hal.HAL, cfg Config) {
	defer func() {
		if r := recover(); r != nil {
			halt(h, fmt.Errorf("panic: %v", r))
		}
	}()
	if _, err := Boot(h, cfg); err != nil {
		halt(h, err)
	}
	h.Logger().WriteLineString("maix: ready")
	select {}
}

func formatBytes(n uint64) string {
	const unit = 1000
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "kMGTPE"[exp])
}
