package sdsim

import (
	"fmt"

	"maix/hal"
)

// EventKind classifies a bus event seen by the card.
type EventKind uint8

const (
	EventClock EventKind = iota + 1
	EventCommand
	// EventDataSent fires once the host has clocked in a whole block and its CRC.
	EventDataSent
	EventDataReceived
	EventStopToken
)

// Event is one entry of the card's bus log.
type Event struct {
	Kind   EventKind
	Cmd    uint8
	App    bool
	Arg    uint32
	Block  uint32
	Status byte
	Hz     hal.Hertz
}

func (e Event) String() string {
	switch e.Kind {
	case EventClock:
		return "clock " + e.Hz.String()
	case EventCommand:
		if e.App {
			return fmt.Sprintf("ACMD%d(%#x)", e.Cmd, e.Arg)
		}
		return fmt.Sprintf("CMD%d(%#x)", e.Cmd, e.Arg)
	case EventDataSent:
		return fmt.Sprintf("data-out %d", e.Block)
	case EventDataReceived:
		return fmt.Sprintf("data-in %d status 0x%02x", e.Block, e.Status)
	case EventStopToken:
		return "stop-token"
	default:
		return fmt.Sprintf("EventKind(%d)", e.Kind)
	}
}

func (c *Card) record(e Event) { c.events = append(c.events, e) }

// Events returns a copy of the bus log.
func (c *Card) Events() []Event {
	return append([]Event(nil), c.events...)
}

// Commands returns the logged commands only.
func (c *Card) Commands() []Event {
	var out []Event
	for _, e := range c.events {
		if e.Kind == EventCommand {
			out = append(out, e)
		}
	}
	return out
}

// ResetEvents clears the bus log.
func (c *Card) ResetEvents() { c.events = c.events[:0] }
