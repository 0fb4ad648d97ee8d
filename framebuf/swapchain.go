package framebuf

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by Next once the chain is closed and drained.
	ErrClosed = errors.New("framebuf: swap chain closed")
	// ErrNotOwned is returned when a frame is handed back by a side that does not hold it.
	ErrNotOwned = errors.New("framebuf: frame not owned by caller")
)

type owner uint8

const (
	ownerFree owner = iota
	ownerProducer
	ownerQueued
	ownerConsumer
)

func (o owner) String() string {
	switch o {
	case ownerFree:
		return "free"
	case ownerProducer:
		return "producer"
	case ownerQueued:
		return "queued"
	case ownerConsumer:
		return "consumer"
	default:
		return fmt.Sprintf("owner(%d)", uint8(o))
	}
}

// SwapChain owns exactly two frames. A frame is held by at most one side at
// a time: the producer between Acquire and Publish, the consumer between Next
// and Release.
type SwapChain struct {
	frames [2]*Frame
	free   chan *Frame
	ready  chan *Frame

	mu     sync.Mutex
	owners [2]owner
	closed bool
}

// NewSwapChain allocates two width x height frames, both free.
func NewSwapChain(width, height int) *SwapChain {
	s := &SwapChain{
		free:  make(chan *Frame, 2),
		ready: make(chan *Frame, 2),
	}
	for i := range s.frames {
		f := NewFrame(width, height)
		f.id = i
		s.frames[i] = f
		s.free <- f
	}
	return s
}

// Acquire blocks until a free frame is available for capture.
func (s *SwapChain) Acquire(ctx context.Context) (*Frame, error) {
	select {
	case f := <-s.free:
		s.transfer(f, ownerFree, ownerProducer)
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish hands a captured frame to the consumer.
func (s *SwapChain) Publish(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.check(f, ownerProducer); err != nil {
		return err
	}
	s.owners[f.id] = ownerQueued
	// Never blocks: ready has room for both frames.
	s.ready <- f
	return nil
}

// Discard returns an acquired frame to the free pool without publishing it.
func (s *SwapChain) Discard(f *Frame) error {
	s.mu.Lock()
	if err := s.check(f, ownerProducer); err != nil {
		s.mu.Unlock()
		return err
	}
	s.owners[f.id] = ownerFree
	s.mu.Unlock()
	s.free <- f
	return nil
}

// Next blocks until a published frame is available for display.
func (s *SwapChain) Next(ctx context.Context) (*Frame, error) {
	select {
	case f, ok := <-s.ready:
		if !ok {
			return nil, ErrClosed
		}
		s.transfer(f, ownerQueued, ownerConsumer)
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a displayed frame to the producer.
func (s *SwapChain) Release(f *Frame) error {
	s.mu.Lock()
	if err := s.check(f, ownerConsumer); err != nil {
		s.mu.Unlock()
		return err
	}
	s.owners[f.id] = ownerFree
	s.mu.Unlock()
	s.free <- f
	return nil
}

// Close stops publishing. Frames already published are still returned by Next.
func (s *SwapChain) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ready)
	}
}

func (s *SwapChain) check(f *Frame, want owner) error {
	if f == nil || f.id < 0 || f.id >= len(s.frames) || s.frames[f.id] != f {
		return fmt.Errorf("%w: foreign frame", ErrNotOwned)
	}
	if got := s.owners[f.id]; got != want {
		return fmt.Errorf("%w: frame %d is %s, want %s", ErrNotOwned, f.id, got, want)
	}
	return nil
}

func (s *SwapChain) transfer(f *Frame, from, to owner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owners[f.id] != from {
		panic(fmt.Sprintf("framebuf: frame %d is %s, want %s", f.id, s.owners[f.id], from))
	}
	s.owners[f.id] = to
}
