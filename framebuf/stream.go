package framebuf

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrDone may be returned by a capture func to end the stream cleanly.
var ErrDone = errors.New("framebuf: capture done")

// Stream runs capture and present concurrently over chain until capture
// returns ErrDone, either side fails, or ctx is cancelled. Every frame that
// capture fills is presented exactly once before Stream returns nil.
//
// Stream closes chain when it returns.
func Stream(ctx context.Context, chain *SwapChain, capture, present func(*Frame) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer chain.Close()
		for {
			f, err := chain.Acquire(ctx)
			if err != nil {
				return err
			}
			if err := capture(f); err != nil {
				_ = chain.Discard(f)
				if errors.Is(err, ErrDone) {
					return nil
				}
				return err
			}
			if err := chain.Publish(f); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		for {
			f, err := chain.Next(ctx)
			if errors.Is(err, ErrClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			err = present(f)
			if rerr := chain.Release(f); err == nil {
				err = rerr
			}
			if err != nil {
				return err
			}
		}
	})
	return g.Wait()
}
