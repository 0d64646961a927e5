// Package resume re-drives transfers left pending by a previous run.
package resume

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// Resumer re-drives the pending transfer of one direction.
type Resumer interface {
	Resume(ctx context.Context, dir storage.Direction) (*transfer.Handle, error)
}

// DirectionError tags a resume failure with the direction it happened on.
type DirectionError struct {
	Direction storage.Direction
	Err       error
}

func (e *DirectionError) Error() string {
	return fmt.Sprintf("resume %s: %v", e.Direction, e.Err)
}

func (e *DirectionError) Unwrap() error {
	return e.Err
}

// Scanner checks every direction for a pending transfer on launch and on each
// activation.
type Scanner struct {
	resumer Resumer

	mu       sync.Mutex
	observed map[*transfer.Handle]struct{}
}

func NewScanner(resumer Resumer) *Scanner {
	return &Scanner{
		resumer:  resumer,
		observed: make(map[*transfer.Handle]struct{}),
	}
}

// OnActivate resumes both directions concurrently and returns the handles of
// the transfers now in flight. Every direction is tried even if another one
// fails; the failures come back joined, one *DirectionError per direction.
func (s *Scanner) OnActivate(ctx context.Context) ([]*transfer.Handle, error) {
	logger := logctx.LoggerFromContext(ctx)

	handles := make([]*transfer.Handle, len(storage.Directions))
	errs := make([]error, len(storage.Directions))

	var wg errgroup.Group

	for i, dir := range storage.Directions {
		wg.Go(func() error {
			h, err := s.resumer.Resume(ctx, dir)
			if err != nil {
				logger.Error("failed to resume pending transfer", "direction", dir, "err", err)
				errs[i] = &DirectionError{Direction: dir, Err: err}

				return nil
			}

			if h == nil {
				logger.Debug("no pending transfer", "direction", dir)

				return nil
			}

			handles[i] = h
			s.observe(ctx, h)

			return nil
		})
	}

	_ = wg.Wait()

	resumed := make([]*transfer.Handle, 0, len(handles))

	for _, h := range handles {
		if h != nil {
			resumed = append(resumed, h)
		}
	}

	return resumed, errors.Join(errs...)
}

// Run scans once right away and again for every activation until ctx is done
// or activations is closed.
func (s *Scanner) Run(ctx context.Context, activations <-chan struct{}) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("scanning for pending transfers")

	s.OnActivate(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down resume scanner")

			return
		case _, ok := <-activations:
			if !ok {
				return
			}

			logger.Debug("activation received, scanning for pending transfers")

			s.OnActivate(ctx)
		}
	}
}

// observe logs the progress and outcome of h. A handle is only watched once,
// however many activations join it.
func (s *Scanner) observe(ctx context.Context, h *transfer.Handle) {
	s.mu.Lock()
	if _, ok := s.observed[h]; ok {
		s.mu.Unlock()

		return
	}

	s.observed[h] = struct{}{}
	s.mu.Unlock()

	d := h.Descriptor()
	logger := logctx.LoggerFromContext(ctx).With("direction", d.Direction, "remote_key", d.RemoteKey, "local_path", d.LocalPath)

	logger.Info("resumed pending transfer", "attempts", d.Attempts)

	updates := h.Progress()

	go func() {
		for fraction := range updates {
			logger.Debug("transfer progress", "percent", humanize.FtoaWithDigits(fraction*100, 2))
		}

		<-h.Done()

		key, err := h.Result()
		if err != nil {
			logger.Error("resumed transfer failed", "err", err)
		} else {
			logger.Info("resumed transfer completed", "confirmed_key", key)
		}

		s.mu.Lock()
		delete(s.observed, h)
		s.mu.Unlock()
	}()
}
