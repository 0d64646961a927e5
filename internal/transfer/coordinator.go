package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/telemetry"
)

const (
	dirPerm = 0755

	// DefaultMaxAttempts bounds how many failed attempts a pending descriptor
	// may accumulate before Resume gives up on it.
	DefaultMaxAttempts = 5

	eventBuffer = 16
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTelemetry instruments transfers and resume checks.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(c *Coordinator) {
		c.telemetry = tel
	}
}

// WithMaxAttempts sets the attempt cap used by Resume. Zero disables the cap
// and pending transfers are retried on every activation.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxAttempts = n
		}
	}
}

// Coordinator drives transfers end to end and keeps the record store in line
// with what is actually in flight. Each direction has at most one transfer
// running at a time.
type Coordinator struct {
	store       storage.RecordStore
	objects     ObjectStore
	telemetry   *telemetry.Telemetry
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	inflight map[storage.Direction]*Handle
	closed   bool
	wg       sync.WaitGroup

	events chan Event
}

// NewCoordinator creates a coordinator persisting descriptors in store and
// delegating the data movement to objects.
func NewCoordinator(store storage.RecordStore, objects ObjectStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       store,
		objects:     objects,
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		inflight:    make(map[storage.Direction]*Handle),
		events:      make(chan Event, eventBuffer),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Events streams terminal outcomes. Events are dropped when nobody keeps up.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Start validates the request, persists the descriptor and only then begins
// the transfer in the background.
func (c *Coordinator) Start(ctx context.Context, dir storage.Direction, remoteKey, localPath string) (*Handle, error) {
	logger := logctx.LoggerFromContext(ctx).With("direction", dir, "remote_key", remoteKey, "local_path", localPath)

	d := storage.Descriptor{
		Direction: dir,
		RemoteKey: remoteKey,
		LocalPath: localPath,
		CreatedAt: c.now().UTC(),
	}

	if err := validateDescriptor(d); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}

	if _, busy := c.inflight[dir]; busy {
		logger.Warn("rejecting transfer, direction is busy")

		return nil, ErrTransferInProgress
	}

	// A rejected request must not touch the filesystem.
	if err := checkLocal(d); err != nil {
		return nil, err
	}

	if err := c.store.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to persist pending %s: %w", dir, err)
	}

	logger.Info("saved pending transfer")

	return c.launch(ctx, d, false), nil
}

// Resume re-drives the transfer persisted for dir. It returns nil and no
// error when the slot is empty, and the running handle when a transfer for
// dir is already in flight.
func (c *Coordinator) Resume(ctx context.Context, dir storage.Direction) (*Handle, error) {
	if !dir.Valid() {
		return nil, &InvalidDescriptorError{Field: "direction", Reason: fmt.Sprintf("%q is unknown", dir)}
	}

	logger := logctx.LoggerFromContext(ctx).With("direction", dir)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrCoordinatorClosed
	}

	if h, busy := c.inflight[dir]; busy {
		logger.Debug("transfer already in flight, joining it")
		c.telemetry.RecordResume(string(dir), "coalesced")

		return h, nil
	}

	d, ok, err := c.store.Load(ctx, dir)
	if err != nil {
		c.telemetry.RecordResume(string(dir), "error")

		return nil, fmt.Errorf("failed to load pending %s: %w", dir, err)
	}

	if !ok {
		c.telemetry.RecordResume(string(dir), "empty")

		return nil, nil
	}

	logger = logger.With("remote_key", d.RemoteKey, "local_path", d.LocalPath, "attempts", d.Attempts)
	logger.Info("retrieved pending transfer")

	if c.maxAttempts > 0 && d.Attempts >= c.maxAttempts {
		if err := c.store.Clear(ctx, dir); err != nil {
			c.telemetry.RecordResume(string(dir), "error")

			return nil, fmt.Errorf("failed to clear abandoned %s: %w", dir, err)
		}

		logger.Warn("giving up on pending transfer", "max_attempts", c.maxAttempts)
		c.telemetry.RecordResume(string(dir), "abandoned")

		return nil, &ResumeAbandonedError{Descriptor: d, Attempts: d.Attempts}
	}

	if err := validateDescriptor(d); err != nil {
		c.telemetry.RecordResume(string(dir), "error")
		c.recordFailure(ctx, d)

		return nil, err
	}

	if err := checkLocal(d); err != nil {
		c.telemetry.RecordResume(string(dir), "error")
		c.recordFailure(ctx, d)

		return nil, err
	}

	c.telemetry.RecordResume(string(dir), "resumed")

	return c.launch(ctx, d, true), nil
}

// Active returns the handle of the transfer in flight for dir, if any.
func (c *Coordinator) Active(dir storage.Direction) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inflight[dir]
}

// Pending lists the descriptors currently persisted.
func (c *Coordinator) Pending(ctx context.Context) ([]storage.Descriptor, error) {
	var pending []storage.Descriptor

	for _, dir := range storage.Directions {
		d, ok, err := c.store.Load(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load pending %s: %w", dir, err)
		}

		if ok {
			pending = append(pending, d)
		}
	}

	return pending, nil
}

// Wait blocks until every transfer started so far has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops accepting transfers, waits for running ones and closes the
// event stream.
func (c *Coordinator) Close() {
	c.mu.Lock()
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()

	if !wasClosed {
		close(c.events)
	}
}

// launch registers the handle and runs the transfer. Callers hold c.mu.
func (c *Coordinator) launch(ctx context.Context, d storage.Descriptor, resumed bool) *Handle {
	h := newHandle(d, resumed)
	c.inflight[d.Direction] = h

	c.wg.Add(1)

	// The transfer outlives the request that started it; teardown leaves the
	// descriptor pending instead of cancelling.
	go c.run(context.WithoutCancel(ctx), h)

	return h
}

func (c *Coordinator) run(ctx context.Context, h *Handle) {
	defer c.wg.Done()

	d := h.Descriptor()
	logger := logctx.LoggerFromContext(ctx).With("direction", d.Direction, "remote_key", d.RemoteKey, "local_path", d.LocalPath)
	start := c.now()

	var confirmed string

	err := c.telemetry.InstrumentTransfer(ctx, string(d.Direction), func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("object store panic", "panic", r, "stack", string(debug.Stack()))

				err = fmt.Errorf("object store panic: %v", r)
			}
		}()

		logger.Info("transfer started", "resumed", h.Resumed(), "size", localSize(d))

		confirmed, err = runObjectStore(ctx, c.objects, d, h.publish)

		return err
	})

	if err != nil {
		err = classify(d, err)
		c.recordFailure(ctx, d)

		logger.Error("transfer failed, keeping it pending", "err", err, "duration", time.Since(start).String())
	} else {
		if confirmed == "" {
			confirmed = d.RemoteKey
		}

		if clearErr := c.store.Clear(ctx, d.Direction); clearErr != nil {
			// The object already made it; the next resume repeats an idempotent transfer.
			logger.Error("failed to clear pending transfer", "err", clearErr)
			c.telemetry.RecordSystemError("coordinator", "clear_slot")
		} else {
			logger.Info("cleared pending transfer")
		}

		logger.Info("transfer completed",
			"confirmed_key", confirmed,
			"duration", time.Since(start).String(),
		)
	}

	c.mu.Lock()
	if c.inflight[d.Direction] == h {
		delete(c.inflight, d.Direction)
	}
	c.mu.Unlock()

	h.complete(confirmed, err)

	c.emit(ctx, Event{Descriptor: d, RemoteKey: confirmed, Resumed: h.Resumed(), Err: err})
}

// recordFailure bumps the attempt counter of the pending descriptor. The
// remote key and local path are left untouched.
func (c *Coordinator) recordFailure(ctx context.Context, d storage.Descriptor) {
	d.Attempts++

	if err := c.store.Save(ctx, d); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record transfer attempt",
			"direction", d.Direction, "remote_key", d.RemoteKey, "err", err)
	}
}

func (c *Coordinator) emit(ctx context.Context, e Event) {
	select {
	case c.events <- e:
	default:
		logctx.LoggerFromContext(ctx).Warn("dropping transfer event, no consumer",
			"direction", e.Descriptor.Direction, "remote_key", e.Descriptor.RemoteKey)
	}
}

func validateDescriptor(d storage.Descriptor) error {
	switch {
	case !d.Direction.Valid():
		return &InvalidDescriptorError{Field: "direction", Reason: fmt.Sprintf("%q is unknown", d.Direction)}
	case strings.TrimSpace(d.RemoteKey) == "":
		return &InvalidDescriptorError{Field: "remote_key", Reason: "must not be empty"}
	case d.LocalPath == "":
		return &InvalidDescriptorError{Field: "local_path", Reason: "must not be empty"}
	case !filepath.IsAbs(d.LocalPath):
		return &InvalidDescriptorError{Field: "local_path", Reason: "must be absolute"}
	}

	return nil
}

// checkLocal verifies that the local side of d is usable: the upload source
// is a readable regular file, or the download destination directory exists
// (it is created if needed) and accepts new files.
func checkLocal(d storage.Descriptor) error {
	if d.Direction == storage.Upload {
		f, err := os.Open(d.LocalPath)
		if err != nil {
			return &LocalIOError{Op: "open", Path: d.LocalPath, Err: err}
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return &LocalIOError{Op: "stat", Path: d.LocalPath, Err: err}
		}

		if !info.Mode().IsRegular() {
			return &LocalIOError{Op: "open", Path: d.LocalPath, Err: fmt.Errorf("not a regular file")}
		}

		return nil
	}

	dir := filepath.Dir(d.LocalPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &LocalIOError{Op: "mkdir", Path: dir, Err: err}
	}

	probe, err := os.CreateTemp(dir, ".cloudcast-probe-*")
	if err != nil {
		return &LocalIOError{Op: "write", Path: dir, Err: err}
	}

	probe.Close()
	os.Remove(probe.Name())

	return nil
}

func localSize(d storage.Descriptor) string {
	if d.Direction != storage.Upload {
		return "unknown"
	}

	info, err := os.Stat(d.LocalPath)
	if err != nil {
		return "unknown"
	}

	return humanize.Bytes(uint64(info.Size()))
}
