// Package filestore keeps pending transfer slots as JSON files in a state
// directory, one file per slot.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/storage"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	lockFile       = ".lock"
	lockRetryDelay = 10 * time.Millisecond
)

// Store implements storage.RecordStore on the local filesystem. Writes go
// through a temp file and rename, so a crash leaves either the old or the new
// slot content on disk, never a torn one.
type Store struct {
	dir string

	// mu serialises goroutines of this process; lock guards against other
	// processes sharing the state directory.
	mu   sync.Mutex
	lock *flock.Flock
}

// New creates the state directory if needed and returns a store rooted at it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}

	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(dir storage.Direction) string {
	return filepath.Join(s.dir, dir.Slot()+".json")
}

// Save atomically replaces the slot file of d.Direction.
func (s *Store) Save(ctx context.Context, d storage.Descriptor) error {
	payload, err := storage.EncodeDescriptor(d)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	if err := renameio.WriteFile(s.path(d.Direction), payload, filePerm); err != nil {
		return fmt.Errorf("failed to save slot %s: %w", d.Direction.Slot(), err)
	}

	return nil
}

// Load reads the slot file of dir. Unreadable content is logged and reported as absent.
func (s *Store) Load(ctx context.Context, dir storage.Direction) (storage.Descriptor, bool, error) {
	unlock, err := s.acquire(ctx, false)
	if err != nil {
		return storage.Descriptor{}, false, err
	}
	defer unlock()

	data, err := os.ReadFile(s.path(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return storage.Descriptor{}, false, nil
	}

	if err != nil {
		return storage.Descriptor{}, false, fmt.Errorf("failed to load slot %s: %w", dir.Slot(), err)
	}

	d, err := storage.DecodeDescriptor(dir, data)
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("ignoring unreadable pending transfer", "slot", dir.Slot(), "path", s.path(dir), "err", err)

		return storage.Descriptor{}, false, nil
	}

	return d, true, nil
}

// Clear removes the slot file of dir, if any.
func (s *Store) Clear(ctx context.Context, dir storage.Direction) error {
	unlock, err := s.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.path(dir)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear slot %s: %w", dir.Slot(), err)
	}

	return nil
}

func (s *Store) acquire(ctx context.Context, write bool) (func(), error) {
	s.mu.Lock()

	var (
		ok  bool
		err error
	)

	if write {
		ok, err = s.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = s.lock.TryRLockContext(ctx, lockRetryDelay)
	}

	if err == nil && !ok {
		err = errors.New("could not acquire lock")
	}

	if err != nil {
		s.mu.Unlock()

		return nil, fmt.Errorf("failed to lock state directory %s: %w", s.dir, err)
	}

	return func() {
		s.lock.Unlock()
		s.mu.Unlock()
	}, nil
}
