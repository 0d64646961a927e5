package transfer

import (
	"errors"
	"fmt"

	"github.com/italolelis/cloudcast/internal/storage"
)

// ErrTransferInProgress is returned by Start when the direction already has a
// transfer in flight.
var ErrTransferInProgress = errors.New("transfer already in progress")

// ErrCoordinatorClosed is returned by Start and Resume after Close.
var ErrCoordinatorClosed = errors.New("coordinator is closed")

// InvalidDescriptorError reports a descriptor with a missing or malformed
// field. Nothing is persisted and no network call is made.
type InvalidDescriptorError struct {
	Field  string // Name of the offending field (e.g., "remote_key", "local_path")
	Reason string // Human-readable explanation
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid transfer descriptor: %s %s", e.Field, e.Reason)
}

// LocalIOError reports that the local side of a transfer is unusable: the
// upload source cannot be read or the download destination cannot be written.
type LocalIOError struct {
	Op   string // The local operation that failed (e.g., "open", "mkdir", "write")
	Path string // Local path involved
	Err  error  // Underlying error, if any
}

func (e *LocalIOError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("local %s failed for %s: %v", e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("local %s failed for %s", e.Op, e.Path)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}

// RemoteTransferError wraps any failure reported by the object store client
// (network, auth, quota). The pending descriptor is kept when it happens.
type RemoteTransferError struct {
	Direction storage.Direction
	RemoteKey string
	Code      string // Error code reported by the object store, if any
	Err       error
}

func (e *RemoteTransferError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote %s of %s failed (%s): %v", e.Direction, e.RemoteKey, e.Code, e.Err)
	}

	return fmt.Sprintf("remote %s of %s failed: %v", e.Direction, e.RemoteKey, e.Err)
}

func (e *RemoteTransferError) Unwrap() error {
	return e.Err
}

// ResumeAbandonedError is returned by Resume when a pending descriptor has
// used up its attempts. The slot has been cleared.
type ResumeAbandonedError struct {
	Descriptor storage.Descriptor
	Attempts   int
}

func (e *ResumeAbandonedError) Error() string {
	return fmt.Sprintf("gave up resuming %s of %s after %d attempts",
		e.Descriptor.Direction, e.Descriptor.RemoteKey, e.Attempts)
}

// classify makes sure every transfer failure carries one of the typed errors.
func classify(d storage.Descriptor, err error) error {
	var localErr *LocalIOError
	if errors.As(err, &localErr) {
		return err
	}

	var remoteErr *RemoteTransferError
	if errors.As(err, &remoteErr) {
		if remoteErr.Direction == "" {
			remoteErr.Direction = d.Direction
		}

		if remoteErr.RemoteKey == "" {
			remoteErr.RemoteKey = d.RemoteKey
		}

		return err
	}

	return &RemoteTransferError{Direction: d.Direction, RemoteKey: d.RemoteKey, Err: err}
}
