package storage

import (
	"context"
	"fmt"
	"time"
)

// Direction tells whether a transfer moves a file to or from the object store.
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Directions lists every direction that owns a slot, in scan order.
var Directions = []Direction{Upload, Download}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Upload || d == Download
}

// Slot returns the persisted slot name for the direction. These names are part
// of the on-disk format and must not change.
func (d Direction) Slot() string {
	switch d {
	case Upload:
		return "pendingUpload"
	case Download:
		return "pendingDownload"
	}

	return ""
}

// Descriptor is the persisted identity of one in-flight transfer.
type Descriptor struct {
	Direction Direction
	RemoteKey string
	LocalPath string
	Attempts  int
	CreatedAt time.Time
}

// Same reports whether both descriptors point at the same transfer.
func (d Descriptor) Same(o Descriptor) bool {
	return d.Direction == o.Direction && d.RemoteKey == o.RemoteKey && d.LocalPath == o.LocalPath
}

// RecordStore keeps at most one pending descriptor per direction.
type RecordStore interface {
	// Save overwrites the slot of d.Direction.
	Save(ctx context.Context, d Descriptor) error
	// Load returns the slot content. A malformed slot is reported as absent.
	Load(ctx context.Context, dir Direction) (Descriptor, bool, error)
	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context, dir Direction) error
}

// CorruptRecordError is produced when a slot exists but cannot be decoded.
// Stores never return it from Load; it only shows up in logs.
type CorruptRecordError struct {
	Slot   string
	Reason string
	Err    error
}

func (e *CorruptRecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt record in slot %s: %s: %v", e.Slot, e.Reason, e.Err)
	}

	return fmt.Sprintf("corrupt record in slot %s: %s", e.Slot, e.Reason)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}
