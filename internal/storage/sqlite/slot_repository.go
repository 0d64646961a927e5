package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/storage"
)

// SlotRepository implements storage.RecordStore on top of the transfer_slots table.
type SlotRepository struct {
	db *sql.DB
}

func NewSlotRepository(dbConn *sql.DB) *SlotRepository {
	return &SlotRepository{db: dbConn}
}

// Save upserts the slot of d.Direction.
func (r *SlotRepository) Save(ctx context.Context, d storage.Descriptor) error {
	payload, err := storage.EncodeDescriptor(d)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO transfer_slots (slot, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, d.Direction.Slot(), string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save slot %s: %w", d.Direction.Slot(), err)
	}

	return nil
}

// Load reads the slot of dir. Undecodable payloads are logged and reported as absent.
func (r *SlotRepository) Load(ctx context.Context, dir storage.Direction) (storage.Descriptor, bool, error) {
	var payload string

	err := r.db.QueryRowContext(ctx, `SELECT payload FROM transfer_slots WHERE slot = ?`, dir.Slot()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Descriptor{}, false, nil
	}

	if err != nil {
		return storage.Descriptor{}, false, fmt.Errorf("failed to load slot %s: %w", dir.Slot(), err)
	}

	d, err := storage.DecodeDescriptor(dir, []byte(payload))
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("ignoring unreadable pending transfer", "slot", dir.Slot(), "err", err)

		return storage.Descriptor{}, false, nil
	}

	return d, true, nil
}

// Clear deletes the slot of dir, if any.
func (r *SlotRepository) Clear(ctx context.Context, dir storage.Direction) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transfer_slots WHERE slot = ?`, dir.Slot()); err != nil {
		return fmt.Errorf("failed to clear slot %s: %w", dir.Slot(), err)
	}

	return nil
}
