package storage

import (
	"context"

	"github.com/italolelis/cloudcast/internal/telemetry"
)

// InstrumentedStore wraps a RecordStore with telemetry.
type InstrumentedStore struct {
	store     RecordStore
	telemetry *telemetry.Telemetry
}

// NewInstrumentedStore creates a new instrumented record store.
func NewInstrumentedStore(store RecordStore, tel *telemetry.Telemetry) *InstrumentedStore {
	return &InstrumentedStore{
		store:     store,
		telemetry: tel,
	}
}

// Save persists a descriptor with telemetry.
func (s *InstrumentedStore) Save(ctx context.Context, d Descriptor) error {
	return s.telemetry.InstrumentDBOperation(ctx, "save", func(ctx context.Context) error {
		return s.store.Save(ctx, d)
	})
}

// Load reads a slot with telemetry.
func (s *InstrumentedStore) Load(ctx context.Context, dir Direction) (Descriptor, bool, error) {
	var (
		d  Descriptor
		ok bool
	)

	err := s.telemetry.InstrumentDBOperation(ctx, "load", func(ctx context.Context) error {
		var err error

		d, ok, err = s.store.Load(ctx, dir)

		return err
	})

	return d, ok, err
}

// Clear empties a slot with telemetry.
func (s *InstrumentedStore) Clear(ctx context.Context, dir Direction) error {
	return s.telemetry.InstrumentDBOperation(ctx, "clear", func(ctx context.Context) error {
		return s.store.Clear(ctx, dir)
	})
}
