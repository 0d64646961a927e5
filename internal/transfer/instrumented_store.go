package transfer

import (
	"context"

	"github.com/italolelis/cloudcast/internal/progress"
	"github.com/italolelis/cloudcast/internal/telemetry"
)

// InstrumentedObjectStore wraps ObjectStore with telemetry.
type InstrumentedObjectStore struct {
	store      ObjectStore
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedObjectStore creates a new instrumented object store.
func NewInstrumentedObjectStore(store ObjectStore, tel *telemetry.Telemetry, clientType string) *InstrumentedObjectStore {
	return &InstrumentedObjectStore{
		store:      store,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Upload uploads a file with telemetry.
func (s *InstrumentedObjectStore) Upload(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	var result string

	err := s.telemetry.InstrumentClientOperation(ctx, s.clientType, "upload", func(ctx context.Context) error {
		var err error

		result, err = s.store.Upload(ctx, remoteKey, localPath, fn)

		return err
	})

	return result, err
}

// Download downloads a file with telemetry.
func (s *InstrumentedObjectStore) Download(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error) {
	var result string

	err := s.telemetry.InstrumentClientOperation(ctx, s.clientType, "download", func(ctx context.Context) error {
		var err error

		result, err = s.store.Download(ctx, remoteKey, localPath, fn)

		return err
	})

	return result, err
}
