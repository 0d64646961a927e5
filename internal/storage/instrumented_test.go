package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/storage/filestore"
	"github.com/italolelis/cloudcast/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedStore_DelegatesWithoutTelemetry(t *testing.T) {
	backend, err := filestore.New(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	for name, tel := range map[string]*telemetry.Telemetry{
		"nil":      nil,
		"disabled": {},
	} {
		t.Run(name, func(t *testing.T) {
			s := storage.NewInstrumentedStore(backend, tel)
			ctx := context.Background()
			want := storage.Descriptor{Direction: storage.Download, RemoteKey: "uploads/a.mp4", LocalPath: "/docs/a.mp4"}

			require.NoError(t, s.Save(ctx, want))

			got, ok, err := s.Load(ctx, storage.Download)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, got.Same(want))

			require.NoError(t, s.Clear(ctx, storage.Download))

			_, ok, err = s.Load(ctx, storage.Download)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
