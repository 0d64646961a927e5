package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) storagetest.Fixture {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "cloudcast.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return storagetest.Fixture{
		Store: NewSlotRepository(db),
		WriteRaw: func(t *testing.T, dir storage.Direction, raw []byte) {
			t.Helper()

			_, err := db.Exec(`INSERT OR REPLACE INTO transfer_slots (slot, payload, updated_at) VALUES (?, ?, datetime('now'))`,
				dir.Slot(), string(raw))
			require.NoError(t, err)
		},
	}
}

func TestSlotRepository(t *testing.T) {
	storagetest.TestSuite(t, newTestRepository)
}

func TestSlotRepository_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudcast.db")
	ctx := context.Background()

	db, err := InitDB(path)
	require.NoError(t, err)

	want := storage.Descriptor{Direction: storage.Upload, RemoteKey: "uploads/abc.mp4", LocalPath: "/tmp/video.mp4"}
	require.NoError(t, NewSlotRepository(db).Save(ctx, want))
	require.NoError(t, db.Close())

	db, err = InitDB(path)
	require.NoError(t, err)

	defer db.Close()

	got, ok, err := NewSlotRepository(db).Load(ctx, storage.Upload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Same(want))
}

func TestSlotRepository_SaveRejectsUnknownDirection(t *testing.T) {
	f := newTestRepository(t)

	err := f.Store.Save(context.Background(), storage.Descriptor{Direction: "sideways", RemoteKey: "k", LocalPath: "/tmp/x"})
	assert.Error(t, err)
}
