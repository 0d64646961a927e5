package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/cloudcast/internal/objectstore"
	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteStalePartials(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, ".downloaded_video.mp4123")
	fresh := filepath.Join(dir, ".downloaded_video.mp4456")

	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0o600))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := DeleteStalePartials(context.Background(), dir, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestDeleteStalePartials_MissingDir(t *testing.T) {
	removed, err := DeleteStalePartials(context.Background(), filepath.Join(t.TempDir(), "missing"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPartialDirs(t *testing.T) {
	pending := []storage.Descriptor{
		{Direction: storage.Upload, RemoteKey: "up", LocalPath: "/videos/in.mp4"},
		{Direction: storage.Download, RemoteKey: "down", LocalPath: "/elsewhere/out.mp4"},
	}

	dirs := PartialDirs("/downloads", pending)

	assert.Equal(t, []string{
		filepath.Join("/downloads", objectstore.PartialDir),
		filepath.Join("/elsewhere", objectstore.PartialDir),
	}, dirs)
}

func TestPartialDirs_DownloadUnderDownloadDir(t *testing.T) {
	pending := []storage.Descriptor{
		{Direction: storage.Download, RemoteKey: "down", LocalPath: "/downloads/out.mp4"},
	}

	assert.Len(t, PartialDirs("/downloads", pending), 1)
}

func TestSweepPartials_CustomDestination(t *testing.T) {
	downloadDir := t.TempDir()
	elsewhere := t.TempDir()

	staging := objectstore.StagingDir(filepath.Join(elsewhere, "out.mp4"))
	require.NoError(t, os.MkdirAll(staging, 0o755))

	stale := filepath.Join(staging, ".out.mp4123")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	pending := []storage.Descriptor{
		{Direction: storage.Download, RemoteKey: "down", LocalPath: filepath.Join(elsewhere, "out.mp4")},
	}

	removed := SweepPartials(context.Background(), PartialDirs(downloadDir, pending), 24*time.Hour)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
}
