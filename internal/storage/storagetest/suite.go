// Package storagetest provides a conformance test suite for storage.RecordStore
// implementations.
//
// Example usage:
//
//	func TestSlotRepository(t *testing.T) {
//	    storagetest.TestSuite(t, func(t *testing.T) storagetest.Fixture {
//	        ...
//	    })
//	}
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture is a fresh, empty store plus a way to write raw bytes into a slot,
// bypassing the encoder, so the suite can plant malformed records.
type Fixture struct {
	Store    storage.RecordStore
	WriteRaw func(t *testing.T, dir storage.Direction, raw []byte)
}

// TestSuite runs all conformance tests. newFixture is called once per test.
func TestSuite(t *testing.T, newFixture func(t *testing.T) Fixture) {
	tests := map[string]func(t *testing.T, f Fixture){
		"SaveThenLoad":        testSaveThenLoad,
		"SaveOverwrites":      testSaveOverwrites,
		"SlotsAreIndependent": testSlotsAreIndependent,
		"LoadEmpty":           testLoadEmpty,
		"ClearIsIdempotent":   testClearIsIdempotent,
		"CorruptIsAbsent":     testCorruptIsAbsent,
		"LegacyPayload":       testLegacyPayload,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t))
		})
	}
}

func upload() storage.Descriptor {
	return storage.Descriptor{
		Direction: storage.Upload,
		RemoteKey: "uploads/abc.mp4",
		LocalPath: "/tmp/video.mp4",
		Attempts:  2,
		CreatedAt: time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC),
	}
}

func download() storage.Descriptor {
	return storage.Descriptor{
		Direction: storage.Download,
		RemoteKey: "uploads/abc.mp4",
		LocalPath: "/docs/out.mp4",
	}
}

func testSaveThenLoad(t *testing.T, f Fixture) {
	ctx := context.Background()
	want := upload()

	require.NoError(t, f.Store.Save(ctx, want))

	got, ok, err := f.Store.Load(ctx, storage.Upload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.RemoteKey, got.RemoteKey)
	assert.Equal(t, want.LocalPath, got.LocalPath)
	assert.Equal(t, want.Attempts, got.Attempts)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, storage.Upload, got.Direction)
}

func testSaveOverwrites(t *testing.T, f Fixture) {
	ctx := context.Background()

	require.NoError(t, f.Store.Save(ctx, upload()))

	next := upload()
	next.RemoteKey = "uploads/def.mp4"
	next.Attempts = 0
	require.NoError(t, f.Store.Save(ctx, next))

	got, ok, err := f.Store.Load(ctx, storage.Upload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "uploads/def.mp4", got.RemoteKey)
	assert.Zero(t, got.Attempts)
}

func testSlotsAreIndependent(t *testing.T, f Fixture) {
	ctx := context.Background()

	require.NoError(t, f.Store.Save(ctx, upload()))
	require.NoError(t, f.Store.Save(ctx, download()))
	require.NoError(t, f.Store.Clear(ctx, storage.Upload))

	_, ok, err := f.Store.Load(ctx, storage.Upload)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := f.Store.Load(ctx, storage.Download)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Same(download()))
}

func testLoadEmpty(t *testing.T, f Fixture) {
	for _, dir := range storage.Directions {
		got, ok, err := f.Store.Load(context.Background(), dir)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, storage.Descriptor{}, got)
	}
}

func testClearIsIdempotent(t *testing.T, f Fixture) {
	ctx := context.Background()

	require.NoError(t, f.Store.Save(ctx, download()))

	for i := 0; i < 2; i++ {
		require.NoError(t, f.Store.Clear(ctx, storage.Download))

		_, ok, err := f.Store.Load(ctx, storage.Download)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func testCorruptIsAbsent(t *testing.T, f Fixture) {
	payloads := map[string][]byte{
		"truncated json":    []byte(`{"key": "uploads/abc.mp4", "fileU`),
		"missing key":       []byte(`{"fileURL": "/tmp/video.mp4"}`),
		"missing path":      []byte(`{"key": "uploads/abc.mp4"}`),
		"wrong direction":   []byte(`{"key": "uploads/abc.mp4", "localFile": "/docs/out.mp4"}`),
		"not an object":     []byte(`["uploads/abc.mp4"]`),
		"negative attempts": []byte(`{"key": "uploads/abc.mp4", "fileURL": "/tmp/video.mp4", "attempts": -1}`),
		"empty":             {},
	}

	for name, raw := range payloads {
		t.Run(name, func(t *testing.T) {
			f.WriteRaw(t, storage.Upload, raw)

			got, ok, err := f.Store.Load(context.Background(), storage.Upload)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Equal(t, storage.Descriptor{}, got)
		})
	}
}

// testLegacyPayload reads slots written before attempts were tracked.
func testLegacyPayload(t *testing.T, f Fixture) {
	f.WriteRaw(t, storage.Download, []byte(`{"key": "uploads/abc.mp4", "localFile": "/docs/out.mp4"}`))

	got, ok, err := f.Store.Load(context.Background(), storage.Download)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Same(download()))
	assert.Zero(t, got.Attempts)
	assert.True(t, got.CreatedAt.IsZero())
}
