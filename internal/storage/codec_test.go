package storage

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDescriptor_FieldNames(t *testing.T) {
	tests := []struct {
		name     string
		d        Descriptor
		pathKey  string
		otherKey string
	}{
		{
			name:     "upload",
			d:        Descriptor{Direction: Upload, RemoteKey: "uploads/abc.mp4", LocalPath: "/tmp/video.mp4"},
			pathKey:  "fileURL",
			otherKey: "localFile",
		},
		{
			name:     "download",
			d:        Descriptor{Direction: Download, RemoteKey: "uploads/abc.mp4", LocalPath: "/docs/out.mp4"},
			pathKey:  "localFile",
			otherKey: "fileURL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeDescriptor(tt.d)
			require.NoError(t, err)

			var fields map[string]any
			require.NoError(t, json.Unmarshal(raw, &fields))

			assert.Equal(t, tt.d.RemoteKey, fields["key"])
			assert.Equal(t, tt.d.LocalPath, fields[tt.pathKey])
			assert.NotContains(t, fields, tt.otherKey)
			assert.NotContains(t, fields, "attempts")
			assert.NotContains(t, fields, "createdAt")
		})
	}
}

func TestEncodeDescriptor_UnknownDirection(t *testing.T) {
	_, err := EncodeDescriptor(Descriptor{Direction: "sideways", RemoteKey: "k", LocalPath: "/x"})
	assert.Error(t, err)
}

func TestDecodeDescriptor_KeepsMetadata(t *testing.T) {
	created := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)

	raw, err := EncodeDescriptor(Descriptor{
		Direction: Download,
		RemoteKey: "uploads/abc.mp4",
		LocalPath: "/docs/out.mp4",
		Attempts:  3,
		CreatedAt: created,
	})
	require.NoError(t, err)

	d, err := DecodeDescriptor(Download, raw)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Attempts)
	assert.True(t, created.Equal(d.CreatedAt))
	assert.Equal(t, Download, d.Direction)
}

func TestDecodeDescriptor_Corrupt(t *testing.T) {
	tests := map[string]string{
		"invalid json":       `{"key":`,
		"missing key":        `{"fileURL": "/tmp/video.mp4"}`,
		"missing local path": `{"key": "uploads/abc.mp4", "localFile": "/docs/out.mp4"}`,
		"negative attempts":  `{"key": "uploads/abc.mp4", "fileURL": "/tmp/video.mp4", "attempts": -2}`,
	}

	for reason, raw := range tests {
		t.Run(reason, func(t *testing.T) {
			_, err := DecodeDescriptor(Upload, []byte(raw))

			var corrupt *CorruptRecordError
			require.True(t, errors.As(err, &corrupt), "expected CorruptRecordError, got %T", err)
			assert.Equal(t, "pendingUpload", corrupt.Slot)
			assert.Equal(t, reason, corrupt.Reason)
		})
	}
}

func TestDirection_Slot(t *testing.T) {
	assert.Equal(t, "pendingUpload", Upload.Slot())
	assert.Equal(t, "pendingDownload", Download.Slot())
	assert.False(t, Direction("sideways").Valid())
}
