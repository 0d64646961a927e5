package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/italolelis/cloudcast/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves path-style PutObject and GetObject for a single bucket.
type fakeS3 struct {
	mu           sync.Mutex
	bucket       string
	objects      map[string][]byte
	contentTypes map[string]string
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, *httptest.Server) {
	t.Helper()

	f := &fakeS3{bucket: bucket, objects: map[string][]byte{}, contentTypes: map[string]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + f.bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		writeError(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, prefix)
	if strings.HasPrefix(key, "denied/") {
		writeError(w, http.StatusForbidden, "AccessDenied")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "IncompleteBody")
			return
		}

		f.objects[key] = data
		f.contentTypes[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			writeError(w, http.StatusNotFound, "NoSuchKey")
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	default:
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()

	c, err := NewClient(context.Background(), Config{
		Bucket:               "videos",
		Region:               "us-east-1",
		Endpoint:             endpoint,
		AccessKey:            "test",
		SecretKey:            "test",
		ChecksumWhenRequired: true,
	})
	require.NoError(t, err)

	return c
}

func TestClient_UploadThenDownload(t *testing.T) {
	fake, srv := newFakeS3(t, "videos")
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "video.mp4")
	content := strings.Repeat("frame", 2048)
	require.NoError(t, os.WriteFile(src, []byte(content), 0o600))

	var upFractions []float64

	key, err := c.Upload(ctx, "uploads/abc.mp4", src, func(f float64) { upFractions = append(upFractions, f) })
	require.NoError(t, err)
	assert.Equal(t, "uploads/abc.mp4", key)
	assert.Equal(t, content, string(fake.objects["uploads/abc.mp4"]))
	assert.NotEmpty(t, fake.contentTypes["uploads/abc.mp4"])
	require.NotEmpty(t, upFractions)
	assert.Equal(t, 1.0, upFractions[len(upFractions)-1])

	dst := filepath.Join(t.TempDir(), "docs", "downloaded_video.mp4")

	var downFractions []float64

	key, err = c.Download(ctx, "uploads/abc.mp4", dst, func(f float64) { downFractions = append(downFractions, f) })
	require.NoError(t, err)
	assert.Equal(t, "uploads/abc.mp4", key)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
	require.NotEmpty(t, downFractions)
	assert.Equal(t, 1.0, downFractions[len(downFractions)-1])
	assert.IsNonDecreasing(t, downFractions)
}

func TestClient_DownloadMissingKey(t *testing.T) {
	_, srv := newFakeS3(t, "videos")
	c := newTestClient(t, srv.URL)

	dst := filepath.Join(t.TempDir(), "out.mp4")

	_, err := c.Download(context.Background(), "uploads/missing.mp4", dst, nil)

	var remoteErr *transfer.RemoteTransferError
	require.True(t, errors.As(err, &remoteErr), "expected RemoteTransferError, got %T", err)
	assert.Equal(t, "NoSuchKey", remoteErr.Code)
	assert.NoFileExists(t, dst)
}

func TestClient_UploadDenied(t *testing.T) {
	_, srv := newFakeS3(t, "videos")
	c := newTestClient(t, srv.URL)

	src := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o600))

	_, err := c.Upload(context.Background(), "denied/abc.mp4", src, nil)

	var remoteErr *transfer.RemoteTransferError
	require.True(t, errors.As(err, &remoteErr), "expected RemoteTransferError, got %T", err)
	assert.Equal(t, "AccessDenied", remoteErr.Code)
}

func TestClient_UploadMissingSource(t *testing.T) {
	_, srv := newFakeS3(t, "videos")
	c := newTestClient(t, srv.URL)

	_, err := c.Upload(context.Background(), "uploads/abc.mp4", filepath.Join(t.TempDir(), "missing.mp4"), nil)

	var localErr *transfer.LocalIOError
	require.True(t, errors.As(err, &localErr), "expected LocalIOError, got %T", err)
}

func TestNewClient_RequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Region: "us-east-1"})
	assert.Error(t, err)
}
