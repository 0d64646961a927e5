package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/italolelis/cloudcast/internal/storage"
	"github.com/italolelis/cloudcast/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhook struct {
	mu       sync.Mutex
	messages []string
	status   int
}

func (w *webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	w.messages = append(w.messages, payload["content"])
	status := w.status
	w.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}

	rw.WriteHeader(status)
}

func TestDiscordNotifier_Notify(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL)
	require.NoError(t, n.Notify(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, hook.messages)
}

func TestDiscordNotifier_Errors(t *testing.T) {
	t.Run("missing webhook", func(t *testing.T) {
		err := NewDiscordNotifier("").Notify(context.Background(), "hello")
		assert.ErrorIs(t, err, ErrNoWebhook)
	})

	t.Run("non 2xx status", func(t *testing.T) {
		srv := httptest.NewServer(&webhook{status: http.StatusTooManyRequests})
		defer srv.Close()

		err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "hello")
		assert.ErrorContains(t, err, "429")
	})
}

func TestFormatEvent(t *testing.T) {
	d := storage.Descriptor{Direction: storage.Download, RemoteKey: "uploads/abc.mp4", LocalPath: "/docs/out.mp4"}

	tests := []struct {
		name  string
		event transfer.Event
		want  string
	}{
		{
			name:  "download finished",
			event: transfer.Event{Descriptor: d, RemoteKey: "uploads/abc.mp4"},
			want:  "✅ Download finished for uploads/abc.mp4 (/docs/out.mp4)",
		},
		{
			name:  "resumed upload failed",
			event: transfer.Event{Descriptor: storage.Descriptor{Direction: storage.Upload, RemoteKey: "uploads/abc.mp4"}, Resumed: true, Err: errors.New("timeout")},
			want:  "❌ Resumed upload failed for uploads/abc.mp4: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatEvent(tt.event))
		})
	}
}

func TestForward(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	events := make(chan transfer.Event, 2)
	events <- transfer.Event{Descriptor: storage.Descriptor{Direction: storage.Upload, RemoteKey: "a", LocalPath: "/tmp/a"}, RemoteKey: "a"}
	events <- transfer.Event{Descriptor: storage.Descriptor{Direction: storage.Download, RemoteKey: "b"}, Err: errors.New("boom")}
	close(events)

	Forward(context.Background(), NewDiscordNotifier(srv.URL), events)

	require.Len(t, hook.messages, 2)
	assert.Contains(t, hook.messages[0], "Upload finished")
	assert.Contains(t, hook.messages[1], "Download failed")
}

func TestForward_DeliversAfterCancel(t *testing.T) {
	hook := &webhook{}
	srv := httptest.NewServer(hook)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan transfer.Event, 1)
	events <- transfer.Event{Descriptor: storage.Descriptor{Direction: storage.Download, RemoteKey: "k", LocalPath: "/tmp/k"}, RemoteKey: "k"}
	close(events)

	Forward(ctx, NewDiscordNotifier(srv.URL), events)

	require.Len(t, hook.messages, 1)
	assert.Contains(t, hook.messages[0], "Download finished")
}
