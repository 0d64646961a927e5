package transfer

import (
	"context"

	"github.com/italolelis/cloudcast/internal/progress"
	"github.com/italolelis/cloudcast/internal/storage"
)

// ObjectStore is the cloud storage client transfers are delegated to. Both
// calls block until the transfer reaches a terminal state and return the
// remote key confirmed by the store. Progress is reported through fn, which
// may be called from any goroutine.
type ObjectStore interface {
	Upload(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error)
	Download(ctx context.Context, remoteKey, localPath string, fn progress.Func) (string, error)
}

// Event describes the terminal outcome of a transfer.
type Event struct {
	Descriptor storage.Descriptor
	RemoteKey  string
	Resumed    bool
	Err        error
}

// Failed reports whether the transfer ended with an error.
func (e Event) Failed() bool {
	return e.Err != nil
}

func runObjectStore(ctx context.Context, objects ObjectStore, d storage.Descriptor, fn progress.Func) (string, error) {
	if d.Direction == storage.Upload {
		return objects.Upload(ctx, d.RemoteKey, d.LocalPath, fn)
	}

	return objects.Download(ctx, d.RemoteKey, d.LocalPath, fn)
}
