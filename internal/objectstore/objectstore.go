// Package objectstore holds the pieces shared by the object store clients:
// opening upload sources and landing downloads on disk.
package objectstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/renameio/v2"
	"github.com/italolelis/cloudcast/internal/progress"
	"github.com/italolelis/cloudcast/internal/transfer"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755

	// PartialDir is the directory, next to the destination, where downloads
	// are staged until they complete.
	PartialDir = ".cloudcast-partial"
)

// StagingDir returns the directory a download to localPath is staged in.
func StagingDir(localPath string) string {
	return filepath.Join(filepath.Dir(localPath), PartialDir)
}

// Source is an opened upload source.
type Source struct {
	File        *os.File
	Size        int64
	ContentType string
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.File.Close()
}

// Body returns a reader over the file that reports progress to fn.
func (s *Source) Body(fn progress.Func) *progress.Reader {
	return progress.NewReader(s.File, s.Size, fn)
}

// OpenSource opens localPath for upload and sniffs its content type.
func OpenSource(localPath string) (*Source, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, &transfer.LocalIOError{Op: "open", Path: localPath, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, &transfer.LocalIOError{Op: "stat", Path: localPath, Err: err}
	}

	contentType := "application/octet-stream"
	if mime, err := mimetype.DetectReader(f); err == nil {
		contentType = mime.String()
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()

		return nil, &transfer.LocalIOError{Op: "seek", Path: localPath, Err: err}
	}

	return &Source{File: f, Size: info.Size(), ContentType: contentType}, nil
}

// WriteFile streams body into localPath, replacing it atomically once the
// whole body has been received. A partial download never shows up at
// localPath. Failures on the local side come back as *transfer.LocalIOError;
// read failures are returned as they are.
func WriteFile(localPath string, body io.Reader, total int64, fn progress.Func) error {
	staging := StagingDir(localPath)
	if err := os.MkdirAll(staging, dirPerm); err != nil {
		return &transfer.LocalIOError{Op: "mkdir", Path: staging, Err: err}
	}

	pending, err := renameio.NewPendingFile(localPath,
		renameio.WithPermissions(filePerm),
		renameio.WithTempDir(staging),
	)
	if err != nil {
		return &transfer.LocalIOError{Op: "create", Path: localPath, Err: err}
	}
	defer pending.Cleanup()

	tracker := progress.NewTracker(total, fn)

	w := &localWriter{w: pending, path: localPath}
	if _, err := io.Copy(w, io.TeeReader(body, tracker)); err != nil {
		var localErr *transfer.LocalIOError
		if errors.As(err, &localErr) {
			return err
		}

		return fmt.Errorf("failed to read object body: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return &transfer.LocalIOError{Op: "rename", Path: localPath, Err: err}
	}

	tracker.Finish()

	return nil
}

// localWriter tags write failures as local so they are not mistaken for
// network errors.
type localWriter struct {
	w    io.Writer
	path string
}

func (lw *localWriter) Write(p []byte) (int, error) {
	n, err := lw.w.Write(p)
	if err != nil {
		return n, &transfer.LocalIOError{Op: "write", Path: lw.path, Err: err}
	}

	return n, nil
}
