package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/cloudcast/internal/logctx"
	"github.com/italolelis/cloudcast/internal/objectstore"
	"github.com/italolelis/cloudcast/internal/storage"
)

// PartialDirs lists the staging directories that may hold partial downloads:
// the one under downloadDir and the one next to each pending download.
func PartialDirs(downloadDir string, pending []storage.Descriptor) []string {
	dirs := []string{filepath.Join(downloadDir, objectstore.PartialDir)}
	seen := map[string]bool{dirs[0]: true}

	for _, d := range pending {
		if d.Direction != storage.Download || d.LocalPath == "" {
			continue
		}

		dir := objectstore.StagingDir(d.LocalPath)
		if seen[dir] {
			continue
		}

		seen[dir] = true
		dirs = append(dirs, dir)
	}

	return dirs
}

// SweepPartials runs DeleteStalePartials over every dir. A failing dir is
// logged and does not stop the others.
func SweepPartials(ctx context.Context, dirs []string, keepDuration time.Duration) int {
	logger := logctx.LoggerFromContext(ctx)

	var removed int

	for _, dir := range dirs {
		n, err := DeleteStalePartials(ctx, dir, keepDuration)
		if err != nil {
			logger.Error("failed to delete stale partial downloads", "dir", dir, "err", err)
		}

		removed += n
	}

	return removed
}

// DeleteStalePartials deletes staged download files in dir that have not been
// touched for longer than keepDuration. Interrupted downloads leave these
// behind; a resumed download starts a fresh one. It returns how many files
// were removed.
func DeleteStalePartials(ctx context.Context, dir string, keepDuration time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, err
	}

	var removed int

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // already deleted
			}

			logger.Error("failed to stat partial file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= keepDuration {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to delete partial file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("deleted stale partial file",
			"file", filePath,
			"size", humanize.Bytes(uint64(info.Size())),
			"modified", humanize.Time(info.ModTime()),
		)
	}

	return removed, nil
}
