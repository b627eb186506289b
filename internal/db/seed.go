package db

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var mockImageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// SeedMockPool loads the image files of dir into an empty mock pool, in file name order, and
// returns the pool size. A populated pool is left alone; a missing dir leaves the pool empty.
func SeedMockPool(ctx context.Context, store *SQLiteStore, dir string, logger zerolog.Logger) (int, error) {
	n, err := store.CountMockImages(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debug().Int("images", n).Msg("mock pool already seeded")
		return n, nil
	}
	if dir == "" {
		logger.Warn().Msg("no mock image folder configured; mock pool is empty")
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("dir", dir).Msg("mock image folder not found; mock pool is empty")
			return 0, nil
		}
		return 0, errors.Wrap(err, "read mock image folder")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !mockImageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	images := make([][]byte, 0, len(names))
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, errors.Wrapf(err, "read mock image %s", name)
		}
		images = append(images, b)
	}
	if len(images) == 0 {
		logger.Warn().Str("dir", dir).Msg("mock image folder has no images")
		return 0, nil
	}
	if err := store.ReplaceMockImages(ctx, images); err != nil {
		return 0, err
	}
	logger.Info().Str("dir", dir).Int("images", len(images)).Msg("mock pool seeded")
	return len(images), nil
}
