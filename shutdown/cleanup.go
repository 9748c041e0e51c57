package shutdown

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"layerforge/logging"
)

// partialSuffix marks in-progress weight downloads. The precache tool
// writes to <file>.part and renames on success, so anything still carrying
// the suffix is garbage.
const partialSuffix = ".part"

// CleanPartialDownloads returns a cleanup step that removes interrupted
// weight downloads under dir. A missing dir is not an error.
func CleanPartialDownloads(logger *logging.Logger, dir string) Func {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context) error {
		removed := 0
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if d.IsDir() || !strings.HasSuffix(path, partialSuffix) {
				return nil
			}
			if rmErr := os.Remove(path); rmErr != nil {
				logger.Warn("failed to remove partial download",
					zap.String("path", path),
					zap.Error(rmErr))
				return nil
			}
			removed++
			return nil
		})
		if os.IsNotExist(err) {
			return nil
		}
		if removed > 0 {
			logger.Info("removed partial downloads",
				zap.String("dir", dir),
				zap.Int("count", removed))
		}
		return err
	}
}
