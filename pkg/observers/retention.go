package observers

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// PurgeTimelines deletes connection traces in dir last written before
// now-maxAge and reports how many went. Only *.jsonl files are considered;
// a missing dir or a non-positive maxAge is a no-op.
func PurgeTimelines(dir string, maxAge time.Duration) (int, error) {
	if dir == "" || maxAge <= 0 {
		return 0, nil
	}
	return purgeBefore(dir, time.Now().Add(-maxAge))
}

func purgeBefore(dir string, cutoff time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs error
	for _, path := range matches {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			errs = errors.Join(errs, err)
			continue
		case info.IsDir() || !info.ModTime().Before(cutoff):
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, err)
			continue
		}
		removed++
	}
	return removed, errs
}
