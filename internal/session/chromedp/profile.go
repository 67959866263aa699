package chromedp

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	restoreNames = []string{"current session", "current tabs", "last session", "last tabs"}
	restoreDumps = regexp.MustCompile(`^(session|tabs)_\d+`)
)

// CleanRestoreFiles removes the session and tab dumps Chromium uses to reopen
// previous tabs, leaving cookies and preferences intact. It returns the
// removed paths. A missing directory is not an error.
func CleanRestoreFiles(userDataDir string) ([]string, error) {
	var removed []string
	var errs []error
	err := filepath.WalkDir(userDataDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, walkErr)
			return nil
		}
		if d.IsDir() || !isRestoreFile(d.Name()) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			return nil
		}
		removed = append(removed, path)
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

func isRestoreFile(name string) bool {
	lower := strings.ToLower(name)
	for _, n := range restoreNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return restoreDumps.MatchString(lower)
}
