package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkordes/bikeshare-etl/internal/domain"
)

// Discover lists the trip CSVs directly inside each of dirs (relative to
// root; "" is root itself), sorted lexicographically by path. Symlinks are
// followed; dangling links and links to directories are skipped. Missing
// subdirectories are skipped. A missing root returns domain.ErrNotFound.
func Discover(root string, dirs []string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ingest.Discover: %s: %w", root, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("ingest.Discover: %w", err)
	}

	var files []string
	for _, d := range dirs {
		dir := filepath.Join(root, d)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("ingest.Discover: %w", err)
		}
		for _, e := range entries {
			if !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if !isRegular(path, e) {
				continue
			}
			files = append(files, path)
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// isRegular reports whether e, or the file a symlink e points to, is a
// regular file.
func isRegular(path string, e fs.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
