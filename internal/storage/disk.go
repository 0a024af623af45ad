package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskUsageBytes returns the total size of the given files and directories. Empty and missing
// paths count as zero, and a path inside another given path is counted once.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range outermost(paths) {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// outermost cleans paths and drops empty ones, duplicates, and any nested in another.
func outermost(paths []string) []string {
	var cleaned []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		cleaned = append(cleaned, filepath.Clean(p))
	}
	sort.Strings(cleaned)
	var out []string
	for _, p := range cleaned {
		if n := len(out); n > 0 {
			last := out[n-1]
			if p == last || strings.HasPrefix(p, last+string(filepath.Separator)) {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
