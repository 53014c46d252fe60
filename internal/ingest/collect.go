// Package ingest discovers report files on disk for batch and watch runs.
package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/health-reports/constants"
)

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
	Failed  uint32
}

// ExtSet builds the lookup set for includeExts, defaulting to the supported
// media types when empty.
func ExtSet(includeExts []string) map[string]struct{} {
	exts := map[string]struct{}{}
	for _, e := range includeExts {
		if e = constants.NormalizeExt(e); e != "" {
			exts[e] = struct{}{}
		}
	}
	if len(exts) == 0 {
		for e := range constants.AllowedExtensions {
			exts[e] = struct{}{}
		}
	}
	return exts
}

// CollectFiles walks root and returns matching files in lexical order.
// Unreadable entries are counted as failures and the walk continues.
func CollectFiles(root string, includeExts []string, skipHidden bool) ([]string, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("root path is required")
	}
	exts := ExtSet(includeExts)

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		stats.Scanned++
		if !Allowed(path, exts) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return paths, stats, fmt.Errorf("walk %s: %w", root, err)
	}
	return paths, stats, nil
}

// Allowed reports whether path's extension is in exts.
func Allowed(path string, exts map[string]struct{}) bool {
	_, ok := exts[constants.NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
