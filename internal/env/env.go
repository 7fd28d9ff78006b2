// Package env captures details about the hope environment: primarily where
// the shared content store lives. Grounded on distri's own internal/env,
// which resolves DISTRIROOT the same way.
package env

import (
	"os"
	"path/filepath"
)

// CacheRoot returns the store root directory: HOPE_CACHE_DIR if set,
// otherwise an OS-specific per-user cache directory named after this tool
// (spec.md §6). The caller is responsible for creating it if missing.
func CacheRoot() (string, error) {
	if dir := os.Getenv("HOPE_CACHE_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "hope"), nil
}

// EnsureCacheRoot resolves CacheRoot and creates it (and any parents) if it
// does not already exist.
func EnsureCacheRoot() (string, error) {
	dir, err := CacheRoot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// OutDir returns the build-script output directory the outer driver
// assigned to this invocation. Required in build-script role (spec.md §6).
func OutDir() (string, bool) {
	dir := os.Getenv("OUT_DIR")
	return dir, dir != ""
}
