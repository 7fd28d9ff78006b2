// Package mtime implements the timestamp controller of spec.md §4.5: it
// locates the outer driver's invoked.timestamp sentinel for a unit and
// stamps files the wrapper writes with that value, rather than sampling
// the system clock (filesystem mtime granularity and drift can place "now"
// before a file just written). Grounded on the teacher's direct unix.*
// syscall usage in internal/build/build.go and internal/build/userns.go.
package mtime

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// FingerprintSentinel walks parent directories starting at outDir until it
// finds a directory containing a .fingerprint child, then reads the mtime
// of .fingerprint/{packageName}-{metadataHash}/invoked.timestamp.
//
// Fails softly (returns ok=false, err=nil) if no .fingerprint directory is
// found on the way up to the filesystem root, per spec.md §4.3 step 1.
func FingerprintSentinel(outDir, packageName, metadataHash string) (t time.Time, ok bool, err error) {
	dir := outDir
	for {
		fpDir := filepath.Join(dir, ".fingerprint")
		if info, statErr := os.Stat(fpDir); statErr == nil && info.IsDir() {
			sentinel := filepath.Join(fpDir, packageName+"-"+metadataHash, "invoked.timestamp")
			info, statErr := os.Stat(sentinel)
			if statErr != nil {
				if os.IsNotExist(statErr) {
					return time.Time{}, false, nil
				}
				return time.Time{}, false, xerrors.Errorf("stat invoked.timestamp: %w", statErr)
			}
			return info.ModTime(), true, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return time.Time{}, false, nil
		}
		dir = parent
	}
}

// Stamp sets path's mtime (and atime) to t.
func Stamp(path string, t time.Time) error {
	ts := unix.NsecToTimespec(t.UnixNano())
	times := [2]unix.Timespec{ts, ts}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times[:], 0); err != nil {
		return xerrors.Errorf("stamping %s: %w", path, err)
	}
	return nil
}

// StampTree walks dir and stamps every regular file found with t. Used
// after running a deferred build script to reset every file in its output
// directory to the build script's own invoked-timestamp (spec.md §4.3
// step 4).
func StampTree(dir string, t time.Time) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return Stamp(path, t)
	})
}
