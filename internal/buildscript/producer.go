package buildscript

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/hope/internal/mtime"
)

// realBuildScriptSuffix is appended to the real build script binary's name
// once it has been renamed out of the way (spec.md §4.6 producer path).
const realBuildScriptSuffix = ".real-build-script-binary"

// RealBuildScriptSymlinkName is the fixed name of the symlink the producer
// creates, pointing at the renamed real build-script binary.
const RealBuildScriptSymlinkName = "real-build-script"

// Produce compiles the real build script by delegating to realCompiler with
// compilerArgs, then performs the substitution spec.md §4.6's producer path
// describes: rename the freshly compiled binary, symlink
// RealBuildScriptSymlinkName at it, and copy wrapperBinary (this wrapper's
// own executable) over the original output name, stamped with invokedAt.
//
// spec.md §9 is explicit that the final step must be a file copy, never a
// symlink: the outer driver copies the file it invokes, and on some
// platforms mtimes of symlink targets leak through `copy`, which would
// defeat the timestamp controller.
func Produce(ctx context.Context, realCompiler string, compilerArgs []string, outputBinary, wrapperBinary string, invokedAt time.Time) error {
	cmd := exec.CommandContext(ctx, realCompiler, compilerArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return xerrors.Errorf("compiling build script: %w", err)
	}

	renamed := outputBinary + realBuildScriptSuffix
	if err := os.Rename(outputBinary, renamed); err != nil {
		return xerrors.Errorf("renaming real build script binary: %w", err)
	}

	symlink := filepath.Join(filepath.Dir(outputBinary), RealBuildScriptSymlinkName)
	os.Remove(symlink) // ignore error: symlink may not exist yet
	if err := os.Symlink(renamed, symlink); err != nil {
		return xerrors.Errorf("linking real build script: %w", err)
	}

	if err := copyExecutable(wrapperBinary, outputBinary); err != nil {
		return xerrors.Errorf("installing wrapper as build script: %w", err)
	}
	if !invokedAt.IsZero() {
		if err := mtime.Stamp(outputBinary, invokedAt); err != nil {
			return err
		}
	}
	return nil
}

// copyExecutable copies src over dst by content, never by symlink (spec.md
// §9 "Self-impersonation via file copy, not symlink").
func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode()|0111)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
