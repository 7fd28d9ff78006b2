package buildscript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestProduceSubstitutesWrapperAndSymlinksReal(t *testing.T) {
	dir := t.TempDir()

	realCompiler := filepath.Join(dir, "fake-rustc")
	outputBinary := filepath.Join(dir, "build-script-main-abc123")
	wrapperBinary := filepath.Join(dir, "fake-wrapper")

	// fake-rustc "compiles" by just writing a marker file at its first argument.
	writeExecutableScript(t, realCompiler, "#!/bin/sh\necho real-build-script-contents > \"$1\"\n")
	writeExecutableScript(t, wrapperBinary, "#!/bin/sh\necho wrapper\n")

	invokedAt := time.Date(2022, 2, 2, 0, 0, 0, 0, time.UTC)
	err := Produce(context.Background(), realCompiler, []string{outputBinary}, outputBinary, wrapperBinary, invokedAt)
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}

	// outputBinary must now be a copy of the wrapper, not the real script.
	got, err := os.ReadFile(outputBinary)
	if err != nil {
		t.Fatalf("reading output binary: %v", err)
	}
	if string(got) != "#!/bin/sh\necho wrapper\n" {
		t.Errorf("output binary contents = %q, want the wrapper's own contents", got)
	}

	info, err := os.Lstat(outputBinary)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("output binary is a symlink; spec requires a file copy")
	}

	symlink := filepath.Join(dir, RealBuildScriptSymlinkName)
	target, err := os.Readlink(symlink)
	if err != nil {
		t.Fatalf("reading real-build-script symlink: %v", err)
	}
	real, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading real build script through symlink: %v", err)
	}
	if string(real) != "real-build-script-contents\n" {
		t.Errorf("real build script contents = %q", real)
	}

	stamped, err := os.Stat(outputBinary)
	if err != nil {
		t.Fatal(err)
	}
	if !stamped.ModTime().Equal(invokedAt) {
		t.Errorf("output binary mtime = %v, want %v", stamped.ModTime(), invokedAt)
	}
}

func writeExecutableScript(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0755); err != nil {
		t.Fatal(err)
	}
}
