// Package hopetest provides throwaway fixtures for exercising the wrapper
// without a real Rust toolchain: a scratch store root, a fake compiler
// script, and a Cargo-shaped workspace tree with a fingerprint sentinel.
// Grounded on the teacher's internal/distritest package, which offers the
// same kind of "spin up a throwaway directory, hand back a cleanup func"
// helpers for its own integration tests.
package hopetest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// StoreRoot creates an empty store root under t.TempDir(), cleaned up
// automatically when the test ends.
func StoreRoot(t testing.TB) string {
	t.Helper()
	return t.TempDir()
}

// FakeCompiler writes an executable shell script at path that copies
// stdin-independent fixed output files into whatever --out-dir it is
// given, then exits 0. It stands in for rustc in tests that exercise
// passThrough/compileLibraryUnit without a real Rust toolchain.
func FakeCompiler(t testing.TB, path string, files map[string]string) {
	t.Helper()
	var script string
	script += "#!/bin/sh\n"
	script += "out=\n"
	script += "while [ $# -gt 0 ]; do\n"
	script += "  case \"$1\" in\n"
	script += "    --out-dir) out=\"$2\"; shift 2 ;;\n"
	script += "    --out-dir=*) out=\"${1#--out-dir=}\"; shift ;;\n"
	script += "    *) shift ;;\n"
	script += "  esac\n"
	script += "done\n"
	script += "[ -z \"$out\" ] && exit 0\n"
	script += "mkdir -p \"$out\"\n"
	for name, contents := range files {
		script += fmt.Sprintf("cat > \"$out/%s\" <<'HOPETEST_EOF'\n%s\nHOPETEST_EOF\n", name, contents)
	}
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake compiler: %v", err)
	}
}

// FingerprintSentinel creates .fingerprint/{packageName}-{metadataHash}/
// invoked.timestamp under root (a directory above the out-dir the test
// will use), stamped with at, mirroring the outer
// driver's own sentinel layout (spec.md §4.3 step 1).
func FingerprintSentinel(t testing.TB, root, packageName, metadataHash string, at time.Time) {
	t.Helper()
	dir := filepath.Join(root, ".fingerprint", packageName+"-"+metadataHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("creating fingerprint dir: %v", err)
	}
	sentinel := filepath.Join(dir, "invoked.timestamp")
	if err := os.WriteFile(sentinel, nil, 0644); err != nil {
		t.Fatalf("writing sentinel: %v", err)
	}
	if err := os.Chtimes(sentinel, at, at); err != nil {
		t.Fatalf("stamping sentinel: %v", err)
	}
}

// RemoveAll wraps os.RemoveAll and fails the test on failure, mirroring
// the teacher's own distritest.RemoveAll helper.
func RemoveAll(t testing.TB, path string) {
	t.Helper()
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
