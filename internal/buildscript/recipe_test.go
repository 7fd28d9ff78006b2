package buildscript

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteReadRecipeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	want := Recipe{
		RealBuildScriptPath: "/build/foo-abc123/real-build-script",
		EnvVars:             map[string]string{"OUT_DIR": "/build/foo-abc123/out", "CARGO_PKG_NAME": "foo"},
		WorkDir:             "/build/foo-abc123",
	}
	if err := WriteRecipe(dir, want); err != nil {
		t.Fatalf("WriteRecipe: %v", err)
	}
	got, ok, err := ReadRecipe(dir)
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if !ok {
		t.Fatal("ReadRecipe() ok = false after WriteRecipe")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadRecipe() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadRecipeAbsent(t *testing.T) {
	_, ok, err := ReadRecipe(t.TempDir())
	if err != nil {
		t.Fatalf("ReadRecipe: %v", err)
	}
	if ok {
		t.Error("ReadRecipe() ok = true for a directory with no recipe")
	}
}

func TestDiscardRecipe(t *testing.T) {
	dir := t.TempDir()
	if err := WriteRecipe(dir, Recipe{RealBuildScriptPath: "/x"}); err != nil {
		t.Fatal(err)
	}
	if err := DiscardRecipe(dir); err != nil {
		t.Fatalf("DiscardRecipe: %v", err)
	}
	_, ok, err := ReadRecipe(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("ReadRecipe() ok = true after DiscardRecipe")
	}
	// Discarding again must be a no-op, not an error.
	if err := DiscardRecipe(dir); err != nil {
		t.Errorf("second DiscardRecipe: %v", err)
	}
}

func TestScriptHashFromDir(t *testing.T) {
	tests := []struct {
		dir       string
		wantCrate string
		wantHash  string
		wantErr   bool
	}{
		{"/build/foo-abc123", "foo", "abc123", false},
		{"/build/build-script-main-deadbeef", "build-script-main", "deadbeef", false},
		{"/build/nodash", "", "", true},
	}
	for _, tt := range tests {
		crate, hash, err := ScriptHashFromDir(tt.dir)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ScriptHashFromDir(%q) err = nil, want an error", tt.dir)
			}
			continue
		}
		if err != nil {
			t.Errorf("ScriptHashFromDir(%q): %v", tt.dir, err)
			continue
		}
		if crate != tt.wantCrate || hash != tt.wantHash {
			t.Errorf("ScriptHashFromDir(%q) = %q, %q, want %q, %q", tt.dir, crate, hash, tt.wantCrate, tt.wantHash)
		}
	}
}
