// Package buildscript implements the build-script orchestrator of spec.md
// §4.6: the producer path (compiling a build script, then substituting a
// copy of this wrapper in its place) and the impersonator path (the wrapper
// standing in for the real build script, deferring its execution until the
// main unit's compiler call discovers it is actually needed).
//
// Grounded on the teacher's internal/build/buildc.go, buildcmake.go, and
// buildmeson.go family, which already splits "one file per build-system
// sub-role" the same way this package splits producer.go / impersonator.go.
package buildscript

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// RecipeFilename is the fixed name for the persisted invocation recipe
// (spec.md §6). Impersonate writes it into the per-crate build directory,
// the parent of the build script's own directory.
const RecipeFilename = "build-script-invocation-info.json"

// Recipe is the serialised record of how to invoke the real build script,
// if the main unit's compiler call later discovers it must be run after all
// (spec.md §3 "Build-script invocation recipe").
//
// Owned by the per-crate build directory that holds the build script's own
// directory; consumed exactly
// once, by whichever compiler-role invocation for the main unit finds it
// still present after a cache miss.
type Recipe struct {
	RealBuildScriptPath string            `json:"real_build_script_path"`
	EnvVars             map[string]string `json:"env_vars"`
	WorkDir             string            `json:"work_dir"`
}

// WriteRecipe persists r into dir, using renameio so a crash mid-write can
// never leave the consumer side a half-written JSON file to misparse.
func WriteRecipe(dir string, r Recipe) error {
	b, err := json.Marshal(r)
	if err != nil {
		return xerrors.Errorf("marshalling build script recipe: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, RecipeFilename), b, 0644); err != nil {
		return xerrors.Errorf("writing build script recipe: %w", err)
	}
	return nil
}

// ReadRecipe reads back a previously persisted recipe, or ok=false if none
// exists (the common case: the main unit was pulled from cache and the
// recipe was never consumed).
func ReadRecipe(dir string) (Recipe, bool, error) {
	b, err := os.ReadFile(filepath.Join(dir, RecipeFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return Recipe{}, false, nil
		}
		return Recipe{}, false, err
	}
	var r Recipe
	if err := json.Unmarshal(b, &r); err != nil {
		return Recipe{}, false, xerrors.Errorf("parsing build script recipe: %w", err)
	}
	return r, true, nil
}

// DiscardRecipe removes a previously persisted recipe once it is no longer
// needed (the main unit was pulled from cache, so the recipe is discarded
// rather than consumed).
func DiscardRecipe(dir string) error {
	err := os.Remove(filepath.Join(dir, RecipeFilename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ScriptHashFromDir derives the build-script's opaque script-hash from its
// parent directory name, formatted "{crate}-{hash}" (spec.md §4.6 step 1).
func ScriptHashFromDir(dir string) (crate, hash string, err error) {
	base := filepath.Base(dir)
	idx := lastDash(base)
	if idx < 0 {
		return "", "", xerrors.Errorf("build script directory %q does not match {crate}-{hash}", base)
	}
	return base[:idx], base[idx+1:], nil
}

func lastDash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' {
			return i
		}
	}
	return -1
}
