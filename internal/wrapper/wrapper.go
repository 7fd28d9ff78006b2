// Package wrapper drives the wrapper process's core decision loop (spec.md
// §4.7): classify the invocation, consult the store, and for build-script-
// shaped invocations engage the orchestrator. cmd/hope-wrapper/main.go is a
// thin flag-parsing shell around this package, grounded on the teacher's
// split between internal/build (the core logic) and cmd/distri (CLI
// wiring) — internal/build.Ctx holds state and methods the same way
// Wrapper does here.
package wrapper

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/distr1/hope"
	"github.com/distr1/hope/internal/buildscript"
	"github.com/distr1/hope/internal/classify"
	"github.com/distr1/hope/internal/depinfo"
	"github.com/distr1/hope/internal/herr"
	"github.com/distr1/hope/internal/mtime"
	"github.com/distr1/hope/internal/store"
)

// Wrapper holds everything a single invocation needs: the backing store,
// the classifier's environment configuration, and the path to this
// process's own executable (needed for the build-script producer path,
// spec.md §4.6/§9).
type Wrapper struct {
	Store         store.Store
	ClassifierEnv classify.Env
	SelfPath      string
	Stdout        io.Writer
	Stderr        io.Writer
}

// Run implements spec.md §4.7 end to end and returns the exit code the
// process should use.
func (w *Wrapper) Run(ctx context.Context, argv []string) int {
	inv, err := classify.Classify(argv, w.ClassifierEnv)
	if err != nil {
		cerr := herr.Classify("classification failed: %v", err)
		fmt.Fprintf(w.Stderr, "hope: %v\n", cerr)
		return herr.ExitCode(cerr)
	}

	switch inv.Role {
	case classify.PassThrough:
		return w.passThrough(ctx, inv)
	case classify.ImpersonateBuildScript:
		return w.impersonate(ctx, inv)
	case classify.CompileBuildScriptUnit:
		return w.produceBuildScript(ctx, inv)
	case classify.CompileLibraryUnit:
		return w.compileLibraryUnit(ctx, inv)
	default:
		fmt.Fprintf(w.Stderr, "hope: internal error: unhandled role %v\n", inv.Role)
		return 1
	}
}

// passThrough delegates argv unchanged to the real compiler (spec.md §4.1,
// §7 "Pass-through").
func (w *Wrapper) passThrough(ctx context.Context, inv classify.Invocation) int {
	cmd := exec.CommandContext(ctx, inv.RealCompilerPath, inv.Args...)
	cmd.Stdout = w.Stdout
	cmd.Stderr = w.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		return exitCodeOf(err)
	}
	return 0
}

// outputDefnsFor returns the set of output-defns that apply to inv, derived
// from its --emit list and crate-types (spec.md §3 "Output definition").
func outputDefnsFor(inv classify.Invocation) []hope.OutputDefn {
	var defns []hope.OutputDefn
	for _, e := range inv.Emit {
		switch e {
		case "asm":
			defns = append(defns, hope.OutputDefn{Kind: hope.Assembly})
		case "llvm-bc":
			defns = append(defns, hope.OutputDefn{Kind: hope.Bitcode})
		case "llvm-ir":
			defns = append(defns, hope.OutputDefn{Kind: hope.TextualIR})
		case "obj":
			defns = append(defns, hope.OutputDefn{Kind: hope.Object})
		case "metadata":
			defns = append(defns, hope.OutputDefn{Kind: hope.MetadataBlob})
		case "dep-info":
			defns = append(defns, hope.OutputDefn{Kind: hope.DependencyInfo})
		case "mir":
			defns = append(defns, hope.OutputDefn{Kind: hope.MidLevelIR})
		case "link":
			for _, ct := range inv.CrateTypes {
				defns = append(defns, hope.OutputDefn{Kind: hope.Linked, CrateType: ct})
			}
		}
	}
	return defns
}

// compileLibraryUnit implements the pull path of spec.md §4.3 for a
// standard library/binary compilation.
func (w *Wrapper) compileLibraryUnit(ctx context.Context, inv classify.Invocation) int {
	defns := outputDefnsFor(inv)

	invokedAt, haveSentinel, err := mtime.FingerprintSentinel(inv.OutDir, inv.CrateName, inv.Metadata)
	if err != nil {
		fmt.Fprintf(w.Stderr, "hope: reading invoked-timestamp: %v\n", err)
		return 1
	}
	if !haveSentinel {
		serr := herr.Sentinel("no invoked.timestamp sentinel found above %s", inv.OutDir)
		fmt.Fprintf(w.Stderr, "hope: %v\n", serr)
		return herr.ExitCode(serr)
	}

	arrivalDir, err := os.MkdirTemp("", "hope-arrival-")
	if err != nil {
		fmt.Fprintf(w.Stderr, "hope: %v\n", err)
		return 1
	}
	defer os.RemoveAll(arrivalDir)

	ok, err := w.Store.Pull(ctx, inv.Unit, defns, arrivalDir)
	if err != nil {
		fmt.Fprintf(w.Stderr, "hope: pull failed: %v\n", err)
		return 1
	}
	if ok {
		if err := w.installPulled(inv, defns, arrivalDir, invokedAt); err != nil {
			fmt.Fprintf(w.Stderr, "hope: installing pulled outputs: %v\n", err)
			return 1
		}
		// The main unit was pulled from cache, so any build-script recipe
		// left behind by an impersonator run earlier in this crate's build
		// will never be consumed; discard it rather than leave it to be
		// picked up by some unrelated later build.
		if err := buildscript.DiscardRecipe(filepath.Dir(inv.OutDir)); err != nil {
			fmt.Fprintf(w.Stderr, "hope: discarding stale build script recipe: %v\n", err)
		}
		return 0
	}

	// Cache miss: run the real compiler, then push what it produced.
	exitCode := w.passThrough(ctx, inv)
	if exitCode != 0 {
		return exitCode
	}

	if err := w.runDeferredBuildScriptIfAny(ctx, inv.OutDir); err != nil {
		fmt.Fprintf(w.Stderr, "hope: %v\n", err)
		return 1
	}

	if err := w.pushFromOutDir(ctx, inv, defns); err != nil {
		// spec.md §7: push failure is logged, not fatal. Compilation
		// already succeeded.
		fmt.Fprintf(w.Stderr, "hope: push failed: %v\n", err)
	}

	return 0
}

// installPulled copies every pulled file from arrivalDir into out-dir,
// stamping each with invokedAt and rewriting dependency-info files
// (spec.md §4.3 step 3).
func (w *Wrapper) installPulled(inv classify.Invocation, defns []hope.OutputDefn, arrivalDir string, invokedAt time.Time) error {
	for _, defn := range defns {
		name, err := defn.Filename(inv.Unit)
		if err != nil {
			return err
		}
		src := filepath.Join(arrivalDir, name)
		dst := filepath.Join(inv.OutDir, name)
		if err := os.MkdirAll(inv.OutDir, 0755); err != nil {
			return err
		}

		if defn.Kind == hope.DependencyInfo {
			in, err := os.Open(src)
			if err != nil {
				return err
			}
			rewritten, err := depinfo.RewriteInPlace(in)
			in.Close()
			if err != nil {
				return err
			}
			if err := os.WriteFile(dst, rewritten, 0644); err != nil {
				return err
			}
		} else {
			if err := copyFile(src, dst); err != nil {
				return err
			}
		}

		if err := mtime.Stamp(dst, invokedAt); err != nil {
			return err
		}
	}
	return nil
}

// runDeferredBuildScriptIfAny implements spec.md §4.3 step 4's
// sub-bullet: if a deferred build-script recipe exists for this crate's
// build directory, run it now and reset every file in its output
// directory's mtime. The recipe lives in filepath.Dir(outDir), the same
// per-crate build directory shared with the build-script-build sibling
// (impersonate's scriptDir convention; Open Question #1), not in outDir
// itself.
func (w *Wrapper) runDeferredBuildScriptIfAny(ctx context.Context, outDir string) error {
	recipeDir := filepath.Dir(outDir)
	recipe, ok, err := buildscript.ReadRecipe(recipeDir)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := buildscript.RunDeferred(ctx, recipe, w.Stdout); err != nil {
		return err
	}
	if err := buildscript.DiscardRecipe(recipeDir); err != nil {
		return err
	}
	invokedAt, haveSentinel, err := mtime.FingerprintSentinel(outDir, "", "")
	if err == nil && haveSentinel {
		return mtime.StampTree(outDir, invokedAt)
	}
	return nil
}

// pushFromOutDir implements spec.md §4.3 step 4's push: copy every
// declared output-defn from out-dir into a departure directory, plus the
// build script's captured stdout if a crate-metadata-hash marker is
// present, and push the unit.
func (w *Wrapper) pushFromOutDir(ctx context.Context, inv classify.Invocation, defns []hope.OutputDefn) error {
	departureDir, err := os.MkdirTemp("", "hope-departure-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(departureDir)

	for _, defn := range defns {
		name, err := defn.Filename(inv.Unit)
		if err != nil {
			return err
		}
		if err := copyFile(filepath.Join(inv.OutDir, name), filepath.Join(departureDir, name)); err != nil {
			return err
		}
	}

	var scriptHash string
	if hash, ok := buildScriptCrateMetadataHash(inv.OutDir); ok {
		scriptHash = hash
		capturedOutputPath := filepath.Join(filepath.Dir(inv.OutDir), "output")
		if b, err := os.ReadFile(capturedOutputPath); err == nil {
			if err := os.WriteFile(filepath.Join(departureDir, hope.BuildScriptStdoutFilename(hash)), b, 0644); err != nil {
				return err
			}
		}
	}

	return w.Store.Push(ctx, inv.Unit, defns, scriptHash, departureDir)
}

// buildScriptCrateMetadataHash checks for the build-script-crate-metadata-
// hash marker file in the parent build directory (spec.md §4.3 step 4).
func buildScriptCrateMetadataHash(outDir string) (string, bool) {
	marker := filepath.Join(filepath.Dir(outDir), "build-script-crate-metadata-hash")
	b, err := os.ReadFile(marker)
	if err != nil {
		return "", false
	}
	hash := string(b)
	if hash == "" {
		return "", false
	}
	return hash, true
}

// impersonate dispatches into the build-script orchestrator's impersonator
// role (spec.md §4.6). By convention, scriptDir's parent (scriptDir being
// argv[0]'s parent) is the same directory pushFromOutDir looks in
// (filepath.Dir(inv.OutDir)) for the
// matching library unit's build: the build-script-build directory sits
// alongside the main unit's own out-dir, both children of the crate's
// build directory. That shared parent is where stageCapturedStdout leaves
// its "output" file and build-script-crate-metadata-hash marker for
// pushFromOutDir to pick up later in the *same* process tree's compiler-role
// invocation (spec.md §3's combined-push invariant; Open Question #1).
func (w *Wrapper) impersonate(ctx context.Context, inv classify.Invocation) int {
	scriptDir := filepath.Dir(inv.BuildScriptPath)

	exitCode, err := buildscript.Impersonate(ctx,
		w.Store.EventLog(),
		func(scriptHash string) ([]byte, bool, error) { return w.Store.BuildScriptStdout(scriptHash) },
		func(scriptHash string, data []byte) error { return stageCapturedStdout(scriptDir, scriptHash, data) },
		scriptDir, w.Stdout, w.Stderr)
	if err != nil {
		fmt.Fprintf(w.Stderr, "hope: %v\n", err)
	}
	return exitCode
}

// stageCapturedStdout writes a freshly captured build-script stdout next to
// scriptDir, where pushFromOutDir will find it once the main unit's own
// compilation finishes. It never touches the shared store directly: per
// spec.md §3, cached build-script stdout must become visible to other
// builds only as part of the main unit's own push, never on its own.
func stageCapturedStdout(scriptDir, scriptHash string, data []byte) error {
	parent := filepath.Dir(scriptDir)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(parent, "output"), data, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(parent, "build-script-crate-metadata-hash"), []byte(scriptHash), 0644)
}

// produceBuildScript dispatches into the build-script orchestrator's
// producer role (spec.md §4.6).
func (w *Wrapper) produceBuildScript(ctx context.Context, inv classify.Invocation) int {
	outputBinary := filepath.Join(inv.OutDir, string(inv.Unit))
	invokedAt, _, err := mtime.FingerprintSentinel(inv.OutDir, inv.CrateName, inv.Metadata)
	if err != nil {
		fmt.Fprintf(w.Stderr, "hope: %v\n", err)
		return 1
	}
	if err := buildscript.Produce(ctx, inv.RealCompilerPath, inv.Args, outputBinary, w.SelfPath, invokedAt); err != nil {
		fmt.Fprintf(w.Stderr, "hope: %v\n", err)
		return 1
	}
	return 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// exitCodeOf picks the code main should exit with for a failed child
// process, distinguishing a signal death from a plain non-zero exit
// (spec.md §7) by constructing a typed herr error and asking herr.ExitCode
// to decide, rather than matching err.Error() against a substring.
func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok && ee.ProcessState != nil {
		if ws, ok := ee.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return herr.ExitCode(&herr.SignalFailure{Signal: ws.Signal().String()})
		}
		return ee.ProcessState.ExitCode()
	}
	return herr.ExitCode(herr.Child("child process failed: %v", err))
}
