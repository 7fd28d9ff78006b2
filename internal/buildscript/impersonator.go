package buildscript

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/distr1/hope/internal/eventlog"
	"github.com/distr1/hope/internal/herr"
)

// rerunIfPrefix and linkSearchPrefix mark build-script stdout lines that must never
// be replayed verbatim from a cached run: they instruct the outer driver to
// watch files (spec.md's cargo:rerun-if- family) or a link-search path
// (supplementing spec.md from original_source/hope/src/build_script.rs)
// that may no longer exist in this workspace, which would otherwise trigger
// a perpetual rebuild.
const rerunIfPrefix = "cargo:rerun-if-"
const linkSearchPrefix = "cargo:rustc-link-search="

// Impersonate runs the wrapper in its build-script-substitution role
// (spec.md §4.6 impersonator). scriptDir is the build-script's own output
// directory (argv[0]'s parent), stdout/stderr are this process's standard
// streams.
//
// persistCaptured writes a freshly captured real-script stdout to disk
// keyed by scriptHash; it deliberately does NOT push straight into the
// shared store. spec.md §3 requires that a cached build-script stdout's
// mere presence implies the downstream main unit was *also* fully cached,
// with both pushed in the same store.Push call (hope/src/cache.rs's
// push_crate does exactly this: the stdout file only reaches the store
// alongside the main unit's own output-defns). So the impersonator stages
// the bytes locally, and the main unit's compiler-role wrapper picks them
// up and pushes them together once it finishes (spec.md §4.3 step 4).
func Impersonate(ctx context.Context, log *eventlog.Log, lookup func(scriptHash string) (data []byte, ok bool, err error), persistCaptured func(scriptHash string, data []byte) error, scriptDir string, stdout, stderr io.Writer) (exitCode int, err error) {
	crate, scriptHash, err := ScriptHashFromDir(scriptDir)
	if err != nil {
		return 1, err
	}

	now := time.Now()
	if log != nil {
		log.Append(eventlog.RanBuildScriptWrapper{CrateName: crate, RanAt: now})
	}

	cached, ok, err := lookup(scriptHash)
	if err != nil {
		return 1, xerrors.Errorf("looking up cached build script stdout: %w", err)
	}
	if ok {
		filtered := filterDirectives(cached)
		if _, err := stdout.Write(filtered); err != nil {
			return 1, err
		}
		explain(stderr, crate)

		symlink := filepath.Join(scriptDir, RealBuildScriptSymlinkName)
		target, linkErr := os.Readlink(symlink)
		if linkErr != nil {
			target = symlink // best effort; consumer will fail loudly if it tries to use this
		}
		recipe := Recipe{
			RealBuildScriptPath: target,
			EnvVars:             environMap(),
			WorkDir:             cwdOrEmpty(),
		}
		// The recipe is written to scriptDir's parent, not scriptDir itself:
		// that parent is the per-crate build directory the main unit's own
		// out-dir is also a child of (wrapper.impersonate's scriptDir/outDir
		// sibling convention), which is where the compiler-role wrapper
		// handling that same crate looks it up.
		if err := WriteRecipe(filepath.Dir(scriptDir), recipe); err != nil {
			return 1, err
		}
		return 0, nil
	}

	symlink := filepath.Join(scriptDir, RealBuildScriptSymlinkName)
	real, err := filepath.EvalSymlinks(symlink)
	if err != nil {
		return 1, xerrors.Errorf("resolving real build script: %w", err)
	}
	var captured bytes.Buffer
	cmd := exec.CommandContext(ctx, real)
	cmd.Stdout = io.MultiWriter(stdout, &captured)
	cmd.Stderr = stderr
	runErr := cmd.Run()
	if log != nil {
		log.Append(eventlog.RanBuildScript{CrateName: crate, RanAt: time.Now()})
	}
	if runErr != nil {
		return exitCodeOf(runErr), herr.Child("running real build script: %v", runErr)
	}
	if err := persistCaptured(scriptHash, captured.Bytes()); err != nil {
		// spec.md §7: push failure is logged, not fatal — the real script
		// already ran successfully.
		fmt.Fprintf(stderr, "hope: staging build script stdout: %v\n", err)
	}
	return 0, nil
}

// RunDeferred executes a previously persisted recipe. Called from the
// compiler-role wrapper (spec.md §4.3 step 4) when the main unit misses the
// cache and the recipe left behind by Impersonate must be consumed.
func RunDeferred(ctx context.Context, r Recipe, stdout io.Writer) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.RealBuildScriptPath)
	cmd.Dir = r.WorkDir
	cmd.Env = envSlice(r.EnvVars)
	var captured bytes.Buffer
	cmd.Stdout = io.MultiWriter(stdout, &captured)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, xerrors.Errorf("running deferred build script: %w", err)
	}
	return captured.Bytes(), nil
}

func filterDirectives(stdout []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, rerunIfPrefix) {
			continue
		}
		if strings.HasPrefix(line, linkSearchPrefix) {
			path := strings.TrimPrefix(line, linkSearchPrefix)
			if idx := strings.IndexByte(path, '='); idx >= 0 {
				path = path[idx+1:] // native=<path> / framework=<path>
			}
			if _, err := os.Stat(path); err != nil {
				continue
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

func explain(w io.Writer, crate string) {
	msg := fmt.Sprintf("hope: substituted cached build script output for %s\n", crate)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		msg = "\x1b[2m" + strings.TrimSuffix(msg, "\n") + "\x1b[0m\n"
	}
	io.WriteString(w, msg)
}

func environMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func cwdOrEmpty() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

// exitCodeOf mirrors internal/wrapper's exitCodeOf: a signal death is
// surfaced as a herr.SignalFailure rather than conflated with a plain
// non-zero exit (spec.md §7).
func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok && ee.ProcessState != nil {
		if ws, ok := ee.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return herr.ExitCode(&herr.SignalFailure{Signal: ws.Signal().String()})
		}
		return ee.ProcessState.ExitCode()
	}
	return herr.ExitCode(herr.Child("child process failed: %v", err))
}
