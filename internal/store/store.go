// Package store implements the content-addressed artifact pool of spec.md
// §2.2/§4.2: a single local-filesystem Store, reached through an interface
// so a future remote backend can be slotted in without touching callers
// (spec.md §9 "polymorphic cache backends" REDESIGN FLAG). Grounded on the
// teacher's internal/build copyFile helper for the file-copy primitive and
// on its broader use of golang.org/x/sync/errgroup (internal/build/build.go,
// internal/install/install.go) for bounded concurrent file copies.
package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/distr1/hope"
	"github.com/distr1/hope/internal/eventlog"
)

// Store is the capability set a cache backend must provide. The only
// implementation in scope is LocalStore; spec.md's non-goals exclude any
// remote/shared backend, but callers depend on this interface rather than
// *LocalStore so one can be added later.
type Store interface {
	// Pull copies every output-defn for unit from the store into
	// arrivalDir. Returns ok=false on any missing file; the caller must
	// then discard arrivalDir entirely (spec.md §4.2, §7).
	Pull(ctx context.Context, unit hope.UnitName, defns []hope.OutputDefn, arrivalDir string) (ok bool, err error)

	// Push copies every output-defn for unit from departureDir into the
	// store, and — if scriptHash is non-empty — also copies that
	// build-script's captured stdout, within the same operation (spec.md
	// §3: "the store guarantees this by performing both pushes within the
	// same push operation").
	Push(ctx context.Context, unit hope.UnitName, defns []hope.OutputDefn, scriptHash string, departureDir string) error

	// BuildScriptStdout returns the cached stdout for scriptHash, or
	// ok=false if absent.
	BuildScriptStdout(scriptHash string) (data []byte, ok bool, err error)

	// EventLog returns the store's audit trail sink, or nil if none is
	// attached (e.g. in tests that exercise Pull/Push without caring about
	// logging).
	EventLog() *eventlog.Log
}

// LocalStore is the sole Store implementation: a directory of loose files
// plus an append-only event log (spec.md §4.2).
type LocalStore struct {
	Root string
	Log  *eventlog.Log
}

// Open opens a LocalStore rooted at root, creating root if it does not
// exist, and attaches its event log.
func Open(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, xerrors.Errorf("creating store root: %w", err)
	}
	log, err := eventlog.Open(root)
	if err != nil {
		return nil, err
	}
	return &LocalStore{Root: root, Log: log}, nil
}

func (s *LocalStore) Pull(ctx context.Context, unit hope.UnitName, defns []hope.OutputDefn, arrivalDir string) (bool, error) {
	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, defn := range defns {
		defn := defn
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
			}
			name, err := defn.Filename(unit)
			if err != nil {
				return err
			}
			src := filepath.Join(s.Root, name)
			dst := filepath.Join(arrivalDir, name)
			if err := copyFile(src, dst); err != nil {
				if os.IsNotExist(err) {
					return errMiss
				}
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if xerrors.Is(err, errMiss) {
			return false, nil
		}
		return false, err
	}
	if s.Log != nil {
		s.Log.Append(eventlog.PulledCrateOutputs{
			CrateUnitName: string(unit),
			CopiedAt:      start,
			CopiedFrom:    s.Root,
			DurationSecs:  time.Since(start).Seconds(),
		})
	}
	return true, nil
}

func (s *LocalStore) Push(ctx context.Context, unit hope.UnitName, defns []hope.OutputDefn, scriptHash string, departureDir string) error {
	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, defn := range defns {
		defn := defn
		eg.Go(func() error {
			select {
			case <-egCtx.Done():
				return egCtx.Err()
			default:
			}
			name, err := defn.Filename(unit)
			if err != nil {
				return err
			}
			return copyFile(filepath.Join(departureDir, name), filepath.Join(s.Root, name))
		})
	}
	if scriptHash != "" {
		eg.Go(func() error {
			name := hope.BuildScriptStdoutFilename(scriptHash)
			return copyFile(filepath.Join(departureDir, name), filepath.Join(s.Root, name))
		})
	}
	if err := eg.Wait(); err != nil {
		return xerrors.Errorf("pushing unit %s: %w", unit, err)
	}
	if s.Log != nil {
		s.Log.Append(eventlog.PushedCrateOutputs{
			CrateUnitName: string(unit),
			CopiedAt:      start,
			CopiedFrom:    departureDir,
			DurationSecs:  time.Since(start).Seconds(),
		})
	}
	return nil
}

func (s *LocalStore) EventLog() *eventlog.Log { return s.Log }

func (s *LocalStore) BuildScriptStdout(scriptHash string) ([]byte, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.Root, hope.BuildScriptStdoutFilename(scriptHash)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Stat reports whether unit is present in the store (every declared
// output-defn exists) and the combined size of its files. Supplements
// spec.md with read-only introspection for callers that know the unit's
// output-defns (`hope-wrapper -inspect` uses PresentByPrefix instead); it
// adds no new on-disk format and never mutates the store.
func (s *LocalStore) Stat(unit hope.UnitName, defns []hope.OutputDefn) (present bool, sizeBytes int64, err error) {
	var total int64
	for _, defn := range defns {
		name, err := defn.Filename(unit)
		if err != nil {
			return false, 0, err
		}
		info, statErr := os.Stat(filepath.Join(s.Root, name))
		if statErr != nil {
			if os.IsNotExist(statErr) {
				return false, 0, nil
			}
			return false, 0, statErr
		}
		total += info.Size()
	}
	return true, total, nil
}

// PresentByPrefix does a best-effort directory scan for any file beginning
// with unit's name, for `hope-wrapper -inspect` when the caller does not
// know the full output-defn set. It is deliberately approximate (a
// coincidental filename prefix match is possible) and must never be used
// by the pull/push paths, which copy each declared output-defn by its
// exact filename.
func (s *LocalStore) PresentByPrefix(unit hope.UnitName) (present bool, totalBytes int64, err error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return false, 0, err
	}
	prefix := string(unit)
	for _, entry := range entries {
		name := entry.Name()
		if name == prefix || filepath.Ext(name) != "" && trimKnownSuffixes(name) == prefix {
			info, err := entry.Info()
			if err != nil {
				return false, 0, err
			}
			present = true
			totalBytes += info.Size()
		}
	}
	return present, totalBytes, nil
}

func trimKnownSuffixes(name string) string {
	name = strings.TrimPrefix(name, "lib")
	for _, suffix := range []string{".s", ".bc", ".ll", ".o", ".rmeta", ".d", ".mir", ".rlib", ".so", ".dylib"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

var errMiss = xerrors.New("store: missing file")

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
