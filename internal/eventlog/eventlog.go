// Package eventlog implements the append-only JSON-per-line audit trail of
// cache operations (spec.md §2.1, §6). Grounded on the teacher's
// internal/trace package, which sinks a similar line-oriented JSON stream
// for Chrome trace events; this package follows the same "one struct per
// event variant, marshalled under its tag name" shape.
package eventlog

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/distr1/hope/internal/lockfile"
)

// Filename is the store's fixed name for the event log (spec.md §6).
const Filename = "hope-log.jsonl"

// Entry is implemented by every event variant. isEntry is unexported so the
// variant set stays closed to this package, mirroring the teacher's use of
// closed enumerations in place of Go sum types (spec.md §9).
type Entry interface {
	isEntry()
	tag() string
}

type PulledCrateOutputs struct {
	CrateUnitName string    `json:"crate_unit_name"`
	CopiedAt      time.Time `json:"copied_at"`
	CopiedFrom    string    `json:"copied_from"`
	DurationSecs  float64   `json:"duration_secs"`
}

func (PulledCrateOutputs) isEntry()    {}
func (PulledCrateOutputs) tag() string { return "PulledCrateOutputs" }

type PushedCrateOutputs struct {
	CrateUnitName string    `json:"crate_unit_name"`
	CopiedAt      time.Time `json:"copied_at"`
	CopiedFrom    string    `json:"copied_from"`
	DurationSecs  float64   `json:"duration_secs"`
}

func (PushedCrateOutputs) isEntry()    {}
func (PushedCrateOutputs) tag() string { return "PushedCrateOutputs" }

type RanBuildScriptWrapper struct {
	CrateName string    `json:"crate_name"`
	RanAt     time.Time `json:"ran_at"`
}

func (RanBuildScriptWrapper) isEntry()    {}
func (RanBuildScriptWrapper) tag() string { return "RanBuildScriptWrapper" }

type RanBuildScript struct {
	CrateName string    `json:"crate_name"`
	RanAt     time.Time `json:"ran_at"`
}

func (RanBuildScript) isEntry()    {}
func (RanBuildScript) tag() string { return "RanBuildScript" }

// Log is an append-only JSONL sink backed by a single file, with appends
// serialised by an advisory flock on that file (spec.md §4.2: the log is
// guarded by a lock on the log file alone, not on artifacts).
type Log struct {
	path string
	f    *os.File
}

// Open opens (creating if necessary) the event log under root.
func Open(root string) (*Log, error) {
	path := filepath.Join(root, Filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, xerrors.Errorf("opening event log: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Append marshals e as {"<Variant>": {...fields...}} and appends it as one
// line, holding the advisory lock for the duration of the write.
func (l *Log) Append(e Entry) error {
	lock, err := lockfile.Acquire(int(l.f.Fd()))
	if err != nil {
		return xerrors.Errorf("locking event log: %w", err)
	}
	defer lock.Unlock()

	wrapped := map[string]Entry{e.tag(): e}
	b, err := json.Marshal(wrapped)
	if err != nil {
		return xerrors.Errorf("marshalling event: %w", err)
	}
	b = append(b, '\n')
	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return xerrors.Errorf("seeking event log: %w", err)
	}
	if _, err := l.f.Write(b); err != nil {
		return xerrors.Errorf("appending event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	return l.f.Close()
}

// Rotate truncates the log into a ".1" sibling if it has grown past
// maxBytes, leaving a fresh empty log in place. This supplements spec.md:
// the original Rust cache-log crate never needed rotation because its test
// harness threw away the store between runs, but a long-lived shared cache
// root accumulates one line per cache operation forever without it. Never
// invoked automatically — only from `hope-wrapper -rotate-log` — so it
// never races a concurrent Append.
func Rotate(root string, maxBytes int64) error {
	path := filepath.Join(root, Filename)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < maxBytes {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("reading event log for rotation: %w", err)
	}
	if err := renameio.WriteFile(path+".1", b, 0644); err != nil {
		return xerrors.Errorf("writing rotated event log: %w", err)
	}
	return renameio.WriteFile(path, nil, 0644)
}
