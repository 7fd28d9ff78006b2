// Command hope-wrapper masquerades as the Rust compiler and as any crate's
// build script, substituting previously cached outputs when a matching
// fingerprint exists in the shared store (spec.md §1, §4.7). Grounded on
// cmd/distri/distri.go's funcmain() error + flag.Parse() shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/distr1/hope"
	"github.com/distr1/hope/internal/classify"
	"github.com/distr1/hope/internal/env"
	"github.com/distr1/hope/internal/eventlog"
	"github.com/distr1/hope/internal/sigctx"
	"github.com/distr1/hope/internal/store"
	"github.com/distr1/hope/internal/wrapper"
)

var (
	inspect    = flag.String("inspect", "", "print whether <unit-name> is present in the store, then exit")
	rotateLog  = flag.Bool("rotate-log", false, "truncate hope-log.jsonl into a .1 sibling if it has grown past 64MiB, then exit")
	buildDir   = flag.String("build-dir-segment", "/build/", "path segment identifying the driver's per-unit build directory")
	extSrcRoot = flag.String("external-source-prefix", "", "path prefix identifying the driver's immutable external package source tree")
)

func funcmain() int {
	flag.Parse()

	root, err := env.EnsureCacheRoot()
	if err != nil {
		log.Printf("hope: resolving cache root: %v", err)
		return 1
	}

	if *rotateLog {
		if err := eventlog.Rotate(root, 64<<20); err != nil {
			log.Printf("hope: rotating event log: %v", err)
			return 1
		}
		return 0
	}

	s, err := store.Open(root)
	if err != nil {
		log.Printf("hope: opening store: %v", err)
		return 1
	}
	defer s.Log.Close()

	if *inspect != "" {
		present, size, err := s.PresentByPrefix(hope.UnitName(*inspect))
		if err != nil {
			log.Printf("hope: inspecting %s: %v", *inspect, err)
			return 1
		}
		fmt.Printf("%s: present=%v size=%d\n", *inspect, present, size)
		if !present {
			return 1
		}
		return 0
	}

	self, err := os.Executable()
	if err != nil {
		log.Printf("hope: resolving own executable: %v", err)
		return 1
	}

	ctx, cancel := sigctx.Interruptible()
	defer cancel()

	w := &wrapper.Wrapper{
		Store:    s,
		SelfPath: self,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		ClassifierEnv: classify.Env{
			BuildScriptDirSegment:    *buildDir,
			ExternalSourcePrefix:     *extSrcRoot,
			BuildScriptOutDirSegment: "/build-script-build",
		},
	}
	return w.Run(ctx, os.Args)
}

func main() {
	log.SetFlags(0)
	os.Exit(funcmain())
}
