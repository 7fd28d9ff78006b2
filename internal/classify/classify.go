// Package classify implements the argument classifier of spec.md §4.1: it
// decides, from argv alone, whether a wrapper invocation is a compiler call
// for a cacheable library unit, a compiler call for a build-script unit, a
// build-script execution itself, or a plain pass-through.
//
// Grounded on the teacher's internal/build/resolve.go style of small,
// narrowly-scoped parsing helpers with no general flag-parsing library —
// spec.md §4.1 explicitly calls for a permissive schema that accepts every
// documented compiler flag but only inspects six fields, which is exactly
// the kind of narrow extraction the teacher favours over a full parser.
package classify

import (
	"strings"

	"github.com/distr1/hope"
)

// Role is the outer tag of the classifier's decision, a closed enumeration
// per spec.md §9 ("implementations without sum types should use a closed
// enumeration").
type Role int

const (
	// PassThrough delegates argv unchanged to the real compiler.
	PassThrough Role = iota
	// CompileLibraryUnit is a cacheable compilation of an external
	// package's library or binary.
	CompileLibraryUnit
	// CompileBuildScriptUnit compiles a build-script's own source into an
	// executable (the "producer" path of spec.md §4.6).
	CompileBuildScriptUnit
	// ImpersonateBuildScript is the wrapper invoked in place of a
	// build-script executable itself.
	ImpersonateBuildScript
)

func (r Role) String() string {
	switch r {
	case PassThrough:
		return "PassThrough"
	case CompileLibraryUnit:
		return "CompileLibraryUnit"
	case CompileBuildScriptUnit:
		return "CompileBuildScriptUnit"
	case ImpersonateBuildScript:
		return "ImpersonateBuildScript"
	default:
		return "Unknown"
	}
}

// Invocation holds the fields the classifier extracts out of argv (spec.md
// §3 "Compiler invocation" essential fields), plus enough context to route
// further.
type Invocation struct {
	Role Role

	// RealCompilerPath is argv[1] in compiler role.
	RealCompilerPath string
	// Args is the full compiler argument list to pass through unchanged
	// when delegating to the real compiler.
	Args []string

	Input         string
	CrateName     string
	CrateTypes    []hope.CrateType
	Emit          []string
	OutDir        string
	Metadata      string
	ExtraFilename string

	// Unit is only populated for CompileLibraryUnit / CompileBuildScriptUnit.
	Unit hope.UnitName

	// BuildScriptPath is argv[0] in ImpersonateBuildScript role.
	BuildScriptPath string
}

// Env abstracts the bits of environment/filesystem context the classifier
// needs, so tests can fake it out rather than touching the real filesystem.
type Env struct {
	// BuildScriptDirSegment identifies a path as lying within the driver's
	// per-unit build-script directory tree (e.g. "/build/<pkg>-<hash>/").
	BuildScriptDirSegment string
	// ExternalSourcePrefix identifies the driver's immutable external
	// package source tree; an --input outside this prefix is passed
	// through.
	ExternalSourcePrefix string
	// BuildScriptOutDirSegment identifies an --out-dir as belonging to a
	// build-script's own compilation (the producer path).
	BuildScriptOutDirSegment string
}

// Classify implements spec.md §4.1's decision procedure.
func Classify(argv []string, env Env) (Invocation, error) {
	if len(argv) == 1 && strings.Contains(argv[0], env.BuildScriptDirSegment) {
		return Invocation{Role: ImpersonateBuildScript, BuildScriptPath: argv[0]}, nil
	}
	if len(argv) < 2 {
		return Invocation{}, errMalformed("compiler role requires a real-compiler path and arguments")
	}

	inv := Invocation{
		Role:             PassThrough,
		RealCompilerPath: argv[1],
		Args:             argv[2:],
	}
	parseCompilerArgs(&inv, argv[2:])

	if inv.Input == "" {
		return inv, nil // PassThrough: no input to key a cache on
	}
	if env.ExternalSourcePrefix != "" && !strings.HasPrefix(inv.Input, env.ExternalSourcePrefix) {
		return inv, nil // PassThrough: not an external package source
	}
	if inv.OutDir != "" && env.BuildScriptOutDirSegment != "" && strings.Contains(inv.OutDir, env.BuildScriptOutDirSegment) {
		inv.Role = CompileBuildScriptUnit
		inv.Unit = hope.NewUnitName(inv.CrateName, inv.ExtraFilename)
		return inv, nil
	}
	inv.Role = CompileLibraryUnit
	inv.Unit = hope.NewUnitName(inv.CrateName, inv.ExtraFilename)
	return inv, nil
}

// parseCompilerArgs walks args once, extracting only the fields spec.md
// §4.1 names: input, crate-type (repeatable), crate-name, emit
// (repeatable), out-dir, and codegen options (of which only metadata and
// extra-filename matter). Every other flag is left untouched in inv.Args
// for pass-through.
func parseCompilerArgs(inv *Invocation, args []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--crate-type" && i+1 < len(args):
			i++
			for _, name := range strings.Split(args[i], ",") {
				if ct, ok := hope.ParseCrateType(name); ok {
					inv.CrateTypes = append(inv.CrateTypes, ct)
				}
			}
		case strings.HasPrefix(arg, "--crate-type="):
			for _, name := range strings.Split(strings.TrimPrefix(arg, "--crate-type="), ",") {
				if ct, ok := hope.ParseCrateType(name); ok {
					inv.CrateTypes = append(inv.CrateTypes, ct)
				}
			}
		case arg == "--crate-name" && i+1 < len(args):
			i++
			inv.CrateName = args[i]
		case strings.HasPrefix(arg, "--crate-name="):
			inv.CrateName = strings.TrimPrefix(arg, "--crate-name=")
		case arg == "--emit" && i+1 < len(args):
			i++
			inv.Emit = append(inv.Emit, strings.Split(args[i], ",")...)
		case strings.HasPrefix(arg, "--emit="):
			inv.Emit = append(inv.Emit, strings.Split(strings.TrimPrefix(arg, "--emit="), ",")...)
		case arg == "--out-dir" && i+1 < len(args):
			i++
			inv.OutDir = args[i]
		case strings.HasPrefix(arg, "--out-dir="):
			inv.OutDir = strings.TrimPrefix(arg, "--out-dir=")
		case arg == "-C" && i+1 < len(args):
			i++
			parseCodegenOption(inv, args[i])
		case strings.HasPrefix(arg, "-C"):
			parseCodegenOption(inv, strings.TrimPrefix(arg, "-C"))
		case !strings.HasPrefix(arg, "-") && inv.Input == "":
			inv.Input = arg
		}
	}
}

// parseCodegenOption parses a -C argument, which is either a bare flag or
// a key=value pair (spec.md §4.1).
func parseCodegenOption(inv *Invocation, opt string) {
	key, value, ok := strings.Cut(opt, "=")
	if !ok {
		return // bare flag, nothing this wrapper inspects
	}
	switch key {
	case "metadata":
		inv.Metadata = value
	case "extra-filename":
		inv.ExtraFilename = value
	}
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

func errMalformed(msg string) error { return malformedError(msg) }
