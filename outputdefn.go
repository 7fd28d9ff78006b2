package hope

import (
	"fmt"
	"runtime"
)

// CrateType parameterises the Linked output-defn variant. Only these six
// crate-types are recognised; ParseCrateType reports ok=false for anything
// else, and the classifier skips such names.
type CrateType int

const (
	CrateTypeLib CrateType = iota
	CrateTypeStaticLib
	CrateTypeDynamicLib
	CrateTypeCDynamicLib
	CrateTypeBin
	CrateTypeProcMacro
)

// ParseCrateType maps a --crate-type value to a CrateType.
func ParseCrateType(s string) (CrateType, bool) {
	switch s {
	case "lib", "rlib":
		return CrateTypeLib, true
	case "staticlib":
		return CrateTypeStaticLib, true
	case "dylib":
		return CrateTypeDynamicLib, true
	case "cdylib":
		return CrateTypeCDynamicLib, true
	case "bin":
		return CrateTypeBin, true
	case "proc-macro":
		return CrateTypeProcMacro, true
	default:
		return 0, false
	}
}

// OutputKind is the outer tag of the OutputDefn variant. Every kind but
// Linked has a fixed filename suffix; Linked additionally dispatches on
// CrateType and the host platform.
type OutputKind int

const (
	Assembly OutputKind = iota
	Bitcode
	TextualIR
	Object
	MetadataBlob
	Linked
	DependencyInfo
	MidLevelIR
)

// OutputDefn describes one emitted file family for a unit. CrateType is
// only meaningful when Kind == Linked.
type OutputDefn struct {
	Kind      OutputKind
	CrateType CrateType
}

// fixedSuffix holds the deterministic suffix for every Kind except Linked,
// which is dispatched separately because its filename depends on CrateType
// and runtime.GOOS.
var fixedSuffix = map[OutputKind]string{
	Assembly:       ".s",
	Bitcode:        ".bc",
	TextualIR:      ".ll",
	Object:         ".o",
	MetadataBlob:   ".rmeta", // combined with the "lib" prefix below
	DependencyInfo: ".d",
	MidLevelIR:     ".mir",
}

// Filename computes the deterministic, content-addressed filename for this
// output-defn given a unit name. It is a pure function of (unit, defn,
// runtime.GOOS) per spec.md §3/§9.
func (d OutputDefn) Filename(unit UnitName) (string, error) {
	if d.Kind == MetadataBlob {
		return "lib" + string(unit) + fixedSuffix[d.Kind], nil
	}
	if suffix, ok := fixedSuffix[d.Kind]; ok {
		return string(unit) + suffix, nil
	}
	if d.Kind != Linked {
		return "", fmt.Errorf("hope: unknown output kind %d", d.Kind)
	}
	return d.linkedFilename(unit)
}

func (d OutputDefn) linkedFilename(unit UnitName) (string, error) {
	switch d.CrateType {
	case CrateTypeLib, CrateTypeStaticLib:
		return "lib" + string(unit) + ".rlib", nil
	case CrateTypeBin:
		return string(unit), nil
	case CrateTypeDynamicLib:
		suffix, err := dynamicLibSuffix()
		if err != nil {
			return "", err
		}
		return "lib" + string(unit) + suffix, nil
	case CrateTypeCDynamicLib:
		suffix, err := dynamicLibSuffix()
		if err != nil {
			return "", err
		}
		return "lib" + string(unit) + suffix, nil
	case CrateTypeProcMacro:
		// proc-macro plugins are loaded as dynamic libraries by the host
		// compiler, so they share the dynamic-lib platform suffix table.
		suffix, err := dynamicLibSuffix()
		if err != nil {
			return "", err
		}
		return "lib" + string(unit) + suffix, nil
	default:
		return "", fmt.Errorf("hope: unknown crate type %d", d.CrateType)
	}
}

// dynamicLibSuffix is undefined on platforms other than Linux-like and
// Darwin-like hosts (spec.md §9 Open Questions).
func dynamicLibSuffix() (string, error) {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd", "android":
		return ".so", nil
	case "darwin", "ios":
		return ".dylib", nil
	default:
		return "", fmt.Errorf("hope: no dynamic library filename convention for GOOS=%s", runtime.GOOS)
	}
}

// BuildScriptStdoutFilename is the store's naming convention for cached
// build-script output, keyed by the opaque script-hash rather than a unit
// name.
func BuildScriptStdoutFilename(scriptHash string) string {
	return "build-script-" + scriptHash + "-stdout.txt"
}
