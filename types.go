package gopyext

import (
	"path"
	"strings"
)

// Extension describes one gopy extension to compile.
//
// Source configuration:
//   - Target: the full import path of the Go package to compile
//   - Name: the dotted Python import path of the resulting module
//     (e.g. "acme.fastpkg"); when empty it is derived from Target
//
// Build configuration:
//   - BuildTags: Go build tags passed to gopy and go build
//   - RenameToPEP: whether gopy renames symbols to PEP snake_case
//   - GoVersion: exact Go toolchain version required (e.g. "1.22.1");
//     when empty any system-installed toolchain is accepted
//   - Manylinux: cross-architecture wheel configuration; nil means a
//     plain single-host build
//
// Extension values are owned by the caller and are read-only to the
// build; the builder never mutates them.
type Extension struct {
	Target string // Go package import path to compile
	Name   string // Dotted Python module path (optional)

	BuildTags   string // Go build tags (optional)
	RenameToPEP bool   // Rename generated symbols to snake_case

	GoVersion string           // Required Go toolchain version (optional)
	Manylinux *ManylinuxConfig // Cross-architecture build config (optional)
}

// ManylinuxConfig requests a containerized cross-architecture build.
//
// Image is either a bare manylinux flavor (e.g. "manylinux_2_28"), which is
// composed against the quay.io/pypa registry per architecture, or a full
// image reference (anything containing a "/"), which is used verbatim.
type ManylinuxConfig struct {
	Image string   // Base image flavor or full image reference
	Archs []string // Target architectures (e.g. "x86_64", "aarch64")
}

// PackageName returns the short module name gopy is asked to generate,
// the last element of the extension's dotted name.
func (e *Extension) PackageName() string {
	name := e.Name
	if name == "" {
		name = path.Base(e.Target)
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ReplaceAll(name, "-", "_")
}

// OutputFolder returns the package directory, relative to the build lib
// root, that the compiled artifacts are installed into.
func (e *Extension) OutputFolder() string {
	name := e.Name
	if name == "" {
		return e.PackageName()
	}
	return strings.ReplaceAll(name, ".", "/")
}

// Validate reports structural problems with the descriptor before any
// external tool is invoked.
func (e *Extension) Validate() error {
	if e.Target == "" {
		return &ConfigError{Reason: "extension has no target Go package"}
	}
	if e.Manylinux != nil && len(e.Manylinux.Archs) == 0 {
		return &ConfigError{Reason: "no architectures specified for manylinux build"}
	}
	return nil
}

// BuildConfig controls where the build works and installs.
//
// Directory layout:
//   - BuildTemp: scratch directory for generated sources, downloaded
//     toolchain archives and other by-products
//   - BuildLib: root directory compiled extension packages are installed
//     under
//
// Tool selection:
//   - PythonPath: host Python interpreter ("python3" when empty); for
//     manylinux builds the interpreter inside the image is derived from
//     PythonVersion instead
//   - PythonVersion: "major.minor" of the target interpreter, used to pick
//     the matching interpreter in manylinux images
//
// Verbose enables debug-level build tracing on the configured logger.
type BuildConfig struct {
	BuildTemp string // Directory for temporary build by-products
	BuildLib  string // Directory for compiled extension modules

	PythonPath    string // Host Python interpreter path
	PythonVersion string // Target interpreter "major.minor"

	Verbose bool // Enable verbose build output

	// KeepGoing makes BuildAll continue past a failed extension instead
	// of stopping at the first failure.
	KeepGoing bool
}

// BuildResult reports the outcome of building one extension.
type BuildResult struct {
	Success bool     // True if the build completed without errors
	Files   []string // Artifact filenames copied into the install dir
	Error   error    // Error if the build failed, nil otherwise
}

// GenerateResult carries the generate stage's outputs into the compile
// stage. It is only meaningful within a single build and is not persisted
// beyond the build-temp directory.
type GenerateResult struct {
	Dir     string   // Generation directory (runner-side path)
	Name    string   // Module name gopy generated
	GoFiles []string // Generated Go sources (runner-side paths)
	GoTags  []string // Tag flags to propagate to the compile stage
}

// CompileResult lists the filenames, relative to the generation directory,
// that the install step must copy into the package directory.
type CompileResult struct {
	Files []string
}
