// Package gopyext builds Python extension modules from Go packages.
//
// This package is the build-orchestration core behind gopy-based extension
// packaging: it resolves (and, when necessary, downloads and caches) a Go
// toolchain of the required version, drives the gopy generate/compile
// pipeline, and installs the resulting artifacts into a Python package
// layout. For manylinux wheels it reproduces the same pipeline inside
// ephemeral Docker containers, once per target architecture, and unifies
// the outputs.
//
// # Basic Usage
//
// Create a builder and point it at an extension descriptor:
//
//	builder := gopyext.NewBuilder(gopyext.BuildConfig{
//	    BuildTemp: "build/temp",
//	    BuildLib:  "build/lib",
//	    Verbose:   true,
//	})
//
//	ext := &gopyext.Extension{
//	    Target: "github.com/acme/fastpkg",
//	    Name:   "acme.fastpkg",
//	}
//
//	result, err := builder.Build(ctx, ext)
//
// # Architecture
//
// The package is organized around small injectable services:
//
//	Builder
//	├── GoManager      (toolchain resolution, download, cache)
//	├── DockerManager  (scoped container lifecycle)
//	└── CommandRunner  (local or in-container command execution)
//
// The generate and compile stages are written once against the
// CommandRunner interface, so the same pipeline runs on the host for plain
// builds and inside a container for cross-architecture builds.
//
// # External Tools
//
// The build invokes external tools and consumes their command-line
// contracts; it never reimplements them:
//   - go (compiler, module tooling, c-shared builds)
//   - gopy and goimports (installed as tools in the target's go.mod)
//   - a Python interpreter matching the target ABI
//   - docker (manylinux cross builds only)
//
// # Platform Support
//
// Plain builds work on Linux, macOS and Windows. Cross-architecture builds
// require a Docker engine capable of running linux containers for the
// requested platforms.
//
// Requires Go 1.25 or later.
package gopyext
