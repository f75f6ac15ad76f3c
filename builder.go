package gopyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Builder orchestrates gopy extension builds.
//
// The zero value plus a BuildConfig is usable; the service fields exist so
// callers (and tests) can inject their own toolchain manager, container
// manager, command runner or logger. Nothing in the package is a
// process-wide singleton.
//
// Builder is not safe for concurrent use; builds run strictly
// sequentially.
type Builder struct {
	Config BuildConfig

	Go     *GoManager     // Toolchain resolution (defaulted on first use)
	Docker *DockerManager // Container lifecycle (defaulted on first use)
	Runner CommandRunner  // Host command execution (defaults to LocalRunner)
	Logger *zap.Logger    // Defaults to a no-op logger
}

// NewBuilder returns a Builder with the given configuration and default
// services.
func NewBuilder(config BuildConfig) *Builder {
	return &Builder{Config: config}
}

// Build compiles one extension and installs its artifacts under the
// configured build lib directory.
//
// Plain builds resolve a toolchain environment and run the pipeline on the
// host; extensions with a Manylinux configuration run the same pipeline in
// one container per target architecture. Both paths converge on the
// install step.
//
// The returned BuildResult always reflects the outcome; on failure its
// Error matches the returned error.
func (b *Builder) Build(ctx context.Context, ext *Extension) (*BuildResult, error) {
	if err := b.validateConfig(); err != nil {
		return failed(err)
	}
	if err := ext.Validate(); err != nil {
		return failed(err)
	}

	base := filepath.Join(b.Config.BuildTemp, appName)
	genDir := filepath.Join(base, "gen", strings.ReplaceAll(ext.Target, "/", "-"))
	installDir := filepath.Join(b.Config.BuildLib, ext.OutputFolder())

	b.logger().Debug("building extension",
		zap.String("target", ext.Target),
		zap.String("gen_dir", genDir),
		zap.String("install_dir", installDir))

	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return failed(fmt.Errorf("creating generation dir: %w", err))
	}

	var compiled *CompileResult
	var err error
	if ext.Manylinux == nil {
		compiled, err = b.localBuild(ctx, ext, genDir)
	} else {
		compiled, err = b.manylinuxBuild(ctx, ext, genDir)
	}
	if err != nil {
		return failed(err)
	}

	if err := b.install(genDir, installDir, compiled.Files); err != nil {
		return failed(err)
	}

	return &BuildResult{Success: true, Files: compiled.Files}, nil
}

// BuildAll builds extensions in sequence.
//
// Each extension gets a BuildResult, even on failure. Processing stops on
// context cancellation, and after the first failed extension unless
// KeepGoing is set; either way the first error encountered is returned
// alongside the partial results.
func (b *Builder) BuildAll(ctx context.Context, extensions []*Extension) ([]*BuildResult, error) {
	if len(extensions) == 0 {
		return nil, nil
	}

	var results []*BuildResult
	var firstError error

	for _, ext := range extensions {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if firstError == nil {
				firstError = ctxErr
			}
			results = append(results, &BuildResult{Error: ctxErr})
			break
		}

		result, err := b.Build(ctx, ext)
		results = append(results, result)

		if err != nil {
			if firstError == nil {
				firstError = err
			}
			if !b.Config.KeepGoing {
				break
			}
		}
	}

	return results, firstError
}

// localBuild runs the pipeline on the host with a resolved toolchain
// environment overlaid on every command.
func (b *Builder) localBuild(ctx context.Context, ext *Extension, genDir string) (*CompileResult, error) {
	env, err := b.goManager().ResolveEnv(ctx, ext.GoVersion)
	if err != nil {
		return nil, err
	}

	cc, err := b.goManager().CC(ctx, env)
	if err != nil {
		return nil, err
	}
	b.logger().Debug("resolved toolchain",
		zap.String("cc", cc),
		zap.Any("env", env))

	run := withEnv(b.runner(), env)

	suffix, err := extSuffix(ctx, b.runner(), b.pythonPath())
	if err != nil {
		return nil, err
	}

	gen, err := b.generate(ctx, run, generateInput{
		ext:        ext,
		genDir:     genDir,
		realGenDir: genDir,
		pythonPath: b.pythonPath(),
	})
	if err != nil {
		return nil, err
	}

	return b.compile(ctx, run, compileInput{
		ext:        ext,
		gen:        gen,
		realGenDir: genDir,
		libExt:     sharedLibExt(runtime.GOOS),
		extExt:     suffix,
	})
}

func (b *Builder) validateConfig() error {
	if b.Config.BuildTemp == "" {
		return &ConfigError{Reason: "build temp directory is required"}
	}
	if b.Config.BuildLib == "" {
		return &ConfigError{Reason: "build lib directory is required"}
	}
	return nil
}

func (b *Builder) goManager() *GoManager {
	if b.Go == nil {
		b.Go = &GoManager{
			CacheDir:    filepath.Join(defaultCacheRoot(), appName, "go"),
			DownloadDir: filepath.Join(b.Config.BuildTemp, appName, "go-dl"),
			Runner:      b.runner(),
			Logger:      b.Logger,
		}
	}
	return b.Go
}

func (b *Builder) dockerManager() *DockerManager {
	if b.Docker == nil {
		b.Docker = &DockerManager{
			Runner: b.runner(),
			Logger: b.Logger,
		}
	}
	return b.Docker
}

func (b *Builder) runner() CommandRunner {
	if b.Runner == nil {
		b.Runner = &LocalRunner{Logger: b.Logger}
	}
	return b.Runner
}

func (b *Builder) pythonPath() string {
	if b.Config.PythonPath == "" {
		return "python3"
	}
	return b.Config.PythonPath
}

func (b *Builder) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func failed(err error) (*BuildResult, error) {
	return &BuildResult{Error: err}, err
}
