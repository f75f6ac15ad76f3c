package gopyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// In-container layout for manylinux builds. The host source tree is
// mounted read-only; the generation directory and managed Go toolchain are
// mounted read-write because the pipeline writes into both.
const (
	containerSourceDir = "/src"
	containerGenDir    = "/src/build/gopy-extension-docker"
	containerGoBase    = "/go"
)

// pypaRegistry is the registry namespace bare manylinux image names are
// composed against.
const pypaRegistry = "quay.io/pypa"

// archToGo maps manylinux architecture names to GOARCH names.
var archToGo = map[string]string{
	"x86_64":  "amd64",
	"aarch64": "arm64",
	"i686":    "386",
	"armv7l":  "arm",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
}

func archToGoArch(arch string) (string, error) {
	goarch, ok := archToGo[arch]
	if !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("unknown manylinux architecture %q", arch)}
	}
	return goarch, nil
}

// dockerImage composes the image reference for one architecture. A name
// that already contains a registry path separator is used verbatim;
// anything else is treated as a manylinux flavor under quay.io/pypa.
func dockerImage(image, arch string) string {
	if strings.Contains(image, "/") {
		return image
	}
	return fmt.Sprintf("%s/%s_%s", pypaRegistry, image, arch)
}

// containerGoEnv rewrites a host-side toolchain environment for use inside
// a container that mounts the toolchain base at containerGoBase. PATH is
// dropped from the overlay (the container has its own); the toolchain's
// bin directory is returned separately as a PATH prefix, along with the
// mount that places the toolchain at the expected spot.
func containerGoEnv(env goEnv) (goEnv, string, Mount) {
	base := env["GOBASE"]

	rewritten := make(goEnv, len(env))
	for key, value := range env {
		if key == "PATH" {
			continue
		}
		rewritten[key] = strings.ReplaceAll(value, base, containerGoBase)
	}

	binDir := strings.ReplaceAll(filepath.Join(env["GOROOT"], "bin"), base, containerGoBase)
	return rewritten, binDir, Mount{Host: base, Target: containerGoBase, Mode: MountReadWrite}
}

// routedRunner executes commands in a build container, except invocations
// of the host interpreter, which go back to the host runner. The binding
// post-processing step runs under the interpreter driving the build, which
// lives on the host; everything toolchain-dependent runs in the container.
type routedRunner struct {
	hostPython string
	host       CommandRunner
	container  CommandRunner
}

func (r routedRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if cmd.Name == r.hostPython {
		return r.host.Run(ctx, cmd)
	}
	return r.container.Run(ctx, cmd)
}

// manylinuxBuild runs the full generate/compile pipeline once per
// requested architecture, each inside its own ephemeral container, and
// returns the deduplicated union of every architecture's artifact set.
// Architectures build sequentially; the first failure aborts the whole
// cross build.
func (b *Builder) manylinuxBuild(ctx context.Context, ext *Extension, genDir string) (*CompileResult, error) {
	ml := ext.Manylinux

	if b.Config.PythonVersion == "" {
		return nil, &ConfigError{Reason: "manylinux builds require a target Python version"}
	}

	version := ext.GoVersion
	if version == "" {
		version = b.goManager().SystemVersion(ctx)
		if version == "" {
			return nil, ErrToolchainMissing
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	mounts := []Mount{
		{Host: cwd, Target: containerSourceDir, Mode: MountReadOnly},
		{Host: genDir, Target: containerGenDir, Mode: MountReadWrite},
	}

	containerPython := "python" + b.Config.PythonVersion

	var allFiles []string
	for _, arch := range ml.Archs {
		goarch, err := archToGoArch(arch)
		if err != nil {
			return nil, err
		}

		hostEnv, err := b.goManager().InstallEnv(ctx, "linux", goarch, version)
		if err != nil {
			return nil, err
		}
		env, binDir, goMount := containerGoEnv(hostEnv)

		b.logger().Info("compiling",
			zap.String("arch", goarch),
			zap.String("go_version", version))

		cfg := ContainerConfig{
			Image:      dockerImage(ml.Image, arch),
			Platform:   goarch,
			Mounts:     append(append([]Mount{}, mounts...), goMount),
			Env:        env,
			Dir:        containerSourceDir,
			AppendPath: binDir,
		}

		err = b.dockerManager().WithContainer(ctx, cfg, func(c *Container) error {
			run := routedRunner{
				hostPython: b.pythonPath(),
				host:       b.runner(),
				container:  c,
			}

			gen, err := b.generate(ctx, run, generateInput{
				ext:        ext,
				genDir:     containerGenDir,
				realGenDir: genDir,
				pythonPath: containerPython,
			})
			if err != nil {
				return err
			}

			// The final artifact is named for the container
			// interpreter's ABI, not the host's.
			suffix, err := extSuffix(ctx, c, containerPython)
			if err != nil {
				return err
			}

			compiled, err := b.compile(ctx, c, compileInput{
				ext:        ext,
				gen:        gen,
				realGenDir: genDir,
				libExt:     ".so",
				extExt:     suffix,
			})
			if err != nil {
				return err
			}

			allFiles = append(allFiles, compiled.Files...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return &CompileResult{Files: uniqueStrings(allFiles)}, nil
}
