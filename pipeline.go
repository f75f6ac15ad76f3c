package gopyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

// cgoLDFlagsPrefix marks the generated linkage-flags line that gopy embeds
// in its primary Go source file.
const cgoLDFlagsPrefix = "#cgo LDFLAGS: "

// pythonLibFlag is the linker flag prefix that pins a specific
// interpreter's native library. Such flags are host-specific and must not
// leak into the portable build: the eventual consumer supplies its own
// linkage.
const pythonLibFlag = "-lpython3."

// generateInput parameterizes the generate stage for local and
// containerized execution. genDir is the generation directory as seen by
// the command runner; realGenDir is the same directory as seen by this
// process. They differ only in containerized builds, where genDir is the
// in-container mount point.
type generateInput struct {
	ext        *Extension
	genDir     string
	realGenDir string
	pythonPath string // interpreter handed to gopy as the target VM
}

// generate runs the binding generator and post-processes its output:
// gopy gen, the pybindgen build step, goimports over each generated Go
// file, and the interpreter-library strip of the generated linkage line.
func (b *Builder) generate(ctx context.Context, run CommandRunner, in generateInput) (*GenerateResult, error) {
	name := in.ext.PackageName()

	var extraGenArgs []string
	var gotags []string
	if in.ext.BuildTags != "" {
		extraGenArgs = append(extraGenArgs, "-build-tags="+in.ext.BuildTags)
		gotags = append(gotags, "-tags", in.ext.BuildTags)
	}
	if in.ext.RenameToPEP {
		extraGenArgs = append(extraGenArgs, "-rename=true")
	}

	b.logger().Info("generating gopy code",
		zap.String("package", in.ext.Target),
		zap.String("dir", in.genDir))

	genArgs := append([]string{
		"tool", "gopy", "gen",
		"-name=" + name,
		"-output=" + in.genDir,
		"-vm=" + in.pythonPath,
	}, extraGenArgs...)
	genArgs = append(genArgs, in.ext.Target)

	if _, err := run.Run(ctx, Command{
		Name: "go",
		Args: genArgs,
		Hint: "gopy failed, make sure it is installed as a tool in your go.mod",
	}); err != nil {
		return nil, err
	}

	b.logger().Info("generating pybindgen C code", zap.String("dir", in.genDir))
	if _, err := run.Run(ctx, Command{
		Name: b.pythonPath(),
		Args: []string{"-m", "build"},
		Dir:  in.realGenDir,
		Hint: "pybindgen build failed",
	}); err != nil {
		return nil, err
	}

	goFiles := []string{filepath.Join(in.genDir, name+".go")}
	for _, file := range goFiles {
		rel, err := filepath.Rel(in.genDir, file)
		if err != nil {
			rel = filepath.Base(file)
		}

		b.logger().Info("auto importing Go packages", zap.String("file", rel))
		if _, err := run.Run(ctx, Command{
			Name: "go",
			Args: []string{"tool", "goimports", "-w", file},
			Hint: fmt.Sprintf("goimports failed for %s, make sure it is installed as a tool in your go.mod", rel),
		}); err != nil {
			return nil, err
		}

		if err := rewriteCgoLDFlags(filepath.Join(in.realGenDir, rel)); err != nil {
			return nil, err
		}
	}

	return &GenerateResult{
		Dir:     in.genDir,
		Name:    name,
		GoFiles: goFiles,
		GoTags:  gotags,
	}, nil
}

// compileInput parameterizes the compile stage. libExt is the shared
// library suffix used for the preparatory build; extExt is the target
// interpreter's extension suffix embedded in the final artifact name.
type compileInput struct {
	ext        *Extension
	gen        *GenerateResult
	realGenDir string
	libExt     string
	extExt     string
}

// compile builds the generated sources into the final extension binary and
// returns the filenames the install step must copy.
func (b *Builder) compile(ctx context.Context, run CommandRunner, in compileInput) (*CompileResult, error) {
	name := in.gen.Name
	genDir := in.gen.Dir

	// A first c-shared build over the individual generated files forces
	// the toolchain to materialize the intermediate CGo artifacts; the
	// binary itself is discarded.
	prepName := fmt.Sprintf("%s_go%s", name, in.libExt)
	b.logger().Debug("generating intermediate CGo files", zap.String("dir", genDir))

	prepArgs := append([]string{"build", "-mod=mod", "-buildmode=c-shared"}, in.gen.GoTags...)
	prepArgs = append(prepArgs, "-o", filepath.Join(genDir, prepName))
	prepArgs = append(prepArgs, in.gen.GoFiles...)
	if _, err := run.Run(ctx, Command{
		Name: "go",
		Args: prepArgs,
		Hint: "preparatory go build failed",
	}); err != nil {
		return nil, err
	}
	if err := os.Remove(filepath.Join(in.realGenDir, prepName)); err != nil {
		return nil, fmt.Errorf("removing preparatory build output: %w", err)
	}

	cflags, ldflags, err := parseMakefileFlags(filepath.Join(in.realGenDir, "Makefile"))
	if err != nil {
		return nil, err
	}

	b.logger().Info("building Go dynamic library",
		zap.String("name", name),
		zap.String("dir", genDir))

	extName := fmt.Sprintf("_%s%s", name, in.extExt)
	buildEnv := map[string]string{
		"CGO_CFLAGS": strings.Join(
			append([]string{os.Getenv("CGO_CFLAGS"), "-fPIC", "-Ofast"}, cflags...), " "),
		"CGO_LDFLAGS": strings.Join(
			append([]string{os.Getenv("CGO_LDFLAGS")}, dropPythonLibs(ldflags)...), " "),
	}

	buildArgs := append([]string{"build", "-mod=mod", "-buildmode=c-shared"}, in.gen.GoTags...)
	buildArgs = append(buildArgs, "-o", extName, ".")
	if _, err := run.Run(ctx, Command{
		Name: "go",
		Args: buildArgs,
		Dir:  genDir,
		Env:  buildEnv,
		Hint: "go build failed",
	}); err != nil {
		return nil, err
	}

	out, err := run.Run(ctx, Command{
		Name: "go",
		Args: []string{"list", "-f", "{{.Name}}", in.ext.Target},
		Hint: fmt.Sprintf("go list failed for %s", in.ext.Target),
	})
	if err != nil {
		return nil, err
	}
	pkgName := strings.TrimSpace(out)

	// gopy renames only part of the generated files; when the underlying
	// package name differs from the requested module name, the binding
	// script comes out under the package name and needs a copy under the
	// expected name.
	origName := pkgName + ".py"
	pyName := name + ".py"
	if origName != pyName {
		if err := copyFile(
			filepath.Join(in.realGenDir, origName),
			filepath.Join(in.realGenDir, pyName)); err != nil {
			return nil, fmt.Errorf("renaming binding script: %w", err)
		}
	}

	return &CompileResult{
		Files: []string{pyName, extName, "go.py"},
	}, nil
}

// extSuffix queries an interpreter for its native extension suffix
// (EXT_SUFFIX), through whatever runner hosts that interpreter.
func extSuffix(ctx context.Context, run CommandRunner, python string) (string, error) {
	out, err := run.Run(ctx, Command{
		Name: python,
		Args: []string{"-c", "import sysconfig; print(sysconfig.get_config_var('EXT_SUFFIX'))"},
		Hint: fmt.Sprintf("could not query %s for its extension suffix", python),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// sharedLibExt is the shared-library suffix used for the discarded
// preparatory build on the host platform.
func sharedLibExt(goos string) string {
	if goos == "windows" {
		return ".dll"
	}
	return ".so"
}

// stripPythonLinkFlags removes quoted interpreter-library tokens from a
// generated linkage-flags line. The operation is idempotent.
func stripPythonLinkFlags(line string) string {
	pieces := strings.Split(line, " ")
	kept := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		if strings.HasPrefix(piece, `"`+pythonLibFlag) {
			continue
		}
		kept = append(kept, piece)
	}
	return strings.Join(kept, " ")
}

// rewriteCgoLDFlags strips interpreter-library flags from the generated
// linkage line of the file at path. The file is rewritten whole, through a
// temporary file renamed into place, so a failure cannot leave a partially
// written source behind.
func rewriteCgoLDFlags(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading generated source: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	changed := false
	for i, line := range lines {
		if !strings.HasPrefix(line, cgoLDFlagsPrefix) {
			continue
		}
		if stripped := stripPythonLinkFlags(line); stripped != line {
			lines[i] = stripped
			changed = true
		}
	}
	if !changed {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// parseMakefileFlags extracts the CFLAGS and LDFLAGS token lists from the
// build-flags file gopy generates. Values are shell-tokenized.
func parseMakefileFlags(path string) (cflags, ldflags []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading build flags: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		var tokens []string
		switch strings.TrimSpace(key) {
		case "CFLAGS", "LDFLAGS":
			tokens, err = shlex.Split(strings.TrimSpace(value))
			if err != nil {
				return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		default:
			continue
		}

		if strings.TrimSpace(key) == "CFLAGS" {
			cflags = append(cflags, tokens...)
		} else {
			ldflags = append(ldflags, tokens...)
		}
	}

	return cflags, ldflags, nil
}

// dropPythonLibs filters interpreter-library flags out of a linker flag
// list.
func dropPythonLibs(flags []string) []string {
	kept := make([]string, 0, len(flags))
	for _, flag := range flags {
		if strings.HasPrefix(flag, pythonLibFlag) {
			continue
		}
		kept = append(kept, flag)
	}
	return kept
}
