package gopyext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtensionNames(t *testing.T) {
	testCases := []struct {
		ext        Extension
		pkgName    string
		outputPath string
	}{
		{Extension{Target: "github.com/acme/fastpkg", Name: "acme.fastpkg"}, "fastpkg", "acme/fastpkg"},
		{Extension{Target: "github.com/acme/fast-pkg"}, "fast_pkg", "fast_pkg"},
		{Extension{Target: "github.com/acme/pkg", Name: "a.b.c"}, "c", "a/b/c"},
	}

	for _, tc := range testCases {
		if got := tc.ext.PackageName(); got != tc.pkgName {
			t.Errorf("PackageName(%q, %q) = %q, want %q", tc.ext.Target, tc.ext.Name, got, tc.pkgName)
		}
		if got := tc.ext.OutputFolder(); got != tc.outputPath {
			t.Errorf("OutputFolder(%q, %q) = %q, want %q", tc.ext.Target, tc.ext.Name, got, tc.outputPath)
		}
	}
}

func TestBuildValidatesConfiguration(t *testing.T) {
	fake := &fakeRunner{}
	ext := &Extension{Target: "github.com/acme/fastpkg"}

	testCases := []struct {
		name    string
		builder *Builder
		ext     *Extension
	}{
		{
			name:    "missing build temp",
			builder: &Builder{Config: BuildConfig{BuildLib: "l"}, Runner: fake},
			ext:     ext,
		},
		{
			name:    "missing build lib",
			builder: &Builder{Config: BuildConfig{BuildTemp: "t"}, Runner: fake},
			ext:     ext,
		},
		{
			name:    "missing target",
			builder: &Builder{Config: BuildConfig{BuildTemp: "t", BuildLib: "l"}, Runner: fake},
			ext:     &Extension{},
		},
		{
			name:    "manylinux without architectures",
			builder: &Builder{Config: BuildConfig{BuildTemp: "t", BuildLib: "l"}, Runner: fake},
			ext: &Extension{
				Target:    "github.com/acme/fastpkg",
				Manylinux: &ManylinuxConfig{Image: "manylinux_2_28"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := tc.builder.Build(context.Background(), tc.ext)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *ConfigError, got %v", err)
			}
			if result.Success {
				t.Error("Expected failed result")
			}
		})
	}

	// Configuration errors surface before any external tool runs.
	if len(fake.commands) != 0 {
		t.Errorf("Expected no commands for invalid configuration, got %v", fake.commands)
	}
}

func TestBuildLocalEndToEnd(t *testing.T) {
	buildTemp := t.TempDir()
	buildLib := t.TempDir()
	genDir := filepath.Join(buildTemp, appName, "gen", "github.com-acme-fastpkg")
	suffix := ".cpython-312-x86_64-linux-gnu.so"

	fake := &fakeRunner{}
	fake.respond = func(cmd Command) (string, error) {
		line := strings.Join(append([]string{cmd.Name}, cmd.Args...), " ")
		switch {
		case strings.Contains(line, "env GOVERSION"):
			return "go1.22\n", nil
		case strings.Contains(line, "env CC"):
			return "gcc\n", nil
		case strings.Contains(line, "EXT_SUFFIX"):
			return suffix + "\n", nil
		case strings.Contains(line, "gopy gen"):
			// gopy and the pybindgen step materialize the binding
			// script, the support script, the Makefile and the
			// primary Go source.
			writeGeneratedSource(t, genDir, "fastpkg")
			for name, content := range map[string]string{
				"Makefile":   "CFLAGS = -I/opt/include\nLDFLAGS = -lpython3.12\n",
				"fastpkg.py": "# binding",
				"go.py":      "# support",
			} {
				if err := os.WriteFile(filepath.Join(genDir, name), []byte(content), 0o644); err != nil {
					return "", err
				}
			}
			return "", nil
		case strings.Contains(line, "fastpkg_go"):
			return "", os.WriteFile(filepath.Join(genDir, "fastpkg_go.so"), []byte("prep"), 0o755)
		case strings.Contains(line, "list -f"):
			return "fastpkg\n", nil
		case strings.Contains(line, "-o _fastpkg"):
			return "", os.WriteFile(filepath.Join(genDir, "_fastpkg"+suffix), []byte("so"), 0o755)
		}
		return "", nil
	}

	builder := NewBuilder(BuildConfig{BuildTemp: buildTemp, BuildLib: buildLib})
	builder.Runner = fake

	ext := &Extension{Target: "github.com/acme/fastpkg", Name: "acme.fastpkg"}

	result, err := builder.Build(context.Background(), ext)
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("Expected successful build")
	}

	installDir := filepath.Join(buildLib, "acme", "fastpkg")
	for _, file := range []string{"fastpkg.py", "_fastpkg" + suffix, "go.py"} {
		if _, err := os.Stat(filepath.Join(installDir, file)); err != nil {
			t.Errorf("Expected %s installed: %v", file, err)
		}
	}

	// An ambient toolchain with no version requirement builds with no
	// environment overlay: no command carries a GOROOT redirect.
	for _, cmd := range fake.commands {
		if _, ok := cmd.Env["GOROOT"]; ok {
			t.Errorf("Expected no toolchain overlay, got %v on %s", cmd.Env, cmd.Name)
		}
	}
}

func TestBuildReportsToolchainMissing(t *testing.T) {
	fake := &fakeRunner{respond: versionProbe("")}
	builder := NewBuilder(BuildConfig{BuildTemp: t.TempDir(), BuildLib: t.TempDir()})
	builder.Runner = fake

	_, err := builder.Build(context.Background(), &Extension{Target: "github.com/acme/fastpkg"})
	if !errors.Is(err, ErrToolchainMissing) {
		t.Fatalf("Expected ErrToolchainMissing, got %v", err)
	}
}

func TestBuildAllStopsOnFirstFailure(t *testing.T) {
	builder := NewBuilder(BuildConfig{BuildTemp: "t", BuildLib: "l"})
	builder.Runner = &fakeRunner{}

	extensions := []*Extension{{}, {}}

	results, err := builder.BuildAll(context.Background(), extensions)
	if err == nil {
		t.Fatal("Expected error from failed extension")
	}
	if len(results) != 1 {
		t.Errorf("Expected processing to stop after the first failure, got %d results", len(results))
	}
}

func TestBuildAllKeepGoing(t *testing.T) {
	builder := NewBuilder(BuildConfig{BuildTemp: "t", BuildLib: "l", KeepGoing: true})
	builder.Runner = &fakeRunner{}

	extensions := []*Extension{{}, {}}

	results, err := builder.BuildAll(context.Background(), extensions)
	if err == nil {
		t.Fatal("Expected first error to be reported")
	}
	if len(results) != 2 {
		t.Errorf("Expected all extensions processed, got %d results", len(results))
	}
}

func TestBuildAllContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	builder := NewBuilder(BuildConfig{BuildTemp: "t", BuildLib: "l"})
	builder.Runner = &fakeRunner{}

	results, err := builder.BuildAll(ctx, []*Extension{
		{Target: "github.com/acme/fastpkg"},
		{Target: "github.com/acme/other"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context error, got %v", err)
	}
	if len(results) != 1 || !errors.Is(results[0].Error, context.Canceled) {
		t.Errorf("Expected a single canceled result, got %v", results)
	}
}

func TestBuildAllEmpty(t *testing.T) {
	builder := NewBuilder(BuildConfig{BuildTemp: "t", BuildLib: "l"})

	results, err := builder.BuildAll(context.Background(), nil)
	if err != nil || results != nil {
		t.Errorf("Expected nothing to do, got %v, %v", results, err)
	}
}
