// gopy-build compiles the gopy extensions declared in a YAML manifest and
// installs the resulting artifacts into a package layout.
//
// Usage:
//
//	gopy-build [flags]
//
// The manifest lists one entry per extension:
//
//	extensions:
//	  - target: github.com/acme/fastpkg
//	    name: acme.fastpkg
//	    build-tags: netgo
//	    go-version: "1.22.1"
//	    manylinux:
//	      image: manylinux_2_28
//	      archs: [x86_64, aarch64]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	gopyext "github.com/contriboss/gopy-extension-go"
)

type manifest struct {
	Extensions []manifestExtension `yaml:"extensions"`
}

type manifestExtension struct {
	Target      string             `yaml:"target"`
	Name        string             `yaml:"name"`
	BuildTags   string             `yaml:"build-tags"`
	RenameToPEP bool               `yaml:"rename"`
	GoVersion   string             `yaml:"go-version"`
	Manylinux   *manifestManylinux `yaml:"manylinux"`
}

type manifestManylinux struct {
	Image string   `yaml:"image"`
	Archs []string `yaml:"archs"`
}

func main() {
	var (
		manifestPath  = pflag.String("manifest", "gopy.yaml", "path to the extension manifest")
		buildLib      = pflag.String("build-lib", "build/lib", "directory for compiled extension modules")
		buildTemp     = pflag.String("build-temp", "build/temp", "directory for temporary build by-products")
		pythonPath    = pflag.String("python", "python3", "host Python interpreter")
		pythonVersion = pflag.String("python-version", "", "target interpreter major.minor (manylinux builds)")
		keepGoing     = pflag.Bool("keep-going", false, "continue past a failed extension")
		verbose       = pflag.BoolP("verbose", "v", false, "enable debug build tracing")
	)
	pflag.Parse()

	logger, err := buildLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, runOptions{
		manifestPath:  *manifestPath,
		buildLib:      *buildLib,
		buildTemp:     *buildTemp,
		pythonPath:    *pythonPath,
		pythonVersion: *pythonVersion,
		keepGoing:     *keepGoing,
		verbose:       *verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runOptions struct {
	manifestPath  string
	buildLib      string
	buildTemp     string
	pythonPath    string
	pythonVersion string
	keepGoing     bool
	verbose       bool
}

func run(ctx context.Context, logger *zap.Logger, opts runOptions) error {
	extensions, needDocker, err := loadManifest(opts.manifestPath)
	if err != nil {
		return err
	}

	tools := gopyext.HostBuildTools()
	if needDocker {
		tools = append(tools, gopyext.CrossBuildTools()...)
	}
	if err := gopyext.CheckRequiredTools(tools); err != nil {
		return err
	}

	builder := gopyext.NewBuilder(gopyext.BuildConfig{
		BuildTemp:     opts.buildTemp,
		BuildLib:      opts.buildLib,
		PythonPath:    opts.pythonPath,
		PythonVersion: opts.pythonVersion,
		Verbose:       opts.verbose,
		KeepGoing:     opts.keepGoing,
	})
	builder.Logger = logger

	results, err := builder.BuildAll(ctx, extensions)
	for i, result := range results {
		if result.Success {
			logger.Info("extension built",
				zap.String("target", extensions[i].Target),
				zap.Strings("files", result.Files))
		} else {
			logger.Error("extension failed",
				zap.String("target", extensions[i].Target),
				zap.Error(result.Error))
		}
	}
	return err
}

func loadManifest(path string) ([]*gopyext.Extension, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, false, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Extensions) == 0 {
		return nil, false, fmt.Errorf("manifest %s declares no extensions", path)
	}

	needDocker := false
	extensions := make([]*gopyext.Extension, 0, len(m.Extensions))
	for _, entry := range m.Extensions {
		ext := &gopyext.Extension{
			Target:      entry.Target,
			Name:        entry.Name,
			BuildTags:   entry.BuildTags,
			RenameToPEP: entry.RenameToPEP,
			GoVersion:   entry.GoVersion,
		}
		if entry.Manylinux != nil {
			needDocker = true
			ext.Manylinux = &gopyext.ManylinuxConfig{
				Image: entry.Manylinux.Image,
				Archs: entry.Manylinux.Archs,
			}
		}
		extensions = append(extensions, ext)
	}
	return extensions, needDocker, nil
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
