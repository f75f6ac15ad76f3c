package gopyext

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// defaultDownloadURL is the canonical Go distribution archive location.
const defaultDownloadURL = "https://go.dev/dl"

// goEnv is the environment overlay that makes a specific managed Go
// toolchain resolvable by invoked commands. An empty overlay means the
// ambient toolchain is used unchanged.
//
// Keys produced: GOBASE (the install root, used by the cross-build
// coordinator to rewrite host paths to container paths), GOROOT,
// GOMODCACHE and PATH.
type goEnv = map[string]string

// knownPlatforms lists the GOOS/GOARCH pairs a distribution archive exists
// for. Anything else is a hard configuration failure, never a silent
// fallback to the host platform.
var knownPlatforms = map[string]map[string]bool{
	"linux":   {"amd64": true, "arm64": true, "386": true, "arm": true, "ppc64le": true, "s390x": true},
	"darwin":  {"amd64": true, "arm64": true},
	"windows": {"amd64": true, "arm64": true, "386": true},
}

// GoManager resolves, downloads and caches Go toolchains.
//
// Toolchains are installed under CacheDir in per-version directories
// (per-version-and-architecture for cross builds), so the cache is shared,
// append-only state across builds: a version already present is reused
// without any network access.
//
// GoManager is an explicitly constructed service; tests substitute a fake
// Runner and a stub download server through the exported fields.
type GoManager struct {
	CacheDir    string          // Root of the per-version install cache
	DownloadDir string          // Staging directory for fetched archives
	DownloadURL string          // Archive base URL (default go.dev/dl)
	Runner      CommandRunner   // Used for toolchain version probes
	HTTPClient  *http.Client    // Used for archive downloads
	Logger      *zap.Logger
}

// SystemVersion reports the ambient toolchain's version ("1.22.1" style),
// or "" if no usable toolchain is on PATH. A failed probe is treated as
// "no ambient toolchain", not as an error.
func (m *GoManager) SystemVersion(ctx context.Context) string {
	out, err := m.runner().Run(ctx, Command{
		Name: "go",
		Args: []string{"env", "GOVERSION"},
	})
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(out), "go")
}

// CC reports the native C compiler the toolchain in the given environment
// resolves to, via `go env CC`.
func (m *GoManager) CC(ctx context.Context, env goEnv) (string, error) {
	out, err := withEnv(m.runner(), env).Run(ctx, Command{
		Name: "go",
		Args: []string{"env", "CC"},
		Hint: "could not query the Go toolchain for its C compiler",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ResolveEnv resolves a toolchain environment for the host platform.
//
// With no wanted version, the ambient toolchain is required and the
// returned overlay is empty; without an ambient toolchain the resolution
// fails with ErrToolchainMissing. With a wanted version, an ambient
// toolchain of exactly that version short-circuits to an empty overlay;
// otherwise a cached or freshly downloaded install is used.
func (m *GoManager) ResolveEnv(ctx context.Context, wanted string) (goEnv, error) {
	system := m.SystemVersion(ctx)

	if wanted == "" {
		if system == "" {
			return nil, ErrToolchainMissing
		}
		return nil, nil
	}

	if system == wanted {
		return nil, nil
	}

	root := filepath.Join(m.CacheDir, wanted)
	return m.installEnv(ctx, runtime.GOOS, runtime.GOARCH, root, wanted)
}

// InstallEnv resolves a toolchain environment for an explicit target OS
// and architecture, for cross builds. The resulting environment describes
// a toolchain producing binaries for that platform; its path values are
// host-side and are rewritten by the cross-build coordinator before being
// injected into a container.
func (m *GoManager) InstallEnv(ctx context.Context, goos, goarch, version string) (goEnv, error) {
	root := filepath.Join(m.CacheDir, fmt.Sprintf("manylinux-%s", goarch), version)
	return m.installEnv(ctx, goos, goarch, root, version)
}

func (m *GoManager) installEnv(ctx context.Context, goos, goarch, root, version string) (goEnv, error) {
	if !knownPlatforms[goos][goarch] {
		return nil, &ConfigError{
			Reason: fmt.Sprintf("no Go distribution for %s/%s", goos, goarch),
		}
	}

	if m.populated(root, goos) {
		m.logger().Debug("reusing cached Go toolchain",
			zap.String("version", version),
			zap.String("root", root))
		return m.buildEnv(root), nil
	}

	archive := fmt.Sprintf("go%s.%s-%s.%s", version, goos, goarch, archiveExt(goos))
	url := m.downloadURL() + "/" + archive

	m.logger().Debug("downloading Go toolchain",
		zap.String("version", version),
		zap.String("url", url),
		zap.String("root", root))

	staged, err := m.fetch(ctx, url, archive)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating toolchain install dir: %w", err)
	}
	if err := extractArchive(staged, root, goos); err != nil {
		return nil, fmt.Errorf("extracting %s: %w", archive, err)
	}

	return m.buildEnv(root), nil
}

// populated reports whether root already holds a usable toolchain, keyed
// on the presence of the go binary rather than the directory alone so a
// torn extraction is retried.
func (m *GoManager) populated(root, goos string) bool {
	bin := "go"
	if goos == "windows" {
		bin = "go.exe"
	}
	info, err := os.Stat(filepath.Join(root, "go", "bin", bin))
	return err == nil && info.Mode().IsRegular()
}

func (m *GoManager) buildEnv(root string) goEnv {
	goroot := filepath.Join(root, "go")
	return goEnv{
		"GOBASE":     root,
		"GOROOT":     goroot,
		"GOMODCACHE": filepath.Join(root, "gomodcache"),
		"PATH": strings.Join(
			[]string{filepath.Join(goroot, "bin"), os.Getenv("PATH")},
			string(os.PathListSeparator)),
	}
}

// fetch downloads url into the staging directory and returns the local
// archive path.
func (m *GoManager) fetch(ctx context.Context, url, name string) (string, error) {
	if err := os.MkdirAll(m.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := m.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading Go toolchain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading Go toolchain: %s returned %s", url, resp.Status)
	}

	dest := filepath.Join(m.DownloadDir, name)
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	return dest, out.Close()
}

func (m *GoManager) runner() CommandRunner {
	if m.Runner == nil {
		return &LocalRunner{Logger: m.Logger}
	}
	return m.Runner
}

func (m *GoManager) httpClient() *http.Client {
	if m.HTTPClient == nil {
		return http.DefaultClient
	}
	return m.HTTPClient
}

func (m *GoManager) downloadURL() string {
	if m.DownloadURL == "" {
		return defaultDownloadURL
	}
	return strings.TrimSuffix(m.DownloadURL, "/")
}

func (m *GoManager) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// archiveExt returns the distribution archive format for a target OS: zip
// on Windows, a gzip-compressed tarball everywhere else.
func archiveExt(goos string) string {
	if goos == "windows" {
		return "zip"
	}
	return "tar.gz"
}

func extractArchive(archive, dest, goos string) error {
	if archiveExt(goos) == "zip" {
		return extractZip(archive, dest)
	}
	return extractTarGz(archive, dest)
}

func extractTarGz(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeExtracted(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		}
	}
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, file := range zr.File {
		target, err := securePath(dest, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return err
		}
		err = writeExtracted(target, rc, file.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// securePath joins an archive member name onto dest, rejecting members
// that would escape the destination directory.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member escapes destination: %s", name)
	}
	return target, nil
}

func writeExtracted(target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
