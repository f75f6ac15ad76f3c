package gopyext

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// versionProbe answers the toolchain version query and fails anything
// else, so tests notice unexpected command traffic.
func versionProbe(version string) func(cmd Command) (string, error) {
	return func(cmd Command) (string, error) {
		if cmd.Name == "go" && len(cmd.Args) == 2 && cmd.Args[0] == "env" && cmd.Args[1] == "GOVERSION" {
			if version == "" {
				return "", &ToolError{Err: errors.New("exec: \"go\": executable file not found in $PATH")}
			}
			return "go" + version + "\n", nil
		}
		return "", fmt.Errorf("unexpected command: %s %v", cmd.Name, cmd.Args)
	}
}

// makeGoArchive builds a minimal toolchain tarball: go/bin/go plus the
// directories around it.
func makeGoArchive(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, dir := range []string{"go/", "go/bin/"} {
		if err := tw.WriteHeader(&tar.Header{Name: dir, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
			t.Fatalf("writing tar dir: %v", err)
		}
	}
	content := []byte("fake go binary")
	if err := tw.WriteHeader(&tar.Header{
		Name:     "go/bin/go",
		Typeflag: tar.TypeReg,
		Mode:     0o755,
		Size:     int64(len(content)),
	}); err != nil {
		t.Fatalf("writing tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("writing tar content: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

// archiveServer serves the fake toolchain archive and counts requests.
func archiveServer(t *testing.T, archive []byte) (*httptest.Server, *int) {
	t.Helper()
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write(archive)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestResolveEnvAmbientToolchain(t *testing.T) {
	// No version requirement and a working system toolchain: empty
	// overlay, no cache involvement.
	manager := &GoManager{Runner: &fakeRunner{respond: versionProbe("1.22")}}

	env, err := manager.ResolveEnv(context.Background(), "")
	if err != nil {
		t.Fatalf("ResolveEnv returned error: %v", err)
	}
	if len(env) != 0 {
		t.Errorf("Expected empty overlay, got %v", env)
	}
}

func TestResolveEnvNoToolchainNoVersion(t *testing.T) {
	manager := &GoManager{Runner: &fakeRunner{respond: versionProbe("")}}

	_, err := manager.ResolveEnv(context.Background(), "")
	if !errors.Is(err, ErrToolchainMissing) {
		t.Fatalf("Expected ErrToolchainMissing, got %v", err)
	}
}

func TestResolveEnvExactVersionMatch(t *testing.T) {
	server, requests := archiveServer(t, nil)

	manager := &GoManager{
		CacheDir:    t.TempDir(),
		DownloadDir: t.TempDir(),
		DownloadURL: server.URL,
		Runner:      &fakeRunner{respond: versionProbe("1.21.0")},
	}

	env, err := manager.ResolveEnv(context.Background(), "1.21.0")
	if err != nil {
		t.Fatalf("ResolveEnv returned error: %v", err)
	}
	if len(env) != 0 {
		t.Errorf("Expected empty overlay for matching system toolchain, got %v", env)
	}
	if *requests != 0 {
		t.Errorf("Expected no downloads, got %d", *requests)
	}
}

func TestResolveEnvDownloadsAndCaches(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test archive is a tarball")
	}

	server, requests := archiveServer(t, makeGoArchive(t))
	cache := t.TempDir()

	manager := &GoManager{
		CacheDir:    cache,
		DownloadDir: t.TempDir(),
		DownloadURL: server.URL,
		Runner:      &fakeRunner{respond: versionProbe("1.22.5")},
	}

	env, err := manager.ResolveEnv(context.Background(), "1.21.0")
	if err != nil {
		t.Fatalf("ResolveEnv returned error: %v", err)
	}
	if *requests != 1 {
		t.Fatalf("Expected exactly one download, got %d", *requests)
	}

	root := filepath.Join(cache, "1.21.0")
	if env["GOBASE"] != root {
		t.Errorf("Expected GOBASE %q, got %q", root, env["GOBASE"])
	}
	if env["GOROOT"] != filepath.Join(root, "go") {
		t.Errorf("Expected GOROOT under install root, got %q", env["GOROOT"])
	}
	if env["GOMODCACHE"] != filepath.Join(root, "gomodcache") {
		t.Errorf("Expected GOMODCACHE under install root, got %q", env["GOMODCACHE"])
	}
	if _, err := os.Stat(filepath.Join(root, "go", "bin", "go")); err != nil {
		t.Fatalf("Expected extracted toolchain binary: %v", err)
	}

	// Second resolution of the same version is a pure cache hit.
	env2, err := manager.ResolveEnv(context.Background(), "1.21.0")
	if err != nil {
		t.Fatalf("second ResolveEnv returned error: %v", err)
	}
	if *requests != 1 {
		t.Errorf("Expected cache hit with no further downloads, got %d", *requests)
	}
	if env2["GOROOT"] != env["GOROOT"] {
		t.Errorf("Expected identical overlay from cache, got %q", env2["GOROOT"])
	}
}

func TestResolveEnvDownloadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	manager := &GoManager{
		CacheDir:    t.TempDir(),
		DownloadDir: t.TempDir(),
		DownloadURL: server.URL,
		Runner:      &fakeRunner{respond: versionProbe("")},
	}

	_, err := manager.ResolveEnv(context.Background(), "1.21.0")
	if err == nil {
		t.Fatal("Expected error for failed download")
	}
}

func TestInstallEnvUnknownPlatform(t *testing.T) {
	manager := &GoManager{CacheDir: t.TempDir(), DownloadDir: t.TempDir()}

	_, err := manager.InstallEnv(context.Background(), "linux", "mips", "1.21.0")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigError for unknown platform, got %v", err)
	}
}

func TestInstallEnvReusesCrossCache(t *testing.T) {
	cache := t.TempDir()
	root := filepath.Join(cache, "manylinux-arm64", "1.21.0")
	binDir := filepath.Join(root, "go", "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("creating cache dirs: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "go"), []byte("bin"), 0o755); err != nil {
		t.Fatalf("writing cached binary: %v", err)
	}

	server, requests := archiveServer(t, nil)
	manager := &GoManager{
		CacheDir:    cache,
		DownloadDir: t.TempDir(),
		DownloadURL: server.URL,
	}

	env, err := manager.InstallEnv(context.Background(), "linux", "arm64", "1.21.0")
	if err != nil {
		t.Fatalf("InstallEnv returned error: %v", err)
	}
	if *requests != 0 {
		t.Errorf("Expected cached cross toolchain to avoid downloads, got %d", *requests)
	}
	if env["GOBASE"] != root {
		t.Errorf("Expected GOBASE %q, got %q", root, env["GOBASE"])
	}
}

func TestArchiveExt(t *testing.T) {
	if got := archiveExt("windows"); got != "zip" {
		t.Errorf("Expected zip for windows, got %s", got)
	}
	if got := archiveExt("linux"); got != "tar.gz" {
		t.Errorf("Expected tar.gz for linux, got %s", got)
	}
}
