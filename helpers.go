package gopyext

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// appName is the directory name used for this tool's cache and scratch
// subdirectories.
const appName = "gopy-extension-go"

// defaultCacheRoot returns the per-user cache directory, honoring
// XDG_CACHE_HOME on all platforms and the native conventions otherwise
// (LOCALAPPDATA on Windows, ~/Library/Caches on macOS, ~/.cache elsewhere).
func defaultCacheRoot() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return dir
		}
	case "darwin":
		return filepath.Join(home, "Library", "Caches")
	}
	return filepath.Join(home, ".cache")
}

// shellSafe are the characters that never need quoting in a POSIX shell
// word, beyond letters and digits.
const shellSafe = "@%+=:,./-_"

// shellQuote quotes a single word for a POSIX shell.
func shellQuote(word string) string {
	if word == "" {
		return "''"
	}
	safe := true
	for _, r := range word {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(shellSafe, r):
		default:
			safe = false
		}
		if !safe {
			break
		}
	}
	if safe {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'"'"'`) + "'"
}

// shellJoin renders an argument vector as a single POSIX shell command
// string, quoting each word.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

// uniqueStrings returns values with duplicates and empty strings removed,
// preserving first-seen order.
func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	var result []string

	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}
