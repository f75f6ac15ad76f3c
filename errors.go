package gopyext

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolchainMissing is returned when no Go toolchain is installed on the
// system and the extension does not request a specific version that could
// be downloaded instead.
var ErrToolchainMissing = errors.New(
	"Go version not specified and none found, please provide one through the configuration")

// ToolError reports an external command that exited non-zero.
//
// It carries the command's combined output and an optional caller-supplied
// hint that identifies which external dependency is at fault (for example
// "gopy failed, make sure it is installed as a tool in your go.mod").
// ToolErrors are fatal to the current build target and never retried.
type ToolError struct {
	Hint   string // Caller-supplied diagnostic, may be empty
	Output string // Combined stdout/stderr of the failed command
	Err    error  // Underlying process error (exit status, exec failure)
}

func (e *ToolError) Error() string {
	msg := "build tool failed"
	if e.Hint != "" {
		msg = e.Hint
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		return fmt.Sprintf("%s\n\nTool output:\n%s", msg, out)
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ConfigError reports a structurally invalid build descriptor or builder
// configuration. It is surfaced before any external tool is invoked.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid build configuration: " + e.Reason
}
