package gopyext

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
)

// Command is one external command invocation.
//
// Env is merged over the ambient process environment rather than replacing
// it. Hint, when set, becomes the leading diagnostic of the ToolError
// produced if the command exits non-zero, so callers can distinguish
// "generator missing" from "generator failed" and similar cases.
type Command struct {
	Name string            // Executable name or path
	Args []string          // Arguments, excluding the executable
	Dir  string            // Working directory (empty = inherit)
	Env  map[string]string // Environment overlay for this invocation
	Hint string            // Diagnostic message used on failure
}

// CommandRunner executes external commands and captures their combined
// output.
//
// Two implementations exist: LocalRunner executes on the host, and
// Container.Run executes through a running container's shell. The build
// pipeline is written once against this interface and never against a
// concrete execution strategy.
type CommandRunner interface {
	// Run executes the command and returns its combined stdout/stderr.
	//
	// A non-zero exit is reported as a *ToolError carrying the captured
	// output and the command's Hint. Commands are attempted exactly once;
	// there is no retry.
	Run(ctx context.Context, cmd Command) (string, error)
}

// LocalRunner executes commands directly on the host.
//
// The zero value is usable; Logger may be set to trace every invocation
// (command line, working directory and environment overlay) at debug
// level before execution.
type LocalRunner struct {
	Logger *zap.Logger
}

// Run implements CommandRunner.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (string, error) {
	r.logger().Debug("running command",
		zap.String("command", cmd.Name),
		zap.Strings("args", cmd.Args),
		zap.String("dir", cmd.Dir),
		zap.Any("env", cmd.Env))

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = os.Environ()
	for key, value := range cmd.Env {
		c.Env = append(c.Env, fmt.Sprintf("%s=%s", key, value))
	}

	output, err := c.CombinedOutput()
	if err != nil {
		return string(output), &ToolError{
			Hint:   cmd.Hint,
			Output: string(output),
			Err:    err,
		}
	}
	return string(output), nil
}

func (r *LocalRunner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// envRunner decorates a CommandRunner with a fixed environment overlay,
// typically a resolved toolchain environment. The overlay wins over any
// per-command environment.
type envRunner struct {
	base    CommandRunner
	overlay map[string]string
}

func (r envRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if len(r.overlay) > 0 {
		merged := make(map[string]string, len(cmd.Env)+len(r.overlay))
		for key, value := range cmd.Env {
			merged[key] = value
		}
		for key, value := range r.overlay {
			merged[key] = value
		}
		cmd.Env = merged
	}
	return r.base.Run(ctx, cmd)
}

// withEnv returns base decorated with the given environment overlay.
// An empty overlay returns base unchanged.
func withEnv(base CommandRunner, overlay map[string]string) CommandRunner {
	if len(overlay) == 0 {
		return base
	}
	return envRunner{base: base, overlay: overlay}
}
