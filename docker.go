package gopyext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// LeaveContainerEnv is a debugging escape hatch: when set to "y", build
// containers are left running after the build instead of being stopped,
// so their state can be inspected.
const LeaveContainerEnv = "GOPYEXT_LEAVE_DOCKER"

// Mount access modes, enforced by the container engine.
const (
	MountReadOnly  = "ro"
	MountReadWrite = "rw"
)

// Mount describes one bind mount into a build container. Host is an
// absolute host path (relative paths are made absolute at creation time);
// Target is the caller-chosen path inside the container.
type Mount struct {
	Host   string
	Target string
	Mode   string // MountReadOnly or MountReadWrite
}

// ContainerConfig describes the build container to create.
type ContainerConfig struct {
	Image    string            // Image reference
	Platform string            // Target architecture (GOARCH name)
	Mounts   []Mount           // Bind mounts
	Env      map[string]string // Environment injected at creation
	Dir      string            // Working directory inside the container
	// AppendPath is prepended to PATH for every command executed in the
	// container, ahead of the image's own PATH.
	AppendPath string
}

// Container is a handle to a running build container. It implements
// CommandRunner by executing through the container's shell, so the build
// pipeline can run inside it unchanged.
//
// Containers are only obtained through DockerManager.WithContainer and are
// torn down when that scope exits.
type Container struct {
	id         string
	appendPath string
	runner     CommandRunner
	logger     *zap.Logger
}

// ID returns the container identifier reported by the engine.
func (c *Container) ID() string {
	return c.id
}

// Run implements CommandRunner inside the container.
//
// Docker cannot inject per-exec environment the way a local process can,
// so the command is routed through `bash -c` with the environment passed
// as -e flags and any extra PATH entries prepended as a shell-level
// assignment ahead of the container's own PATH.
func (c *Container) Run(ctx context.Context, cmd Command) (string, error) {
	c.logger.Debug("running container command",
		zap.String("container", c.id),
		zap.String("command", cmd.Name),
		zap.Strings("args", cmd.Args),
		zap.String("dir", cmd.Dir),
		zap.Any("env", cmd.Env))

	args := []string{"exec"}
	if cmd.Dir != "" {
		args = append(args, "-w", cmd.Dir)
	}
	args = append(args, envFlags(cmd.Env)...)
	args = append(args, c.id, "bash", "-c", c.script(cmd))

	return c.runner.Run(ctx, Command{
		Name: "docker",
		Args: args,
		Hint: cmd.Hint,
	})
}

func (c *Container) script(cmd Command) string {
	line := shellJoin(append([]string{cmd.Name}, cmd.Args...))
	if c.appendPath != "" {
		return fmt.Sprintf("PATH=%s:$PATH %s", c.appendPath, line)
	}
	return line
}

// DockerManager creates and tears down ephemeral build containers.
//
// It is an explicitly constructed service; tests substitute a fake Runner
// to observe the engine command lines without a Docker daemon.
type DockerManager struct {
	Runner CommandRunner
	Logger *zap.Logger
}

// WithContainer creates and starts a container per cfg, invokes fn with a
// handle scoped to it, and guarantees the container is stopped on every
// exit path, fn failure included. The one exception is the
// LeaveContainerEnv debug override; with it set, teardown is skipped.
// A teardown failure is logged as a warning and never masks fn's result.
//
// The container runs `sleep infinity` as its keep-alive command and is
// created with --rm, so stopping it also removes it.
func (d *DockerManager) WithContainer(ctx context.Context, cfg ContainerConfig, fn func(*Container) error) error {
	args := []string{"create", "--rm", "--platform", "linux/" + cfg.Platform}
	if cfg.Dir != "" {
		args = append(args, "-w", cfg.Dir)
	}
	args = append(args, envFlags(cfg.Env)...)
	for _, mount := range cfg.Mounts {
		host := mount.Host
		if abs, err := filepath.Abs(host); err == nil {
			host = abs
		}
		args = append(args, "-v", fmt.Sprintf("%s:%s:%s", host, mount.Target, mount.Mode))
	}
	args = append(args, cfg.Image, "sleep", "infinity")

	out, err := d.runner().Run(ctx, Command{
		Name: "docker",
		Args: args,
		Hint: "could not create docker container, ensure docker is installed and running",
	})
	if err != nil {
		return err
	}
	id := strings.TrimSpace(out)

	d.logger().Debug("created build container",
		zap.String("container", id),
		zap.String("image", cfg.Image),
		zap.String("platform", cfg.Platform))

	defer d.teardown(ctx, id)

	if _, err := d.runner().Run(ctx, Command{
		Name: "docker",
		Args: []string{"start", id},
		Hint: "could not start docker container",
	}); err != nil {
		return err
	}

	return fn(&Container{
		id:         id,
		appendPath: cfg.AppendPath,
		runner:     d.runner(),
		logger:     d.logger(),
	})
}

func (d *DockerManager) teardown(ctx context.Context, id string) {
	if os.Getenv(LeaveContainerEnv) == "y" {
		d.logger().Warn("leaving build container running",
			zap.String("container", id),
			zap.String("reason", LeaveContainerEnv+"=y"))
		return
	}

	if _, err := d.runner().Run(ctx, Command{
		Name: "docker",
		Args: []string{"stop", "-t", "5", id},
	}); err != nil {
		d.logger().Warn("could not stop docker container",
			zap.String("container", id),
			zap.Error(err))
	}
}

func (d *DockerManager) runner() CommandRunner {
	if d.Runner == nil {
		return &LocalRunner{Logger: d.Logger}
	}
	return d.Runner
}

func (d *DockerManager) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// envFlags renders an environment map as docker -e flags, sorted by key so
// command lines are deterministic.
func envFlags(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	flags := make([]string, 0, 2*len(keys))
	for _, key := range keys {
		flags = append(flags, "-e", key+"="+env[key])
	}
	return flags
}
