package gopyext

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// install copies the named artifact files from the generation directory
// into the package install directory, creating it if absent and
// overwriting any existing file of the same name. A failure partway
// through leaves earlier copies in place; there is no rollback.
func (b *Builder) install(genDir, installDir string, files []string) error {
	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}
	b.logger().Debug("installing", zap.String("dir", installDir))

	for _, file := range files {
		srcPath := filepath.Join(genDir, file)
		dstPath := filepath.Join(installDir, file)

		b.logger().Info("installing file",
			zap.String("file", file),
			zap.String("from", srcPath),
			zap.String("to", dstPath))

		if err := copyFile(srcPath, dstPath); err != nil {
			return fmt.Errorf("installing %s: %w", file, err)
		}
	}

	return nil
}

func copyFile(srcPath, destPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(destPath)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return mkErr
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
