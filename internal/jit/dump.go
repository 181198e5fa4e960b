package jit

import (
	"fmt"
	"os"
	"path/filepath"
)

// DumpSource writes src to dir under its digest and returns the path.
func DumpSource(dir, src string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, Digest(src)+".c")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("dump translation unit: %w", err)
	}
	return path, nil
}
