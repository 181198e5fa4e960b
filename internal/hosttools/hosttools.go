package hosttools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ResolveQEMUBinary resolves a qemu-system-* binary by checking:
// 1. PATH
// 2. Common source-install and Homebrew prefixes.
func ResolveQEMUBinary(binary string) (string, error) {
	return resolveBinary(binary, exec.LookPath, os.Stat, candidateBinaryPaths(binary, qemuPrefixes()), qemuInstallHint())
}

// ResolveSSHTool resolves ssh or scp. Only PATH is consulted.
func ResolveSSHTool(binary string) (string, error) {
	return resolveBinary(binary, exec.LookPath, os.Stat, nil, "install an OpenSSH client")
}

func resolveBinary(
	binary string,
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	candidates []string,
	hint string,
) (string, error) {
	trimmed := strings.TrimSpace(binary)
	if trimmed == "" {
		return "", fmt.Errorf("binary name is required")
	}
	if filepath.IsAbs(trimmed) {
		info, err := stat(trimmed)
		if err != nil {
			return "", fmt.Errorf("%s: %w", trimmed, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", trimmed)
		}
		return trimmed, nil
	}

	if path, err := lookPath(trimmed); err == nil {
		return path, nil
	}

	for _, candidate := range candidates {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		info, err := stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil
	}

	msg := fmt.Sprintf("%s not found in PATH", trimmed)
	if len(candidates) > 0 {
		msg = fmt.Sprintf("%s not found in PATH or known install locations", trimmed)
	}
	if hint != "" {
		msg += "; " + hint
	}
	return "", errors.New(msg)
}

func candidateBinaryPaths(binary string, prefixes []string) []string {
	trimmedBinary := strings.TrimSpace(binary)
	if trimmedBinary == "" || filepath.IsAbs(trimmedBinary) {
		return nil
	}

	seen := map[string]struct{}{}
	out := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		trimmedPrefix := strings.TrimSpace(prefix)
		if trimmedPrefix == "" {
			continue
		}
		path := filepath.Join(trimmedPrefix, "bin", trimmedBinary)
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}
	return out
}

func qemuPrefixes() []string {
	prefixes := []string{"/usr/local", "/opt/qemu"}
	if runtime.GOOS == "darwin" {
		prefixes = append(prefixes, "/opt/homebrew", "/opt/homebrew/opt/qemu")
	}
	return prefixes
}

func qemuInstallHint() string {
	if runtime.GOOS == "darwin" {
		return "install it with `brew install qemu`"
	}
	return "install the qemu-system package for the target architecture"
}
