package paths

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// StateBaseDir resolves the default base directory for fuzzroom state.
// Preference order:
// 1. $XDG_STATE_HOME/fuzzroom
// 2. ~/.local/state/fuzzroom
// 3. $XDG_RUNTIME_DIR/fuzzroom
func StateBaseDir() (string, error) {
	if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
		return filepath.Join(stateHome, "fuzzroom"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
			return filepath.Join(runtimeDir, "fuzzroom"), nil
		}
		return "", err
	}
	if home != "" {
		return filepath.Join(home, ".local", "state", "fuzzroom"), nil
	}
	if runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); runtimeDir != "" {
		return filepath.Join(runtimeDir, "fuzzroom"), nil
	}
	return "", errors.New("unable to resolve state directory from XDG state/runtime or home")
}

// VMLogDir is where the console output of the VM with the given id is kept.
func VMLogDir(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("vm id is required")
	}
	base, err := StateBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "vms", id), nil
}

// DumpDir holds generated translation units kept for inspection.
func DumpDir() (string, error) {
	base, err := StateBaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "units"), nil
}
