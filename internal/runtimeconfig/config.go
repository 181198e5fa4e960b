package runtimeconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildkite/fuzzroom/internal/qemu"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string         `yaml:"log_level"`
	QEMU     QEMUConfig     `yaml:"qemu"`
	SSH      SSHConfig      `yaml:"ssh"`
	Boot     BootConfig     `yaml:"boot"`
	Ports    PortsConfig    `yaml:"ports"`
	Compiler CompilerConfig `yaml:"compiler"`
	Headers  HeadersConfig  `yaml:"headers"`
}

type QEMUConfig struct {
	Target       string               `yaml:"target"`
	Image        string               `yaml:"image"`
	Kernel       string               `yaml:"kernel"`
	MemoryMiB    int64                `yaml:"memory_mib"`
	SMP          int                  `yaml:"smp"`
	SharedMemory []SharedMemoryConfig `yaml:"shared_memory"`
	// Binaries overrides the hypervisor binary per target, e.g.
	// linux/arm64: /opt/qemu/bin/qemu-system-aarch64.
	Binaries map[string]string `yaml:"binaries"`
}

type SharedMemoryConfig struct {
	Path    string `yaml:"path"`
	SizeMiB int64  `yaml:"size_mib"`
}

type SSHConfig struct {
	Key  string `yaml:"key"`
	User string `yaml:"user"`
}

type BootConfig struct {
	InitialPollMS int64 `yaml:"initial_poll_ms"`
	PollStepMS    int64 `yaml:"poll_step_ms"`
	MinPollMS     int64 `yaml:"min_poll_ms"`
	BudgetSeconds int64 `yaml:"budget_seconds"` // VM boot/ssh readiness timeout
}

type PortsConfig struct {
	First uint16 `yaml:"first"`
	Last  uint16 `yaml:"last"`
}

type CompilerConfig struct {
	RuntimeIncludeDir string   `yaml:"runtime_include_dir"`
	SysIncludePaths   []string `yaml:"sysinclude_paths"`
	LibraryPaths      []string `yaml:"library_paths"`
	DumpDir           string   `yaml:"dump_dir"`
}

type HeadersConfig struct {
	Overlay string `yaml:"overlay"`
}

func Path() (string, error) {
	configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if configHome != "" {
		return filepath.Join(configHome, "fuzzroom", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fuzzroom", "config.yaml"), nil
}

func Load() (Config, string, error) {
	path, err := Path()
	if err != nil {
		return Config{}, "", err
	}
	cfg, err := LoadFile(path)
	return cfg, path, err
}

// LoadFile reads a config file. A missing file yields the zero Config.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.QEMU.Target = strings.TrimSpace(cfg.QEMU.Target)
	cfg.SSH.User = strings.TrimSpace(cfg.SSH.User)
	if cfg.Ports.First != 0 && cfg.Ports.Last != 0 && cfg.Ports.First > cfg.Ports.Last {
		return Config{}, fmt.Errorf("parse %s: ports.first %d is above ports.last %d", path, cfg.Ports.First, cfg.Ports.Last)
	}
	return cfg, nil
}

// Backoff converts the boot section, leaving unset fields to the defaults
// applied by qemu.Backoff.
func (b BootConfig) Backoff() qemu.Backoff {
	return qemu.Backoff{
		Initial: time.Duration(b.InitialPollMS) * time.Millisecond,
		Step:    time.Duration(b.PollStepMS) * time.Millisecond,
		Min:     time.Duration(b.MinPollMS) * time.Millisecond,
		Budget:  time.Duration(b.BudgetSeconds) * time.Second,
	}
}

// SharedMemoryRegions converts the configured shared memory regions.
func (q QEMUConfig) SharedMemoryRegions() []qemu.SharedMemory {
	if len(q.SharedMemory) == 0 {
		return nil
	}
	out := make([]qemu.SharedMemory, 0, len(q.SharedMemory))
	for _, shm := range q.SharedMemory {
		out = append(out, qemu.SharedMemory{Path: shm.Path, SizeMiB: shm.SizeMiB})
	}
	return out
}
