package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/buildkite/fuzzroom/internal/hosttools"
	"github.com/buildkite/fuzzroom/internal/paths"
	"github.com/buildkite/fuzzroom/internal/portalloc"
	"github.com/buildkite/fuzzroom/internal/qemu"
	"github.com/buildkite/fuzzroom/internal/runtimeconfig"
	"github.com/charmbracelet/log"
)

type BootCommand struct {
	Target    string   `help:"Guest os/arch (defaults to runtime config or linux/amd64)"`
	Image     string   `type:"path" help:"Guest disk image"`
	Kernel    string   `type:"path" help:"Guest kernel (boots the disk image's loader when unset)"`
	MemoryMiB int64    `name:"memory-mib" help:"Guest memory in MiB (default 1G,slots=3,maxmem=4G)"`
	SMP       int      `name:"smp" help:"Guest CPU count"`
	SHM       []string `name:"shm" help:"Shared memory region as path:size_mib (repeatable)"`
	QEMU      string   `name:"qemu" help:"Hypervisor binary override"`
	SSHKey    string   `name:"ssh-key" type:"path" help:"SSH identity for the guest"`
	SSHUser   string   `name:"ssh-user" help:"SSH user in the guest (default root)"`
	Copy      []string `help:"Copy local:remote into the guest before running the command (repeatable)"`
	KeepLogs  bool     `help:"Keep the hypervisor output under the fuzzroom state directory"`
	LogLevel  string   `help:"Log level (debug|info|warn|error)"`

	Command []string `arg:"" passthrough:"" optional:"" help:"Command to run in the guest once it is reachable"`
}

const defaultTarget = "linux/amd64"

func (b *BootCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(b.LogLevel, "boot")
	if err != nil {
		return err
	}
	profiles := qemu.DefaultProfiles()
	cfg, sshCfg, err := mergeBootConfig(b, ctx.Config, profiles)
	if err != nil {
		return err
	}
	binary, err := hosttools.ResolveQEMUBinary(cfg.Binary)
	if err != nil {
		return err
	}
	cfg.Binary = binary
	copies, err := parseCopies(b.Copy)
	if err != nil {
		return err
	}

	manager := qemu.NewManager(profiles, portalloc.New(ctx.Config.Ports.First, ctx.Config.Ports.Last, logger), logger)
	manager.Backoff = ctx.Config.Boot.Backoff()

	runCtx, stop := signalContext(context.Background(), func(sig os.Signal) {
		logger.Warn("signal received, stopping guests", "signal", sig)
		manager.Shutdown()
	})
	defer stop()
	defer manager.Shutdown()

	if shouldShowStartupHeader(ctx.Stderr) {
		_ = writeStartupHeader(ctx.Stderr, startupHeader{
			Title: "fuzzroom boot",
			Fields: []startupField{
				{Key: "target", Value: cfg.Target},
				{Key: "image", Value: cfg.ImagePath},
				{Key: "kernel", Value: cfg.KernelPath},
				{Key: "qemu", Value: cfg.Binary},
			},
		}, shouldUseANSI(ctx.Stderr))
	}

	h, err := manager.Boot(runCtx, cfg, sshCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := keepLogs(b.KeepLogs, h, logger); err != nil {
			logger.Warn("keep vm logs", "id", h.ID(), "error", err)
		}
	}()

	logger.Info("guest reachable", "id", h.ID(), "ssh", fmt.Sprintf("%s@%s:%d", h.Endpoint().User, h.SSHHost(), h.SSHPort()))

	for _, c := range copies {
		if err := h.Copy(runCtx, c.local, c.remote); err != nil {
			return err
		}
		logger.Debug("copied into guest", "local", c.local, "remote", c.remote)
	}
	if len(b.Command) == 0 {
		return nil
	}
	out, runErr := h.Run(runCtx, b.Command...)
	if _, err := ctx.Stdout.Write(out); err != nil {
		return err
	}
	return runErr
}

// keepLogs tears the VM down and, when asked, stores what it wrote.
func keepLogs(keep bool, h *qemu.Handle, logger *log.Logger) error {
	stdout, stderr := h.Output()
	if !keep {
		return nil
	}
	dir, err := paths.VMLogDir(h.ID())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "console.log"), stdout, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "stderr.log"), stderr, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "argv"), []byte(strings.Join(h.Argv(), " ")+"\n"), 0o644); err != nil {
		return err
	}
	logger.Info("vm logs kept", "dir", dir)
	return nil
}

// mergeBootConfig layers flags over the runtime config. The returned
// Binary is the unresolved hypervisor name.
func mergeBootConfig(b *BootCommand, cfg runtimeconfig.Config, profiles qemu.Profiles) (qemu.Config, qemu.SSHConfig, error) {
	target := firstNonEmpty(b.Target, cfg.QEMU.Target, defaultTarget)
	prof, err := profiles.Lookup(target)
	if err != nil {
		return qemu.Config{}, qemu.SSHConfig{}, err
	}

	out := qemu.Config{
		Target:       target,
		ImagePath:    firstNonEmpty(b.Image, cfg.QEMU.Image),
		KernelPath:   firstNonEmpty(b.Kernel, cfg.QEMU.Kernel),
		MemoryMiB:    cfg.QEMU.MemoryMiB,
		SMP:          cfg.QEMU.SMP,
		SharedMemory: cfg.QEMU.SharedMemoryRegions(),
		Binary:       firstNonEmpty(b.QEMU, cfg.QEMU.Binaries[target], prof.Binary),
	}
	if b.MemoryMiB > 0 {
		out.MemoryMiB = b.MemoryMiB
	}
	if b.SMP > 0 {
		out.SMP = b.SMP
	}
	if len(b.SHM) > 0 {
		shm, err := parseSharedMemory(b.SHM)
		if err != nil {
			return qemu.Config{}, qemu.SSHConfig{}, err
		}
		out.SharedMemory = shm
	}

	sshCfg := qemu.SSHConfig{
		KeyPath: firstNonEmpty(b.SSHKey, cfg.SSH.Key),
		User:    firstNonEmpty(b.SSHUser, cfg.SSH.User),
	}
	return out, sshCfg, nil
}

func parseSharedMemory(raw []string) ([]qemu.SharedMemory, error) {
	out := make([]qemu.SharedMemory, 0, len(raw))
	for _, value := range raw {
		path, size, ok := strings.Cut(value, ":")
		if !ok || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("invalid --shm %q: want path:size_mib", value)
		}
		mib, err := strconv.ParseInt(strings.TrimSpace(size), 10, 64)
		if err != nil || mib <= 0 {
			return nil, fmt.Errorf("invalid --shm %q: size must be a positive number of MiB", value)
		}
		out = append(out, qemu.SharedMemory{Path: path, SizeMiB: mib})
	}
	return out, nil
}

type guestCopy struct {
	local, remote string
}

func parseCopies(raw []string) ([]guestCopy, error) {
	out := make([]guestCopy, 0, len(raw))
	for _, value := range raw {
		local, remote, ok := strings.Cut(value, ":")
		if !ok || local == "" || remote == "" {
			return nil, fmt.Errorf("invalid --copy %q: want local:remote", value)
		}
		out = append(out, guestCopy{local: local, remote: remote})
	}
	return out, nil
}
