// Package qemu boots disposable QEMU guests reachable over forwarded SSH.
package qemu

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/buildkite/fuzzroom/internal/logreader"
	"github.com/buildkite/fuzzroom/internal/portalloc"
	"github.com/buildkite/fuzzroom/internal/ssh"
	"github.com/charmbracelet/log"
)

// Manager boots VMs. It owns no global state: profiles and the port
// allocator are supplied by the caller and shared across boots.
type Manager struct {
	Profiles Profiles
	Ports    *portalloc.Allocator
	Backoff  Backoff
	Logger   *log.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	sleep   func(ctx context.Context, d time.Duration) error
	probe   func(ctx context.Context, h *Handle) (bool, error)

	mu   sync.Mutex
	live map[*Handle]struct{}
}

func NewManager(profiles Profiles, ports *portalloc.Allocator, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Manager{
		Profiles: profiles,
		Ports:    ports,
		Backoff:  DefaultBackoff(),
		Logger:   logger,
		command:  exec.CommandContext,
		sleep:    sleepContext,
		probe: func(ctx context.Context, h *Handle) (bool, error) {
			return h.IsAlive(ctx)
		},
		live: map[*Handle]struct{}{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Boot starts a VM and waits until its guest answers over SSH.
func (m *Manager) Boot(ctx context.Context, cfg Config, sshCfg SSHConfig) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, &BootError{Kind: BootErrorConfig, Msg: err.Error()}
	}
	prof, err := m.Profiles.Lookup(cfg.Target)
	if err != nil {
		return nil, &BootError{Kind: BootErrorConfig, Msg: "resolve architecture profile", Err: err}
	}
	port, ok := m.Ports.Reserve()
	if !ok {
		return nil, &BootError{Kind: BootErrorNoFreePort, Msg: "reserve ssh forward port", Err: ErrNoFreePort}
	}

	binary := prof.Binary
	if strings.TrimSpace(cfg.Binary) != "" {
		binary = cfg.Binary
	}
	args := BuildArgs(prof, cfg, port.Port())

	h, err := m.spawn(binary, args, port, sshCfg)
	if err != nil {
		port.Release()
		return nil, &BootError{Kind: BootErrorSpawn, Msg: "start " + binary, Err: err}
	}
	if err := m.waitReady(ctx, h); err != nil {
		_ = h.Close()
		return nil, err
	}
	m.Logger.Info("vm ready", "id", h.id, "target", cfg.Target, "ssh_port", h.SSHPort())
	return h, nil
}

func (m *Manager) spawn(binary string, args []string, port *portalloc.Reservation, sshCfg SSHConfig) (*Handle, error) {
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, err
	}

	// Not tied to a context: the handle alone decides when the VM dies.
	cmd := m.command(context.Background(), binary, args...)
	cmd.Stdin = nil
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	startErr := cmd.Start()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, startErr
	}

	user := sshCfg.User
	if user == "" {
		user = ssh.DefaultUser
	}
	h := &Handle{
		id:       newInstanceID(),
		argv:     append([]string{binary}, args...),
		cmd:      cmd,
		stdout:   logreader.New(stdoutR),
		stderr:   logreader.New(stderrR),
		logPipes: []*os.File{stdoutR, stderrR},
		endpoint: ssh.Endpoint{
			Host:    SSHHost,
			Port:    port.Port(),
			KeyPath: sshCfg.KeyPath,
			User:    user,
		},
		port:        port,
		logger:      m.Logger,
		waitCh:      make(chan struct{}),
		sshCommand:  ssh.Command,
		copyCommand: ssh.CopyCommand,
		onTeardown:  m.untrack,
	}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitCh)
	}()
	m.track(h)
	m.Logger.Debug("qemu spawned", "id", h.id, "pid", cmd.Process.Pid, "argv", strings.Join(h.argv, " "))
	return h, nil
}

func (m *Manager) waitReady(ctx context.Context, h *Handle) error {
	rounds := 0
	var waited time.Duration
	for wait := range m.Backoff.Schedule() {
		if err := m.sleep(ctx, wait); err != nil {
			return &BootError{Kind: BootErrorTimeout, Msg: "boot canceled", Err: err}
		}
		waited += wait
		rounds++

		alive, err := m.probe(ctx, h)
		if err != nil {
			return &BootError{Kind: BootErrorSpawn, Msg: "probe guest over ssh", Err: err}
		}
		if alive {
			m.Logger.Debug("guest reachable", "id", h.id, "rounds", rounds, "waited", waited)
			return nil
		}
		if exited, waitErr := h.Exited(); exited {
			_, stderr := h.Output()
			status := "exit"
			if h.cmd.ProcessState != nil {
				status = h.cmd.ProcessState.String()
			}
			if waitErr != nil && h.cmd.ProcessState == nil {
				status = waitErr.Error()
			}
			return &BootError{
				Kind:   BootErrorConfig,
				Msg:    fmt.Sprintf("failed to boot, qemu exited with: %s", status),
				Stderr: string(stderr),
			}
		}
		m.Logger.Debug("guest not reachable yet", "id", h.id, "round", rounds, "next", wait)
	}
	return &BootError{
		Kind: BootErrorTimeout,
		Msg:  fmt.Sprintf("failed to boot within %s: %s", m.Backoff.withDefaults().Budget, strings.Join(h.argv, " ")),
	}
}

func (m *Manager) track(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[h] = struct{}{}
}

func (m *Manager) untrack(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, h)
}

// Live returns the number of VMs not yet torn down.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown kills every VM still running. Call it on process exit paths
// that bypass deferred Close calls, such as signal handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.live))
	for h := range m.live {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		_ = h.Close()
	}
}
