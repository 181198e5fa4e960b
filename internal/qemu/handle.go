package qemu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/buildkite/fuzzroom/internal/logreader"
	"github.com/buildkite/fuzzroom/internal/portalloc"
	"github.com/buildkite/fuzzroom/internal/ssh"
	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// killTimeout bounds how long teardown waits for the killed hypervisor
// to be reaped.
const killTimeout = 10 * time.Second

// drainTimeout bounds how long teardown waits for log readers to see EOF.
const drainTimeout = 2 * time.Second

// Handle is a running VM. Callers must call Output or Close; both kill and
// reap the hypervisor and release its forwarded port.
type Handle struct {
	id       string
	argv     []string
	cmd      *exec.Cmd
	stdout   *logreader.Reader
	stderr   *logreader.Reader
	logPipes []*os.File
	endpoint ssh.Endpoint
	port     *portalloc.Reservation
	logger   *log.Logger

	waitCh  chan struct{}
	waitErr error

	sshCommand  func(ctx context.Context, e ssh.Endpoint, remote ...string) *exec.Cmd
	copyCommand func(ctx context.Context, e ssh.Endpoint, local, remote string) *exec.Cmd

	teardownOnce sync.Once
	onTeardown   func(*Handle)
}

func (h *Handle) ID() string             { return h.id }
func (h *Handle) SSHHost() string        { return h.endpoint.Host }
func (h *Handle) SSHPort() uint16        { return h.endpoint.Port }
func (h *Handle) Argv() []string         { return append([]string(nil), h.argv...) }
func (h *Handle) Endpoint() ssh.Endpoint { return h.endpoint }

// Clear discards output captured so far.
func (h *Handle) Clear() {
	h.stdout.Clear()
	h.stderr.Clear()
}

// Exited reports whether the hypervisor process has terminated.
func (h *Handle) Exited() (bool, error) {
	select {
	case <-h.waitCh:
		return true, h.waitErr
	default:
		return false, nil
	}
}

// IsAlive runs a trivial command in the guest. Only its success counts:
// the hypervisor can be running long before the guest accepts logins.
func (h *Handle) IsAlive(ctx context.Context) (bool, error) {
	cmd := h.sshCommand(ctx, h.endpoint, "pwd")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// Run executes argv in the guest and returns its combined output.
func (h *Handle) Run(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("missing remote command")
	}
	out, err := h.sshCommand(ctx, h.endpoint, argv...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("run %q in %s: %w", argv[0], h.id, err)
	}
	return out, nil
}

// Copy pushes a local file into the guest.
func (h *Handle) Copy(ctx context.Context, local, remote string) error {
	out, err := h.copyCommand(ctx, h.endpoint, local, remote).CombinedOutput()
	if err != nil {
		return fmt.Errorf("copy %s to %s:%s: %w: %s", local, h.id, remote, err, out)
	}
	return nil
}

// Output kills the VM and returns everything it wrote.
func (h *Handle) Output() (stdout, stderr []byte) {
	h.teardown()
	return h.stdout.Bytes(), h.stderr.Bytes()
}

// Close kills the VM. It is safe to call after Output and more than once.
func (h *Handle) Close() error {
	h.teardown()
	return nil
}

func (h *Handle) teardown() {
	h.teardownOnce.Do(func() {
		h.kill()
		for _, r := range []*logreader.Reader{h.stdout, h.stderr} {
			r.Wait(drainTimeout)
		}
		for _, f := range h.logPipes {
			_ = f.Close()
		}
		h.port.Release()
		if h.onTeardown != nil {
			h.onTeardown(h)
		}
		h.logger.Debug("vm terminated", "id", h.id)
	})
}

func (h *Handle) kill() {
	if exited, _ := h.Exited(); exited {
		return
	}
	if h.cmd.Process != nil {
		// The hypervisor runs in its own process group; kill helpers too.
		if err := unix.Kill(-h.cmd.Process.Pid, unix.SIGKILL); err != nil {
			_ = h.cmd.Process.Kill()
		}
	}
	select {
	case <-h.waitCh:
	case <-time.After(killTimeout):
		h.logger.Warn("vm not reaped after kill", "id", h.id, "timeout", killTimeout)
	}
}
