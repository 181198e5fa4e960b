// Package ssh builds ssh and scp invocations against a forwarded guest.
package ssh

import (
	"context"
	"os/exec"
	"strconv"
)

const DefaultUser = "root"

// Endpoint identifies a guest reachable over SSH.
type Endpoint struct {
	Host    string
	Port    uint16
	KeyPath string
	User    string
}

func (e Endpoint) user() string {
	if e.User == "" {
		return DefaultUser
	}
	return e.User
}

func (e Endpoint) Target() string {
	return e.user() + "@" + e.Host
}

// commonOptions keep ssh non-interactive and free of host key state.
func commonOptions(keyPath string) []string {
	args := []string{
		"-F", "/dev/null",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-o", "IdentitiesOnly=yes",
		"-o", "ConnectTimeout=10",
		"-o", "LogLevel=ERROR",
	}
	if keyPath != "" {
		args = append(args, "-i", keyPath)
	}
	return args
}

// BasicArgs returns the ssh arguments up to and including user@host.
func BasicArgs(e Endpoint) []string {
	args := []string{"-p", strconv.Itoa(int(e.Port))}
	args = append(args, commonOptions(e.KeyPath)...)
	return append(args, e.Target())
}

// Command returns an ssh command running remote on the guest.
func Command(ctx context.Context, e Endpoint, remote ...string) *exec.Cmd {
	args := append(BasicArgs(e), remote...)
	return exec.CommandContext(ctx, "ssh", args...)
}

// CopyCommand returns an scp command copying local to remote on the guest.
func CopyCommand(ctx context.Context, e Endpoint, local, remote string) *exec.Cmd {
	args := []string{"-P", strconv.Itoa(int(e.Port))}
	args = append(args, commonOptions(e.KeyPath)...)
	args = append(args, local, e.Target()+":"+remote)
	return exec.CommandContext(ctx, "scp", args...)
}
