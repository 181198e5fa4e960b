package qemu

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownTarget = errors.New("target not supported")
	ErrNoFreePort    = errors.New("no port to spawn qemu")
)

type BootErrorKind string

const (
	BootErrorConfig     BootErrorKind = "config"
	BootErrorSpawn      BootErrorKind = "spawn"
	BootErrorNoFreePort BootErrorKind = "no_free_port"
	BootErrorTimeout    BootErrorKind = "timeout"
)

// BootError describes why a VM did not become reachable. Stderr holds the
// hypervisor's captured stderr when the process exited during boot.
type BootError struct {
	Kind   BootErrorKind
	Msg    string
	Stderr string
	Err    error
}

func (e *BootError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\nSTDERR:\n" + e.Stderr
	}
	return msg
}

func (e *BootError) Unwrap() error {
	return e.Err
}
