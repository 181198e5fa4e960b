package hosttools

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestResolveBinaryPrefersLookPath(t *testing.T) {
	t.Parallel()

	got, err := resolveBinary(
		"qemu-system-x86_64",
		func(string) (string, error) { return "/usr/bin/qemu-system-x86_64", nil },
		func(string) (os.FileInfo, error) { return nil, os.ErrNotExist },
		[]string{"/opt/qemu/bin/qemu-system-x86_64"},
		"",
	)
	if err != nil {
		t.Fatalf("resolveBinary returned error: %v", err)
	}
	if got != "/usr/bin/qemu-system-x86_64" {
		t.Fatalf("unexpected resolved path: got %q", got)
	}
}

func TestResolveBinaryFallsBackToCandidate(t *testing.T) {
	t.Parallel()

	candidate := "/opt/qemu/bin/qemu-system-aarch64"
	got, err := resolveBinary(
		"qemu-system-aarch64",
		func(string) (string, error) { return "", errors.New("not found") },
		func(path string) (os.FileInfo, error) {
			if path == candidate {
				return &fakeFileInfo{}, nil
			}
			return nil, os.ErrNotExist
		},
		[]string{"/usr/local/bin/qemu-system-aarch64", candidate},
		"",
	)
	if err != nil {
		t.Fatalf("resolveBinary returned error: %v", err)
	}
	if got != candidate {
		t.Fatalf("unexpected resolved path: got %q want %q", got, candidate)
	}
}

func TestResolveBinaryAcceptsAbsolutePath(t *testing.T) {
	t.Parallel()

	got, err := resolveBinary(
		"/srv/qemu/qemu-system-riscv64",
		func(string) (string, error) { return "", errors.New("lookPath must not be consulted") },
		func(string) (os.FileInfo, error) { return &fakeFileInfo{}, nil },
		nil,
		"",
	)
	if err != nil {
		t.Fatalf("resolveBinary returned error: %v", err)
	}
	if got != "/srv/qemu/qemu-system-riscv64" {
		t.Fatalf("unexpected resolved path: got %q", got)
	}
}

func TestResolveBinaryReturnsHelpfulError(t *testing.T) {
	t.Parallel()

	_, err := resolveBinary(
		"qemu-system-s390x",
		func(string) (string, error) { return "", errors.New("not found") },
		func(string) (os.FileInfo, error) { return nil, os.ErrNotExist },
		[]string{"/opt/qemu/bin/qemu-system-s390x"},
		"install qemu",
	)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "qemu-system-s390x") {
		t.Fatalf("expected binary name in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "install qemu") {
		t.Fatalf("expected install hint in error, got %v", err)
	}
}

func TestCandidateBinaryPathsDeduplicates(t *testing.T) {
	t.Parallel()

	got := candidateBinaryPaths("qemu-system-x86_64", []string{"/usr/local", " ", "/usr/local", "/opt/qemu"})
	if len(got) != 2 {
		t.Fatalf("unexpected candidate count: %d (%v)", len(got), got)
	}
	if got[0] != "/usr/local/bin/qemu-system-x86_64" {
		t.Fatalf("unexpected first candidate: %q", got[0])
	}
	if got[1] != "/opt/qemu/bin/qemu-system-x86_64" {
		t.Fatalf("unexpected second candidate: %q", got[1])
	}
}

type fakeFileInfo struct{}

func (*fakeFileInfo) Name() string       { return "bin" }
func (*fakeFileInfo) Size() int64        { return 1 }
func (*fakeFileInfo) Mode() os.FileMode  { return 0o755 }
func (*fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (*fakeFileInfo) IsDir() bool        { return false }
func (*fakeFileInfo) Sys() any           { return nil }
