package cli

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/buildkite/fuzzroom/internal/jit"
	"github.com/buildkite/fuzzroom/internal/jit/tcc"
	"github.com/buildkite/fuzzroom/internal/kcov"
	"github.com/buildkite/fuzzroom/internal/runtimeconfig"
)

type doctorTestCompiler struct {
	err error
}

func (c doctorTestCompiler) Compile(string) (jit.Image, error) {
	if c.err != nil {
		return nil, c.err
	}
	return doctorTestImage{}, nil
}

func (c doctorTestCompiler) Run(string, []string) (int, error) {
	return 0, c.err
}

type doctorTestImage struct{}

func (doctorTestImage) Symbol(name string) (jit.Entry, error) {
	if name != jit.EntrySymbol {
		return nil, errors.New("missing symbol")
	}
	return nil, nil
}

func (doctorTestImage) Close() error { return nil }

type dirInfo struct{ dir bool }

func (dirInfo) Name() string       { return "x" }
func (dirInfo) Size() int64        { return 1 }
func (dirInfo) Mode() os.FileMode  { return 0o755 }
func (dirInfo) ModTime() time.Time { return time.Time{} }
func (i dirInfo) IsDir() bool      { return i.dir }
func (dirInfo) Sys() any           { return nil }

func doctorTestContext(t *testing.T, compileErr error, present map[string]bool) (*runtimeContext, string) {
	t.Helper()

	stdoutPath := filepath.Join(t.TempDir(), "doctor.out")
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		t.Fatalf("create stdout file: %v", err)
	}
	t.Cleanup(func() { _ = stdout.Close() })

	return &runtimeContext{
		Stdout:     stdout,
		ConfigPath: "/tmp/fuzzroom/config.yaml",
		Config: runtimeconfig.Config{
			QEMU: runtimeconfig.QEMUConfig{Image: "/images/bullseye.img"},
		},
		NewCompiler: func(tcc.Options) jit.Compiler {
			return doctorTestCompiler{err: compileErr}
		},
		Doctor: doctorProbes{
			ResolveQEMU: func(binary string) (string, error) { return "/usr/bin/" + binary, nil },
			ResolveSSH: func(binary string) (string, error) {
				if binary == "scp" {
					return "", errors.New("scp not found in PATH")
				}
				return "/usr/bin/" + binary, nil
			},
			Access: func(string, uint32) error { return errors.New("permission denied") },
			Stat: func(path string) (os.FileInfo, error) {
				if present[path] {
					return dirInfo{dir: path == tcc.DefaultRuntimeIncludeDir}, nil
				}
				return nil, os.ErrNotExist
			},
		},
	}, stdoutPath
}

func findCheck(checks []doctorCheck, name string) (doctorCheck, bool) {
	for _, c := range checks {
		if c.Name == name {
			return c, true
		}
	}
	return doctorCheck{}, false
}

func TestDoctorChecksReportHostState(t *testing.T) {
	ctx, _ := doctorTestContext(t, nil, map[string]bool{
		tcc.DefaultRuntimeIncludeDir: true,
		"/images/bullseye.img":       true,
	})
	checks := (&DoctorCommand{Target: "linux/riscv64"}).checks(ctx)

	want := map[string]string{
		"runtime_config":           "pass",
		"qemu_binary":              "pass",
		"kvm":                      "warn",
		"ssh":                      "pass",
		"scp":                      "fail",
		"guest_image":              "pass",
		"kcov":                     "warn",
		"compiler_runtime_headers": "pass",
		"compiler":                 "pass",
	}
	for name, status := range want {
		c, ok := findCheck(checks, name)
		if !ok {
			t.Fatalf("missing %s check in %+v", name, checks)
		}
		if c.Status != status {
			t.Fatalf("unexpected %s status: got %q want %q (%s)", name, c.Status, status, c.Message)
		}
	}
	if c, _ := findCheck(checks, "qemu_binary"); !strings.Contains(c.Message, "qemu-system-riscv64") {
		t.Fatalf("expected riscv64 binary in message, got %q", c.Message)
	}
	if _, ok := findCheck(checks, "guest_kernel"); ok {
		t.Fatal("expected no kernel check when no kernel is configured")
	}
}

func TestDoctorChecksFailUnknownTargetAndMissingCompiler(t *testing.T) {
	ctx, _ := doctorTestContext(t, jit.ErrUnavailable, map[string]bool{kcov.DevicePath: true})
	checks := (&DoctorCommand{Target: "plan9/vax"}).checks(ctx)

	if c, ok := findCheck(checks, "target"); !ok || c.Status != "fail" {
		t.Fatalf("expected failing target check, got %+v", checks)
	}
	if c, ok := findCheck(checks, "compiler"); !ok || c.Status != "fail" || !strings.Contains(c.Message, "not available") {
		t.Fatalf("expected failing compiler check, got %+v", c)
	}
	if c, ok := findCheck(checks, "kcov"); !ok || c.Status != "pass" {
		t.Fatalf("expected passing kcov check, got %+v", c)
	}
	if c, ok := findCheck(checks, "guest_image"); !ok || c.Status != "fail" {
		t.Fatalf("expected failing image check, got %+v", c)
	}
}

func TestDoctorCommandJSON(t *testing.T) {
	ctx, stdoutPath := doctorTestContext(t, nil, nil)

	if err := (&DoctorCommand{JSON: true}).Run(ctx); err != nil {
		t.Fatalf("doctor returned error: %v", err)
	}
	raw, err := os.ReadFile(stdoutPath)
	if err != nil {
		t.Fatalf("read doctor output: %v", err)
	}
	var payload struct {
		Target string        `json:"target"`
		Checks []doctorCheck `json:"checks"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode doctor JSON: %v\n%s", err, raw)
	}
	if payload.Target != defaultTarget {
		t.Fatalf("unexpected target: got %q want %q", payload.Target, defaultTarget)
	}
	if c, ok := findCheck(payload.Checks, "compiler_runtime_headers"); !ok || c.Status != "warn" {
		t.Fatalf("expected runtime header warning, got %+v", c)
	}
}

func TestDoctorCommandRendersReport(t *testing.T) {
	ctx, stdoutPath := doctorTestContext(t, nil, nil)

	if err := (&DoctorCommand{}).Run(ctx); err != nil {
		t.Fatalf("doctor returned error: %v", err)
	}
	raw, err := os.ReadFile(stdoutPath)
	if err != nil {
		t.Fatalf("read doctor output: %v", err)
	}
	out := stripANSI(string(raw))
	if !strings.Contains(out, "doctor report (linux/amd64)") {
		t.Fatalf("missing report title: %q", out)
	}
	if !strings.Contains(out, "summary:") {
		t.Fatalf("missing summary line: %q", out)
	}
}
