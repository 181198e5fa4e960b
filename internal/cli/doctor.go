package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/buildkite/fuzzroom/internal/hosttools"
	"github.com/buildkite/fuzzroom/internal/jit"
	"github.com/buildkite/fuzzroom/internal/jit/tcc"
	"github.com/buildkite/fuzzroom/internal/kcov"
	"github.com/buildkite/fuzzroom/internal/qemu"
	"golang.org/x/sys/unix"
)

type DoctorCommand struct {
	Target string `help:"Guest os/arch to diagnose (defaults to runtime config or linux/amd64)"`
	JSON   bool   `help:"Print doctor report as JSON"`
}

type doctorCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// doctorProbes are the host lookups behind each check.
type doctorProbes struct {
	ResolveQEMU func(binary string) (string, error)
	ResolveSSH  func(binary string) (string, error)
	Access      func(path string, mode uint32) error
	Stat        func(path string) (os.FileInfo, error)
}

func defaultDoctorProbes() doctorProbes {
	return doctorProbes{
		ResolveQEMU: hosttools.ResolveQEMUBinary,
		ResolveSSH:  hosttools.ResolveSSHTool,
		Access:      unix.Access,
		Stat:        os.Stat,
	}
}

const kvmDevice = "/dev/kvm"

// compileProbe is the smallest unit exposing the executor entry point.
const compileProbe = "int " + jit.EntrySymbol + "(void) { return 0; }\n"

func (d *DoctorCommand) Run(ctx *runtimeContext) error {
	checks := d.checks(ctx)

	if d.JSON {
		payload := map[string]any{
			"target": d.target(ctx),
			"checks": checks,
		}
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	_, err := fmt.Fprint(ctx.Stdout, renderDoctorReport(d.target(ctx), checks, shouldUseANSI(ctx.Stdout)))
	return err
}

func (d *DoctorCommand) target(ctx *runtimeContext) string {
	return firstNonEmpty(d.Target, ctx.Config.QEMU.Target, defaultTarget)
}

func (d *DoctorCommand) checks(ctx *runtimeContext) []doctorCheck {
	probes := ctx.Doctor
	target := d.target(ctx)
	checks := []doctorCheck{
		{Name: "runtime_config", Status: "pass", Message: fmt.Sprintf("using runtime config path %s", ctx.ConfigPath)},
	}

	prof, err := qemu.DefaultProfiles().Lookup(target)
	if err != nil {
		checks = append(checks, doctorCheck{Name: "target", Status: "fail", Message: err.Error()})
	} else {
		binary := firstNonEmpty(ctx.Config.QEMU.Binaries[target], prof.Binary)
		if path, err := probes.ResolveQEMU(binary); err != nil {
			checks = append(checks, doctorCheck{Name: "qemu_binary", Status: "fail", Message: err.Error()})
		} else {
			checks = append(checks, doctorCheck{Name: "qemu_binary", Status: "pass", Message: fmt.Sprintf("%s resolved to %s", binary, path)})
		}
	}

	if err := probes.Access(kvmDevice, unix.R_OK|unix.W_OK); err != nil {
		checks = append(checks, doctorCheck{
			Name:    "kvm",
			Status:  "warn",
			Message: fmt.Sprintf("%s not accessible (%v); guests will run under TCG emulation", kvmDevice, err),
		})
	} else {
		checks = append(checks, doctorCheck{Name: "kvm", Status: "pass", Message: kvmDevice + " is accessible"})
	}

	for _, tool := range []string{"ssh", "scp"} {
		if path, err := probes.ResolveSSH(tool); err != nil {
			checks = append(checks, doctorCheck{Name: tool, Status: "fail", Message: err.Error()})
		} else {
			checks = append(checks, doctorCheck{Name: tool, Status: "pass", Message: path})
		}
	}

	for _, f := range []struct{ name, path string }{
		{"guest_image", ctx.Config.QEMU.Image},
		{"guest_kernel", ctx.Config.QEMU.Kernel},
		{"ssh_key", ctx.Config.SSH.Key},
	} {
		if f.path == "" {
			continue
		}
		if _, err := probes.Stat(f.path); err != nil {
			checks = append(checks, doctorCheck{Name: f.name, Status: "fail", Message: err.Error()})
		} else {
			checks = append(checks, doctorCheck{Name: f.name, Status: "pass", Message: f.path})
		}
	}

	// kcov lives in the guest kernel; on the host it only matters when exec
	// runs here directly.
	if _, err := probes.Stat(kcov.DevicePath); err != nil {
		checks = append(checks, doctorCheck{
			Name:    "kcov",
			Status:  "warn",
			Message: fmt.Sprintf("%s not present on this host; exec must run inside a kcov-enabled guest", kcov.DevicePath),
		})
	} else {
		checks = append(checks, doctorCheck{Name: "kcov", Status: "pass", Message: kcov.DevicePath})
	}

	checks = append(checks, compilerChecks(ctx, probes)...)
	return checks
}

func compilerChecks(ctx *runtimeContext, probes doctorProbes) []doctorCheck {
	opts := compilerFlags{}.options(ctx.Config.Compiler, nil)
	runtimeDir := firstNonEmpty(opts.RuntimeIncludeDir, tcc.DefaultRuntimeIncludeDir)

	var checks []doctorCheck
	if info, err := probes.Stat(runtimeDir); err != nil || !info.IsDir() {
		checks = append(checks, doctorCheck{
			Name:    "compiler_runtime_headers",
			Status:  "warn",
			Message: fmt.Sprintf("%s is not a directory; set compiler.runtime_include_dir", runtimeDir),
		})
	} else {
		checks = append(checks, doctorCheck{Name: "compiler_runtime_headers", Status: "pass", Message: runtimeDir})
	}

	img, err := ctx.NewCompiler(opts).Compile(compileProbe)
	switch {
	case errors.Is(err, jit.ErrUnavailable):
		checks = append(checks, doctorCheck{Name: "compiler", Status: "fail", Message: err.Error()})
	case err != nil:
		checks = append(checks, doctorCheck{Name: "compiler", Status: "fail", Message: fmt.Sprintf("compile probe: %v", err)})
	default:
		defer img.Close()
		if _, err := img.Symbol(jit.EntrySymbol); err != nil {
			checks = append(checks, doctorCheck{Name: "compiler", Status: "fail", Message: err.Error()})
		} else {
			checks = append(checks, doctorCheck{Name: "compiler", Status: "pass", Message: "in-memory compilation works"})
		}
	}
	return checks
}
