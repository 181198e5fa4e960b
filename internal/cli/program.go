package cli

import (
	"fmt"
	"path/filepath"

	"github.com/buildkite/fuzzroom/internal/cheaders"
	"github.com/buildkite/fuzzroom/internal/instrument"
	"github.com/buildkite/fuzzroom/internal/jit/tcc"
	"github.com/buildkite/fuzzroom/internal/prog"
	"github.com/buildkite/fuzzroom/internal/runtimeconfig"
)

// programFlags select the program to execute and how to translate it.
type programFlags struct {
	Target  string `required:"" type:"path" help:"Target description (YAML)"`
	Prog    string `required:"" type:"path" help:"Program to execute (YAML)"`
	Headers string `type:"path" help:"Header catalog overlay (defaults to runtime config)"`
}

type compilerFlags struct {
	RuntimeIncludeDir string   `help:"Compiler runtime header directory"`
	SysInclude        []string `name:"sysinclude" help:"System include path (repeatable)"`
	LibraryPath       []string `name:"library-path" help:"Library path (repeatable)"`
}

type loadedProgram struct {
	Target       *prog.Target
	Prog         *prog.Prog
	Instrumenter *instrument.Instrumenter
}

func (f programFlags) load(cwd string, cfg runtimeconfig.Config) (*loadedProgram, error) {
	target, err := prog.LoadTarget(resolvePath(cwd, f.Target))
	if err != nil {
		return nil, err
	}
	p, err := prog.LoadProg(resolvePath(cwd, f.Prog), target)
	if err != nil {
		return nil, err
	}

	catalog := cheaders.Default()
	if overlay := firstNonEmpty(f.Headers, cfg.Headers.Overlay); overlay != "" {
		catalog, err = catalog.WithOverlay(resolvePath(cwd, overlay))
		if err != nil {
			return nil, err
		}
	}
	return &loadedProgram{
		Target:       target,
		Prog:         p,
		Instrumenter: instrument.New(catalog),
	}, nil
}

// args renders the flags for a child invocation.
func (f programFlags) args(cwd string) []string {
	out := []string{"--target", resolvePath(cwd, f.Target), "--prog", resolvePath(cwd, f.Prog)}
	if f.Headers != "" {
		out = append(out, "--headers", resolvePath(cwd, f.Headers))
	}
	return out
}

func (f compilerFlags) options(cfg runtimeconfig.CompilerConfig, diagnostics func(string)) tcc.Options {
	opts := tcc.Options{
		RuntimeIncludeDir: firstNonEmpty(f.RuntimeIncludeDir, cfg.RuntimeIncludeDir),
		SysIncludePaths:   cfg.SysIncludePaths,
		LibraryPaths:      cfg.LibraryPaths,
		Diagnostics:       diagnostics,
	}
	if len(f.SysInclude) > 0 {
		opts.SysIncludePaths = f.SysInclude
	}
	if len(f.LibraryPath) > 0 {
		opts.LibraryPaths = f.LibraryPath
	}
	return opts
}

func (f compilerFlags) args() []string {
	var out []string
	if f.RuntimeIncludeDir != "" {
		out = append(out, "--runtime-include-dir", f.RuntimeIncludeDir)
	}
	for _, p := range f.SysInclude {
		out = append(out, "--sysinclude", p)
	}
	for _, p := range f.LibraryPath {
		out = append(out, "--library-path", p)
	}
	return out
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func describeProgram(lp *loadedProgram) string {
	return fmt.Sprintf("%s (%d calls)", lp.Target.OSArch(), len(lp.Prog.Calls))
}
