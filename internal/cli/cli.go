package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/buildkite/fuzzroom/internal/jit"
	"github.com/buildkite/fuzzroom/internal/jit/tcc"
	"github.com/buildkite/fuzzroom/internal/runtimeconfig"
	"github.com/charmbracelet/log"
)

type runtimeContext struct {
	CWD        string
	Stdout     *os.File
	Stderr     *os.File
	Config     runtimeconfig.Config
	ConfigPath string

	// NewCompiler builds the in-memory compiler used by exec and replay.
	NewCompiler func(tcc.Options) jit.Compiler
	// Executor builds the sandbox child started by run.
	Executor func(ctx context.Context, args ...string) (*exec.Cmd, error)
	Doctor   doctorProbes
}

type CLI struct {
	Version kong.VersionFlag `help:"Print version and exit"`

	Boot       BootCommand       `cmd:"" help:"Boot a QEMU guest and optionally run a command in it"`
	Run        RunCommand        `cmd:"" help:"Execute a program in a sandbox child and collect its coverage"`
	Exec       ExecCommand       `cmd:"" help:"Execute an instrumented program in this process (sandbox side)"`
	Replay     ReplayCommand     `cmd:"" help:"Execute a program without coverage collection"`
	Instrument InstrumentCommand `cmd:"" help:"Print the translation unit generated for a program"`
	Doctor     DoctorCommand     `cmd:"" help:"Run host environment diagnostics"`
}

// ExecutorCLI is the command set of the guest executor binary.
type ExecutorCLI struct {
	Version kong.VersionFlag `help:"Print version and exit"`

	Run    RunCommand    `cmd:"" help:"Execute a program in a sandbox child and collect its coverage"`
	Exec   ExecCommand   `cmd:"" help:"Execute an instrumented program in this process (sandbox side)"`
	Replay ReplayCommand `cmd:"" help:"Execute a program without coverage collection"`
}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.code)
}

func (e exitCodeError) ExitCode() int {
	return e.code
}

type hasExitCode interface {
	ExitCode() int
}

var (
	newSignalChannel = func() chan os.Signal {
		return make(chan os.Signal, 2)
	}
	notifySignals = func(ch chan os.Signal, sig ...os.Signal) {
		signal.Notify(ch, sig...)
	}
	stopSignals = func(ch chan os.Signal) {
		signal.Stop(ch)
	}
)

func Run(args []string, version string) error {
	return run(&CLI{}, "fuzzroom", "Coverage-guided program execution sandbox", args, version)
}

// RunExecutor parses args against the executor command set.
func RunExecutor(args []string, version string) error {
	return run(&ExecutorCLI{}, "fuzzroom-executor", "Guest-side program executor", args, version)
}

func run(grammar any, name, description string, args []string, version string) error {
	cfg, cfgPath, err := runtimeconfig.Load()
	if err != nil {
		return err
	}

	runtimeCtx := &runtimeContext{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Config:     cfg,
		ConfigPath: cfgPath,
		NewCompiler: func(opts tcc.Options) jit.Compiler {
			return tcc.New(opts)
		},
		Executor: selfExecutor,
		Doctor:   defaultDoctorProbes(),
	}

	parser, err := newParser(grammar, name, description, version)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	runtimeCtx.CWD = cwd

	return ctx.Run(runtimeCtx)
}

func newParser(grammar any, name, description, version string) (*kong.Kong, error) {
	return kong.New(
		grammar,
		kong.Name(name),
		kong.Description(description),
		kong.Vars{"version": version},
	)
}

func ExitCode(err error) int {
	var codeErr hasExitCode
	if errors.As(err, &codeErr) {
		return codeErr.ExitCode()
	}
	return 1
}

// selfExecutor re-runs the current binary as the sandbox child.
func selfExecutor(ctx context.Context, args ...string) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executor binary: %w", err)
	}
	return exec.CommandContext(ctx, self, args...), nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM. onSignal runs
// before cancellation.
func signalContext(parent context.Context, onSignal func(os.Signal)) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	ch := newSignalChannel()
	notifySignals(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			if onSignal != nil {
				onSignal(sig)
			}
			cancel()
		case <-done:
		}
	}()
	return ctx, func() {
		stopSignals(ch)
		close(done)
		cancel()
	}
}

func newLogger(rawLevel, component string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "info"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:     level,
		Formatter: log.TextFormatter,
	})
	applyPolishedLoggerStyles(logger, shouldUseANSI(os.Stderr))
	return logger.With("component", component), nil
}

// firstNonEmpty returns the first value that is not blank.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
