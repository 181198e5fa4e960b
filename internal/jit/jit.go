// Package jit compiles generated translation units in memory and runs
// them inside the current process.
//
// A crash in generated code takes the whole process down with it. That
// crash is the signal the controller observes, so nothing here tries to
// contain it.
package jit

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/buildkite/fuzzroom/internal/instrument"
	"github.com/buildkite/fuzzroom/internal/kcov"
	"github.com/buildkite/fuzzroom/internal/prog"
	"github.com/charmbracelet/log"
	"github.com/zeebo/blake3"
)

const (
	// EntrySymbol is the function every instrumented unit defines.
	EntrySymbol = "execute"

	// BackgroundProgName is argv[0] of background runs.
	BackgroundProgName = "fuzzroom-executor-bg-exec"

	ExitOK       = 0
	ExitSoftware = 70
)

// Compiler turns C source into runnable native code.
type Compiler interface {
	// Compile compiles and relocates src into executable memory.
	Compile(src string) (Image, error)
	// Run compiles src and calls its main with args.
	Run(src string, args []string) (int, error)
}

// Image is a relocated in-memory compilation result.
type Image interface {
	Symbol(name string) (Entry, error)
	Close() error
}

// Entry is a resolved function of type int(void).
type Entry interface {
	Call() int
}

// CompileError carries the compiler diagnostics of a failed compile.
type CompileError struct {
	Stage       string
	Diagnostics []string
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "jit " + e.Stage + " failed"
	}
	return fmt.Sprintf("jit %s failed: %s", e.Stage, e.Diagnostics[len(e.Diagnostics)-1])
}

// SyncFDs are the sandbox ends of a coverage channel.
type SyncFDs struct {
	Data  int
	Event int
}

type Engine struct {
	Instrumenter *instrument.Instrumenter
	Compiler     Compiler
	Logger       *log.Logger
	Stderr       io.Writer

	exit func(int)
}

func NewEngine(in *instrument.Instrumenter, cc Compiler, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{
		Instrumenter: in,
		Compiler:     cc,
		Logger:       logger,
		Stderr:       os.Stderr,
		exit:         os.Exit,
	}
}

// RunInProcess instruments p, compiles it and calls its entry point in
// this process. It never returns: the process exits with ExitOK when every
// call succeeded, and with ExitSoftware otherwise.
func (e *Engine) RunInProcess(p *prog.Prog, t *prog.Target, fds SyncFDs) {
	e.exit(e.execute(p, t, fds))
}

func (e *Engine) execute(p *prog.Prog, t *prog.Target, fds SyncFDs) int {
	src, err := e.Instrumenter.Instrument(p, t, fds.Data, fds.Event)
	if err != nil {
		fmt.Fprintln(e.Stderr, err)
		return ExitSoftware
	}
	e.Logger.Debug("instrumented program", "calls", len(p.Calls), "bytes", len(src), "digest", Digest(src))

	img, err := e.Compiler.Compile(src)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Fail to compile generated prog: %v\n%s\n", err, src)
		return ExitSoftware
	}
	defer img.Close()

	entry, err := img.Symbol(EntrySymbol)
	if err != nil {
		fmt.Fprintf(e.Stderr, "Fail to resolve %s: %v\n", EntrySymbol, err)
		return ExitSoftware
	}

	code := entry.Call()
	if code == kcov.StatusOK.Ordinal() {
		return ExitOK
	}
	fmt.Fprintf(e.Stderr, "Fail to execute: %v\n", kcov.MustStatus(code))
	return ExitSoftware
}

// RunBackground runs the uninstrumented translation of p. Empty programs
// are not compiled at all.
func (e *Engine) RunBackground(p *prog.Prog, t *prog.Target) error {
	if len(p.Calls) == 0 {
		return nil
	}
	src, err := e.Instrumenter.Plain(p, t)
	if err != nil {
		return err
	}
	e.Logger.Debug("background program", "calls", len(p.Calls), "digest", Digest(src))

	code, err := e.Compiler.Run(src, []string{BackgroundProgName})
	if err != nil {
		return fmt.Errorf("run background program: %w", err)
	}
	if code != 0 {
		e.Logger.Debug("background program exited", "code", code)
	}
	return nil
}

// Digest is a short content hash of a translation unit for log
// correlation and dump file names.
func Digest(src string) string {
	sum := blake3.Sum256([]byte(src))
	return fmt.Sprintf("%x", sum[:8])
}

// ErrUnavailable is returned by compilers not built into this binary.
var ErrUnavailable = errors.New("in-memory C compiler not available in this build")
