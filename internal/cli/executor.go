package cli

import (
	"fmt"

	"github.com/buildkite/fuzzroom/internal/jit"
	"github.com/buildkite/fuzzroom/internal/paths"
	"golang.org/x/sys/unix"
)

// ExecCommand is the sandbox side of run: the instrumented program is
// compiled and called in this process, reporting coverage over the
// inherited descriptors. It never returns on success.
type ExecCommand struct {
	Program  programFlags  `embed:""`
	Compiler compilerFlags `embed:""`
	LogLevel string        `help:"Executor log level (debug|info|warn|error)"`

	DataFD  int `name:"data-fd" default:"3" help:"Descriptor coverage buffers are written to"`
	EventFD int `name:"event-fd" default:"4" help:"Descriptor acknowledgements are read from"`
}

func (e *ExecCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(e.LogLevel, "executor")
	if err != nil {
		return err
	}
	lp, err := e.Program.load(ctx.CWD, ctx.Config)
	if err != nil {
		return err
	}
	for _, fd := range []int{e.DataFD, e.EventFD} {
		if err := checkDescriptor(fd); err != nil {
			return err
		}
	}

	opts := e.Compiler.options(ctx.Config.Compiler, func(msg string) {
		fmt.Fprintln(ctx.Stderr, msg)
	})
	engine := jit.NewEngine(lp.Instrumenter, ctx.NewCompiler(opts), logger)
	engine.Stderr = ctx.Stderr
	logger.Debug("executing program", "program", describeProgram(lp), "data_fd", e.DataFD, "event_fd", e.EventFD)
	engine.RunInProcess(lp.Prog, lp.Target, jit.SyncFDs{Data: e.DataFD, Event: e.EventFD})
	return nil
}

func checkDescriptor(fd int) error {
	if fd < 0 {
		return fmt.Errorf("invalid descriptor %d", fd)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("descriptor %d is not open: %w", fd, err)
	}
	return nil
}

// ReplayCommand runs a program uninstrumented, e.g. to reproduce a crash
// without the coverage channel.
type ReplayCommand struct {
	Program  programFlags  `embed:""`
	Compiler compilerFlags `embed:""`
	LogLevel string        `help:"Log level (debug|info|warn|error)"`
}

func (r *ReplayCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(r.LogLevel, "replay")
	if err != nil {
		return err
	}
	lp, err := r.Program.load(ctx.CWD, ctx.Config)
	if err != nil {
		return err
	}
	opts := r.Compiler.options(ctx.Config.Compiler, func(msg string) {
		fmt.Fprintln(ctx.Stderr, msg)
	})
	engine := jit.NewEngine(lp.Instrumenter, ctx.NewCompiler(opts), logger)
	engine.Stderr = ctx.Stderr
	if err := engine.RunBackground(lp.Prog, lp.Target); err != nil {
		return err
	}
	logger.Info("program replayed", "program", describeProgram(lp))
	return nil
}

// InstrumentCommand prints the generated translation unit.
type InstrumentCommand struct {
	Program programFlags `embed:""`
	Plain   bool         `help:"Emit the uninstrumented unit run by replay"`
	DataFD  int          `name:"data-fd" default:"3" help:"Data descriptor baked into the unit"`
	EventFD int          `name:"event-fd" default:"4" help:"Event descriptor baked into the unit"`
	Dump    bool         `help:"Write the unit to the dump directory instead of stdout"`
	DumpDir string       `type:"path" help:"Dump directory (defaults to the fuzzroom state directory)"`
}

func (i *InstrumentCommand) Run(ctx *runtimeContext) error {
	lp, err := i.Program.load(ctx.CWD, ctx.Config)
	if err != nil {
		return err
	}

	var src string
	if i.Plain {
		src, err = lp.Instrumenter.Plain(lp.Prog, lp.Target)
	} else {
		src, err = lp.Instrumenter.Instrument(lp.Prog, lp.Target, i.DataFD, i.EventFD)
	}
	if err != nil {
		return err
	}

	if !i.Dump {
		_, err = fmt.Fprint(ctx.Stdout, src)
		return err
	}
	dir := firstNonEmpty(i.DumpDir, ctx.Config.Compiler.DumpDir)
	if dir == "" {
		if dir, err = paths.DumpDir(); err != nil {
			return err
		}
	}
	path, err := jit.DumpSource(dir, src)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.Stdout, path)
	return err
}
