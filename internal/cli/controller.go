package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/buildkite/fuzzroom/internal/coverfile"
	"github.com/buildkite/fuzzroom/internal/covsync"
	"github.com/buildkite/fuzzroom/internal/jit"
	"github.com/buildkite/fuzzroom/internal/kcov"
	"github.com/charmbracelet/log"
)

// Child descriptor numbers of the coverage channel: ExtraFiles start at 3.
const (
	childDataFD  = 3
	childEventFD = 4
)

// RunCommand starts the program in a sandbox child and drains its
// coverage buffers call by call.
type RunCommand struct {
	Program  programFlags  `embed:""`
	Compiler compilerFlags `embed:""`
	LogLevel string        `help:"Log level (debug|info|warn|error)"`

	CoverOut string `type:"path" help:"Write drained coverage to this file (zstd-compressed CBOR)"`
}

type runSummary struct {
	Buffers int
	PCs     int
	Failed  bool
	// Status is the failing status when the executor reported one.
	Status      kcov.StatusCode
	StatusKnown bool
}

func (r *RunCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(r.LogLevel, "controller")
	if err != nil {
		return err
	}
	lp, err := r.Program.load(ctx.CWD, ctx.Config)
	if err != nil {
		return err
	}
	// The child renders the same unit; its digest correlates the two logs.
	src, err := lp.Instrumenter.Instrument(lp.Prog, lp.Target, childDataFD, childEventFD)
	if err != nil {
		return err
	}
	digest := jit.Digest(src)

	var sink *coverfile.Writer
	if r.CoverOut != "" {
		f, err := os.Create(r.CoverOut)
		if err != nil {
			return fmt.Errorf("create coverage file: %w", err)
		}
		defer f.Close()
		sink, err = coverfile.NewWriter(f, coverfile.Header{
			Target: lp.Target.OSArch(),
			Calls:  len(lp.Prog.Calls),
			Digest: digest,
		})
		if err != nil {
			return err
		}
	}

	runCtx, stop := signalContext(context.Background(), nil)
	defer stop()

	args := append([]string{"exec"}, r.Program.args(ctx.CWD)...)
	args = append(args, r.Compiler.args()...)
	if r.LogLevel != "" {
		args = append(args, "--log-level", r.LogLevel)
	}
	args = append(args, "--data-fd", fmt.Sprint(childDataFD), "--event-fd", fmt.Sprint(childEventFD))

	cmd, err := ctx.Executor(runCtx, args...)
	if err != nil {
		return err
	}
	logger.Debug("starting sandbox", "program", describeProgram(lp), "digest", digest)
	summary, err := drainSandbox(cmd, ctx.Stdout, ctx.Stderr, logger, sink)
	if sink != nil {
		if closeErr := sink.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}
	if err != nil {
		return err
	}

	if summary.Failed {
		status := "unknown"
		if summary.StatusKnown {
			status = summary.Status.String()
		}
		logger.Error("program failed", "status", status, "buffers", summary.Buffers, "pcs", summary.PCs)
		return exitCodeError{code: jit.ExitSoftware}
	}
	logger.Info("program executed", "digest", digest, "buffers", summary.Buffers, "pcs", summary.PCs)
	return nil
}

// drainSandbox runs cmd with a fresh coverage channel as descriptors 3
// and 4 and acknowledges every buffer until the child closes its end.
func drainSandbox(cmd *exec.Cmd, stdout, stderr io.Writer, logger *log.Logger, sink *coverfile.Writer) (runSummary, error) {
	var summary runSummary

	ch, err := covsync.NewChannel()
	if err != nil {
		return summary, err
	}
	defer ch.Close()

	data, event := ch.SandboxFiles()
	var stderrBuf bytes.Buffer
	cmd.ExtraFiles = []*os.File{data, event}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	if err := cmd.Start(); err != nil {
		return summary, fmt.Errorf("start sandbox: %w", err)
	}
	if err := ch.CloseSandboxEnds(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return summary, err
	}

	rcv := ch.Receiver()
	var drainErr error
	for {
		cover, err := rcv.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			drainErr = err
			break
		}
		if sink != nil {
			if err := sink.Append(cover); err != nil {
				drainErr = err
				break
			}
		}
		logger.Debug("coverage buffer", "seq", summary.Buffers, "pcs", len(cover))
		summary.Buffers++
		summary.PCs += len(cover)
	}
	if drainErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return summary, fmt.Errorf("drain coverage: %w", drainErr)
	}

	waitErr := cmd.Wait()
	if waitErr == nil {
		return summary, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return summary, fmt.Errorf("wait for sandbox: %w", waitErr)
	}
	switch code := exitErr.ExitCode(); {
	case code < 0:
		return summary, fmt.Errorf("sandbox terminated: %w", waitErr)
	case code != jit.ExitSoftware:
		return summary, exitCodeError{code: code}
	}
	summary.Failed = true
	summary.Status, summary.StatusKnown = failedStatus(stderrBuf.Bytes())
	return summary, nil
}

// failedStatus extracts the status reported by a failing executor from
// its stderr. It reports false when the failure was not an execution
// status, e.g. a compile error.
func failedStatus(stderr []byte) (kcov.StatusCode, bool) {
	const prefix = "Fail to execute: "
	for _, line := range strings.Split(string(stderr), "\n") {
		name, ok := strings.CutPrefix(strings.TrimSpace(line), prefix)
		if !ok {
			continue
		}
		for _, s := range kcov.Statuses() {
			if s.String() == name {
				return s, true
			}
		}
	}
	return kcov.StatusOK, false
}
