// Package instrument generates the native translation units executed by
// the sandbox.
package instrument

import (
	"fmt"
	"strings"

	"github.com/buildkite/fuzzroom/internal/cheaders"
	"github.com/buildkite/fuzzroom/internal/covsync"
	"github.com/buildkite/fuzzroom/internal/kcov"
	"github.com/buildkite/fuzzroom/internal/prog"
)

type Instrumenter struct {
	Catalog    *cheaders.Catalog
	Translator prog.Translator
}

// New returns an Instrumenter using the given catalog and the plain C
// translator.
func New(catalog *cheaders.Catalog) *Instrumenter {
	return &Instrumenter{Catalog: catalog, Translator: prog.CTranslator{}}
}

// Instrument builds a self-contained translation unit whose execute entry
// point runs every call of p under kcov and hands each call's trace to
// the controller through dataFD/eventFD.
func (in *Instrumenter) Instrument(p *prog.Prog, t *prog.Target, dataFD, eventFD int) (string, error) {
	includes := NewIncludeSet(harnessHeaders...)
	stmts, err := in.translate(p, t, includes)
	if err != nil {
		return "", err
	}

	var body strings.Builder
	body.WriteString(setupBlock())
	for _, stmt := range stmts {
		body.WriteString(coverBracket(stmt))
	}
	body.WriteString(teardownBlock())

	var unit strings.Builder
	unit.WriteString("#define _GNU_SOURCE\n")
	for _, h := range includes.Sorted() {
		fmt.Fprintf(&unit, "#include<%s>\n", h)
	}
	unit.WriteString(kcov.CMacros)
	unit.WriteString(covsync.SendRoutine(dataFD, eventFD))
	fmt.Fprintf(&unit, "\nint execute(){\n%s}\n", body.String())
	return unit.String(), nil
}

// Plain builds an uninstrumented unit with a main function running the
// calls of p in order.
func (in *Instrumenter) Plain(p *prog.Prog, t *prog.Target) (string, error) {
	includes := NewIncludeSet("stdio.h", "stdlib.h", "unistd.h")
	stmts, err := in.translate(p, t, includes)
	if err != nil {
		return "", err
	}

	var unit strings.Builder
	unit.WriteString("#define _GNU_SOURCE\n")
	for _, h := range includes.Sorted() {
		fmt.Fprintf(&unit, "#include<%s>\n", h)
	}
	unit.WriteString("\nint main(){\n")
	for _, stmt := range stmts {
		fmt.Fprintf(&unit, "    %s\n", stmt)
	}
	unit.WriteString("    return 0;\n}\n")
	return unit.String(), nil
}

// translate collects one statement per call and adds each call's headers
// to includes.
func (in *Instrumenter) translate(p *prog.Prog, t *prog.Target, includes IncludeSet) ([]string, error) {
	translator := in.Translator
	if translator == nil {
		translator = prog.CTranslator{}
	}

	stmts := make([]string, 0, len(p.Calls))
	for stmt, err := range translator.Translate(p, t) {
		if err != nil {
			return nil, fmt.Errorf("translate program: %w", err)
		}
		i := len(stmts)
		if i >= len(p.Calls) {
			return nil, fmt.Errorf("translator produced more statements than the %d calls in the program", len(p.Calls))
		}
		fn, err := t.Fn(p.Calls[i].Fn)
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		includes.Add(in.Catalog.Lookup(fn.CallName)...)
		includes.Add(fn.ExtraIncludes()...)
		stmts = append(stmts, stmt)
	}
	if len(stmts) != len(p.Calls) {
		return nil, fmt.Errorf("translator produced %d statements for %d calls", len(stmts), len(p.Calls))
	}
	return stmts, nil
}

func setupBlock() string {
	return fmt.Sprintf(`
    int fd;
    unsigned long *cover;
    uint32_t len = 0;

    fd = open("%s", O_RDWR);
    if (fd == -1)
            return %d;
    if (ioctl(fd, KCOV_INIT_TRACE, COVER_SIZE))
            return %d;
    cover = (unsigned long*)mmap(NULL, COVER_SIZE * sizeof(unsigned long),
                                 PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    if ((void*)cover == MAP_FAILED)
            return %d;
`,
		kcov.DevicePath,
		kcov.StatusKcovOpenErr.Ordinal(),
		kcov.StatusKcovInitErr.Ordinal(),
		kcov.StatusMmapErr.Ordinal(),
	)
}

// coverBlockMarker opens every per-call bracket.
const coverBlockMarker = "/* call */"

func coverBracket(stmt string) string {
	return fmt.Sprintf(`
    %s
    if (ioctl(fd, KCOV_ENABLE, KCOV_TRACE_PC))
            return %d;
    cover[0] = 0;
    %s
    len = cover[0];
    if (ioctl(fd, KCOV_DISABLE, 0))
            return %d;
    if (sync_send(cover, len) == -1)
            return %d;
`,
		coverBlockMarker,
		kcov.StatusKcovEnableErr.Ordinal(),
		stmt,
		kcov.StatusKcovDisableErr.Ordinal(),
		kcov.StatusCovSendErr.Ordinal(),
	)
}

func teardownBlock() string {
	return fmt.Sprintf(`
    if (munmap(cover, COVER_SIZE * sizeof(unsigned long)))
            return %d;
    if (close(fd))
            return %d;
    return %d;
`,
		kcov.StatusMmapErr.Ordinal(),
		kcov.StatusKcovCloseErr.Ordinal(),
		kcov.StatusOK.Ordinal(),
	)
}
