//go:build cgo && linux

// Package tcc embeds libtcc as the in-memory compiler of the executor.
package tcc

/*
#cgo LDFLAGS: -ltcc -ldl
#include <stdlib.h>
#include <stdint.h>
#include <libtcc.h>

void fuzzroom_tcc_set_error_func(TCCState *s, uintptr_t handle);
int fuzzroom_tcc_relocate(TCCState *s);
int fuzzroom_tcc_call_entry(void *fn);
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"strings"
	"sync"
	"unsafe"

	"github.com/buildkite/fuzzroom/internal/jit"
)

// Compiler creates a fresh TCC state for every compilation.
type Compiler struct {
	opts Options
}

func New(opts Options) *Compiler {
	return &Compiler{opts: opts.withDefaults()}
}

type state struct {
	s      *C.TCCState
	handle cgo.Handle
	diag   *diagnostics
}

type diagnostics struct {
	mu    sync.Mutex
	lines []string
	sink  func(string)
}

func (d *diagnostics) add(msg string) {
	d.mu.Lock()
	d.lines = append(d.lines, msg)
	d.mu.Unlock()
	if d.sink != nil && strings.Contains(msg, "error") {
		d.sink(msg)
	}
}

func (d *diagnostics) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

//export goTCCError
func goTCCError(handle C.uintptr_t, msg *C.char) {
	d, ok := cgo.Handle(handle).Value().(*diagnostics)
	if !ok {
		return
	}
	d.add(C.GoString(msg))
}

func (c *Compiler) newState() (*state, error) {
	s := C.tcc_new()
	if s == nil {
		return nil, &jit.CompileError{Stage: "init"}
	}
	st := &state{s: s, diag: &diagnostics{sink: c.opts.Diagnostics}}
	st.handle = cgo.NewHandle(st.diag)
	C.fuzzroom_tcc_set_error_func(s, C.uintptr_t(st.handle))

	for _, p := range c.opts.SysIncludePaths {
		if err := st.withCString(p, func(cs *C.char) C.int { return C.tcc_add_sysinclude_path(s, cs) }); err != nil {
			st.close()
			return nil, fmt.Errorf("add sysinclude path %s: %w", p, err)
		}
	}
	for _, p := range c.opts.LibraryPaths {
		if err := st.withCString(p, func(cs *C.char) C.int { return C.tcc_add_library_path(s, cs) }); err != nil {
			st.close()
			return nil, fmt.Errorf("add library path %s: %w", p, err)
		}
	}
	if C.tcc_set_output_type(s, C.TCC_OUTPUT_MEMORY) != 0 {
		st.close()
		return nil, st.err("set up jit")
	}
	return st, nil
}

func (st *state) withCString(v string, f func(*C.char) C.int) error {
	cs := C.CString(v)
	defer C.free(unsafe.Pointer(cs))
	if f(cs) < 0 {
		return st.err("configure")
	}
	return nil
}

func (st *state) err(stage string) error {
	return &jit.CompileError{Stage: stage, Diagnostics: st.diag.snapshot()}
}

func (st *state) compile(src string) error {
	cs := C.CString(src)
	defer C.free(unsafe.Pointer(cs))
	if C.tcc_compile_string(st.s, cs) != 0 {
		return st.err("compile")
	}
	return nil
}

func (st *state) close() {
	if st.s != nil {
		C.tcc_delete(st.s)
		st.s = nil
	}
	if st.handle != 0 {
		st.handle.Delete()
		st.handle = 0
	}
}

func (c *Compiler) Compile(src string) (jit.Image, error) {
	st, err := c.newState()
	if err != nil {
		return nil, err
	}
	if err := st.compile(src); err != nil {
		st.close()
		return nil, err
	}
	if C.fuzzroom_tcc_relocate(st.s) < 0 {
		defer st.close()
		return nil, st.err("relocate")
	}
	return &image{st: st}, nil
}

func (c *Compiler) Run(src string, args []string) (int, error) {
	st, err := c.newState()
	if err != nil {
		return 0, err
	}
	defer st.close()
	if err := st.compile(src); err != nil {
		return 0, err
	}

	argv := (**C.char)(C.malloc(C.size_t(len(args)+1) * C.size_t(unsafe.Sizeof(uintptr(0)))))
	defer C.free(unsafe.Pointer(argv))
	slots := unsafe.Slice(argv, len(args)+1)
	for i, a := range args {
		slots[i] = C.CString(a)
		defer C.free(unsafe.Pointer(slots[i]))
	}
	slots[len(args)] = nil
	return int(C.tcc_run(st.s, C.int(len(args)), argv)), nil
}

type image struct {
	st *state
}

func (i *image) Symbol(name string) (jit.Entry, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	p := C.tcc_get_symbol(i.st.s, cs)
	if p == nil {
		return nil, fmt.Errorf("symbol %q not found", name)
	}
	return entry{fn: p}, nil
}

func (i *image) Close() error {
	i.st.close()
	return nil
}

type entry struct {
	fn unsafe.Pointer
}

func (e entry) Call() int {
	return int(C.fuzzroom_tcc_call_entry(e.fn))
}
