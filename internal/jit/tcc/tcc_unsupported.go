//go:build !(cgo && linux)

package tcc

import "github.com/buildkite/fuzzroom/internal/jit"

type Compiler struct{}

func New(Options) *Compiler {
	return &Compiler{}
}

func (*Compiler) Compile(string) (jit.Image, error) {
	return nil, jit.ErrUnavailable
}

func (*Compiler) Run(string, []string) (int, error) {
	return 0, jit.ErrUnavailable
}
