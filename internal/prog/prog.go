// Package prog describes the abstract programs executed by the sandbox and
// the target interface they are written against.
package prog

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExtraIncludesAttr is the function attribute naming additional headers a
// call needs beyond the static header catalog.
const ExtraIncludesAttr = "inc"

type Target struct {
	OS   string `yaml:"os"`
	Arch string `yaml:"arch"`
	Fns  []Fn   `yaml:"fns"`

	byID map[int]int
}

type Fn struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	CallName string `yaml:"call_name"`
	Attrs    []Attr `yaml:"attrs,omitempty"`
}

type Attr struct {
	Name string   `yaml:"name"`
	Vals []string `yaml:"vals,omitempty"`
}

// Attr returns the first attribute with the given name.
func (f *Fn) Attr(name string) (Attr, bool) {
	for _, a := range f.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// ExtraIncludes returns the header names declared by the inc attribute.
func (f *Fn) ExtraIncludes() []string {
	attr, ok := f.Attr(ExtraIncludesAttr)
	if !ok {
		return nil
	}
	return attr.Vals
}

// OSArch returns the "os/arch" key used for architecture profiles.
func (t *Target) OSArch() string {
	return t.OS + "/" + t.Arch
}

// Fn looks up a function descriptor by id.
func (t *Target) Fn(id int) (*Fn, error) {
	if t.byID != nil {
		if i, ok := t.byID[id]; ok {
			return &t.Fns[i], nil
		}
	} else {
		for i := range t.Fns {
			if t.Fns[i].ID == id {
				return &t.Fns[i], nil
			}
		}
	}
	return nil, fmt.Errorf("target %s has no function with id %d", t.OSArch(), id)
}

func (t *Target) index() {
	t.byID = make(map[int]int, len(t.Fns))
	for i := range t.Fns {
		t.byID[t.Fns[i].ID] = i
	}
}

func (t *Target) validate() error {
	seen := make(map[int]struct{}, len(t.Fns))
	for _, fn := range t.Fns {
		if fn.CallName == "" {
			return fmt.Errorf("function %d (%s) has no call_name", fn.ID, fn.Name)
		}
		if _, ok := seen[fn.ID]; ok {
			return fmt.Errorf("duplicate function id %d", fn.ID)
		}
		seen[fn.ID] = struct{}{}
	}
	t.index()
	return nil
}

type Prog struct {
	Calls []Call `yaml:"calls"`
}

type Call struct {
	Fn   int   `yaml:"fn"`
	Args []Arg `yaml:"args,omitempty"`
}

// ArgKind selects how an argument is rendered in native call syntax.
type ArgKind string

const (
	ArgInt  ArgKind = "int"
	ArgStr  ArgKind = "str"
	ArgExpr ArgKind = "expr"
)

type Arg struct {
	Kind  ArgKind `yaml:"kind"`
	Value string  `yaml:"value"`
}

// Validate checks every call references a function of t.
func (p *Prog) Validate(t *Target) error {
	for i, c := range p.Calls {
		if _, err := t.Fn(c.Fn); err != nil {
			return fmt.Errorf("call %d: %w", i, err)
		}
		for j, a := range c.Args {
			switch a.Kind {
			case ArgInt, ArgStr, ArgExpr:
			default:
				return fmt.Errorf("call %d arg %d: unknown kind %q", i, j, a.Kind)
			}
		}
	}
	return nil
}

func LoadTarget(path string) (*Target, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read target %s: %w", path, err)
	}
	t := &Target{}
	if err := yaml.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("parse target %s: %w", path, err)
	}
	if t.OS == "" || t.Arch == "" {
		return nil, errors.New("target requires os and arch")
	}
	if err := t.validate(); err != nil {
		return nil, fmt.Errorf("target %s: %w", path, err)
	}
	return t, nil
}

func LoadProg(path string, t *Target) (*Prog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program %s: %w", path, err)
	}
	p := &Prog{}
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("parse program %s: %w", path, err)
	}
	if err := p.Validate(t); err != nil {
		return nil, fmt.Errorf("program %s: %w", path, err)
	}
	return p, nil
}
