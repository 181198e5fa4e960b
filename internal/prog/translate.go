package prog

import (
	"fmt"
	"iter"
	"strings"
)

// Translator turns a program into native call statements, one per call in
// program order. The returned sequence is consumed once.
type Translator interface {
	Translate(p *Prog, t *Target) iter.Seq2[string, error]
}

// CTranslator renders each call as a plain C function call statement.
type CTranslator struct{}

func (CTranslator) Translate(p *Prog, t *Target) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for i, c := range p.Calls {
			fn, err := t.Fn(c.Fn)
			if err != nil {
				yield("", fmt.Errorf("call %d: %w", i, err))
				return
			}
			args := make([]string, 0, len(c.Args))
			for _, a := range c.Args {
				args = append(args, renderArg(a))
			}
			if !yield(fmt.Sprintf("%s(%s);", fn.CallName, strings.Join(args, ", ")), nil) {
				return
			}
		}
	}
}

func renderArg(a Arg) string {
	switch a.Kind {
	case ArgStr:
		return quoteC(a.Value)
	case ArgInt:
		if strings.TrimSpace(a.Value) == "" {
			return "0"
		}
		return strings.TrimSpace(a.Value)
	default:
		return a.Value
	}
}

func quoteC(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&b, "\\%03o", c)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
