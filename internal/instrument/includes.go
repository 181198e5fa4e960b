package instrument

import "sort"

// harnessHeaders are required by the setup, teardown and sync code of
// every instrumented unit.
var harnessHeaders = []string{
	"stdio.h",
	"stddef.h",
	"stdint.h",
	"stdlib.h",
	"sys/types.h",
	"sys/stat.h",
	"sys/ioctl.h",
	"sys/mman.h",
	"unistd.h",
	"fcntl.h",
	"string.h",
}

// IncludeSet is a deduplicated set of header names.
type IncludeSet map[string]struct{}

func NewIncludeSet(headers ...string) IncludeSet {
	s := make(IncludeSet, len(headers))
	s.Add(headers...)
	return s
}

func (s IncludeSet) Add(headers ...string) {
	for _, h := range headers {
		if h == "" {
			continue
		}
		s[h] = struct{}{}
	}
}

func (s IncludeSet) Contains(header string) bool {
	_, ok := s[header]
	return ok
}

// Sorted returns the headers in lexical order so generated units are
// byte-for-byte reproducible.
func (s IncludeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
