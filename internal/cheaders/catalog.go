// Package cheaders maps call names to the C headers their native
// translation needs.
package cheaders

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Catalog is a read-only call name to header list mapping.
type Catalog struct {
	headers map[string][]string
}

var builtin = map[string][]string{
	"accept":          {"sys/socket.h"},
	"accept4":         {"sys/socket.h"},
	"bind":            {"sys/socket.h"},
	"bpf":             {"linux/bpf.h", "sys/syscall.h"},
	"close":           {"unistd.h"},
	"connect":         {"sys/socket.h"},
	"dup":             {"unistd.h"},
	"dup2":            {"unistd.h"},
	"epoll_create1":   {"sys/epoll.h"},
	"epoll_ctl":       {"sys/epoll.h"},
	"eventfd":         {"sys/eventfd.h"},
	"fcntl":           {"fcntl.h"},
	"getpid":          {"unistd.h"},
	"getsockopt":      {"sys/socket.h"},
	"inotify_init":    {"sys/inotify.h"},
	"io_uring_setup":  {"linux/io_uring.h", "sys/syscall.h"},
	"ioctl":           {"sys/ioctl.h"},
	"listen":          {"sys/socket.h"},
	"lseek":           {"unistd.h"},
	"memfd_create":    {"sys/mman.h"},
	"mmap":            {"sys/mman.h"},
	"mprotect":        {"sys/mman.h"},
	"munmap":          {"sys/mman.h"},
	"open":            {"fcntl.h", "sys/stat.h"},
	"openat":          {"fcntl.h", "sys/stat.h"},
	"pipe":            {"unistd.h"},
	"pipe2":           {"fcntl.h", "unistd.h"},
	"prctl":           {"sys/prctl.h"},
	"read":            {"unistd.h"},
	"recvfrom":        {"sys/socket.h"},
	"recvmsg":         {"sys/socket.h"},
	"sendmsg":         {"sys/socket.h"},
	"sendto":          {"sys/socket.h"},
	"setsockopt":      {"sys/socket.h"},
	"signalfd":        {"sys/signalfd.h"},
	"socket":          {"sys/socket.h"},
	"socketpair":      {"sys/socket.h"},
	"syscall":         {"sys/syscall.h", "unistd.h"},
	"timerfd_create":  {"sys/timerfd.h"},
	"timerfd_settime": {"sys/timerfd.h"},
	"userfaultfd":     {"linux/userfaultfd.h", "sys/syscall.h"},
	"write":           {"unistd.h"},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(builtin)
}

// New builds a catalog from m. The map is copied.
func New(m map[string][]string) *Catalog {
	c := &Catalog{headers: make(map[string][]string, len(m))}
	for name, hs := range m {
		c.headers[name] = slices.Clone(hs)
	}
	return c
}

// Lookup returns the headers required by callName, or nil.
func (c *Catalog) Lookup(callName string) []string {
	if c == nil {
		return nil
	}
	return c.headers[callName]
}

// WithOverlay returns a new catalog where entries from path add to the
// headers of c. The overlay is a YAML mapping of call name to header list.
func (c *Catalog) WithOverlay(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read header catalog %s: %w", path, err)
	}
	overlay := map[string][]string{}
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return nil, fmt.Errorf("parse header catalog %s: %w", path, err)
	}
	out := New(c.headers)
	for name, hs := range overlay {
		for _, h := range hs {
			if !slices.Contains(out.headers[name], h) {
				out.headers[name] = append(out.headers[name], h)
			}
		}
	}
	return out, nil
}
