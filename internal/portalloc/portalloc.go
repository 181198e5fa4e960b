// Package portalloc hands out local TCP ports for guest SSH forwarding.
package portalloc

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	DefaultFirst uint16 = 1025
	DefaultLast  uint16 = 65534
)

// Allocator tracks the ports claimed by this process. One Allocator is
// created at startup and shared by every VM boot.
type Allocator struct {
	first, last uint16
	logger      *log.Logger

	mu      sync.Mutex
	claimed map[uint16]struct{}

	bindable func(port uint16) bool
}

func New(first, last uint16, logger *log.Logger) *Allocator {
	if first == 0 {
		first = DefaultFirst
	}
	if last == 0 || last < first {
		last = DefaultLast
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Allocator{
		first:    first,
		last:     last,
		logger:   logger,
		claimed:  map[uint16]struct{}{},
		bindable: canBind,
	}
}

// Reservation is a claimed port. Release returns it to the allocator.
type Reservation struct {
	a    *Allocator
	port uint16
	once sync.Once
}

func (r *Reservation) Port() uint16 {
	return r.port
}

// Release is safe to call more than once.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.a.release(r.port)
	})
}

// Reserve claims the lowest port in range that is neither claimed nor
// bound by anyone else. It returns false when no port is available.
func (a *Allocator) Reserve() (*Reservation, bool) {
	for p := uint32(a.first); p <= uint32(a.last); p++ {
		port := uint16(p)
		if a.isClaimed(port) || !a.bindable(port) {
			continue
		}
		if a.claim(port) {
			a.logger.Debug("reserved port", "port", port)
			return &Reservation{a: a, port: port}, true
		}
	}
	return nil, false
}

// Claimed returns the number of live reservations.
func (a *Allocator) Claimed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.claimed)
}

func (a *Allocator) isClaimed(port uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.claimed[port]
	return ok
}

func (a *Allocator) claim(port uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.claimed[port]; ok {
		return false
	}
	a.claimed[port] = struct{}{}
	return true
}

func (a *Allocator) release(port uint16) {
	a.mu.Lock()
	_, ok := a.claimed[port]
	delete(a.claimed, port)
	a.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("portalloc: release of unclaimed port %d", port))
	}
	a.logger.Debug("released port", "port", port)
}

func canBind(port uint16) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
