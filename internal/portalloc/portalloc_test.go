package portalloc

import (
	"net"
	"strconv"
	"sync"
	"testing"
)

func newTestAllocator(first, last uint16) *Allocator {
	a := New(first, last, nil)
	a.bindable = func(uint16) bool { return true }
	return a
}

func TestReserveScansAscending(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(2000, 2010)
	r1, ok := a.Reserve()
	if !ok {
		t.Fatal("expected a reservation")
	}
	r2, ok := a.Reserve()
	if !ok {
		t.Fatal("expected a second reservation")
	}
	if r1.Port() != 2000 || r2.Port() != 2001 {
		t.Fatalf("unexpected ports: got %d,%d want 2000,2001", r1.Port(), r2.Port())
	}
}

func TestReleaseMakesPortEligibleAgain(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(3000, 3000)
	r, ok := a.Reserve()
	if !ok {
		t.Fatal("expected a reservation")
	}
	if _, ok := a.Reserve(); ok {
		t.Fatal("range of one port handed out twice")
	}
	r.Release()
	r.Release()
	again, ok := a.Reserve()
	if !ok || again.Port() != 3000 {
		t.Fatalf("released port not reusable: ok=%v", ok)
	}
	if got := a.Claimed(); got != 1 {
		t.Fatalf("unexpected claimed count: got %d want 1", got)
	}
}

func TestReserveSkipsPortsInExternalUse(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(4000, 4005)
	a.bindable = func(port uint16) bool { return port != 4000 && port != 4001 }
	r, ok := a.Reserve()
	if !ok || r.Port() != 4002 {
		t.Fatalf("expected port 4002, got %v (ok=%v)", r, ok)
	}
}

func TestConcurrentReservationsAreDistinct(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(5000, 5100)
	const n = 50
	ports := make(chan uint16, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, ok := a.Reserve()
			if !ok {
				t.Error("reservation failed")
				return
			}
			ports <- r.Port()
		}()
	}
	wg.Wait()
	close(ports)

	seen := map[uint16]struct{}{}
	for p := range ports {
		if _, dup := seen[p]; dup {
			t.Fatalf("port %d handed out twice", p)
		}
		seen[p] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("unexpected reservation count: got %d want %d", len(seen), n)
	}
}

func TestReleaseOfUnclaimedPortPanics(t *testing.T) {
	t.Parallel()

	a := newTestAllocator(6000, 6001)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	a.release(6000)
}

func TestCanBindDetectsListeningPort(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	if canBind(uint16(port)) {
		t.Fatalf("port %d reported bindable while in use", port)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	a := New(0, 0, nil)
	if a.first != DefaultFirst || a.last != DefaultLast {
		t.Fatalf("unexpected range: %d-%d", a.first, a.last)
	}
}
