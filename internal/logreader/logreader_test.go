package logreader

import (
	"io"
	"strings"
	"testing"
	"time"
)

func TestReaderDrainsUntilEOF(t *testing.T) {
	t.Parallel()

	r := New(strings.NewReader("booting\nlogin: "))
	if !r.Wait(2 * time.Second) {
		t.Fatal("reader did not finish draining")
	}
	if got, want := string(r.Bytes()), "booting\nlogin: "; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReaderKeepsTail(t *testing.T) {
	t.Parallel()

	r := NewWithLimit(strings.NewReader("0123456789"), 4)
	r.Wait(2 * time.Second)
	if got, want := string(r.Bytes()), "6789"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestReaderClear(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	r := New(pr)
	if _, err := pw.Write([]byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(string(r.Bytes()), "first") {
		if time.Now().After(deadline) {
			t.Fatal("first chunk never drained")
		}
		time.Sleep(time.Millisecond)
	}
	r.Clear()
	if _, err := pw.Write([]byte("second")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = pw.Close()
	r.Wait(2 * time.Second)
	got := string(r.Bytes())
	if strings.Contains(got, "first") || !strings.Contains(got, "second") {
		t.Fatalf("unexpected buffer after clear: %q", got)
	}
}
