// Package covsync implements the lockstep coverage handoff between a
// sandboxed program and its controller.
//
// For every call that produced coverage the sandbox writes a 4-byte
// native-endian element count followed by count*8 bytes of trace entries
// to the data channel, then blocks until the controller writes an 8-byte
// token to the event channel. Calls without coverage send nothing.
package covsync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/buildkite/fuzzroom/internal/kcov"
	"golang.org/x/sys/unix"
)

const (
	lengthPrefixSize = 4
	ackTokenSize     = 8
)

// ErrProtocol reports a sandbox that broke the framing rules.
var ErrProtocol = errors.New("coverage sync protocol violation")

// SendRoutine returns the C definition of sync_send with both descriptors
// baked in as literals.
func SendRoutine(dataFD, eventFD int) string {
	return fmt.Sprintf(`
int sync_send(unsigned long *cover, uint32_t len){
    if (len == 0){
        return 0;
    }
    char *cover_ = (void*)(cover + 1);
    int l2;
    int event_fd = %d, data_fd = %d;
    char l[4];
    char event[8];

    memcpy(l, &len, 4);
    if (write(data_fd, l, 4) == -1){
        return -1;
    }

    len = len * sizeof(unsigned long);
    while(1){
        l2 = write(data_fd, cover_, len);
        if(l2 == -1){
            return -1;
        }
        len -= l2;
        cover_ += l2;

        if (len == 0){
            break;
        }
    }
    if(read(event_fd, event, 8) == -1){
        return -1;
    }
    return 0;
}
`, eventFD, dataFD)
}

// Channel is the pair of pipes used for one execution attempt.
type Channel struct {
	dataR, dataW   *os.File
	eventR, eventW *os.File
}

// NewChannel creates both pipes with close-on-exec set. Descriptors that
// must survive into a child are passed explicitly via exec.Cmd.ExtraFiles.
func NewChannel() (*Channel, error) {
	dataR, dataW, err := pipe("data")
	if err != nil {
		return nil, err
	}
	eventR, eventW, err := pipe("event")
	if err != nil {
		_ = dataR.Close()
		_ = dataW.Close()
		return nil, err
	}
	return &Channel{dataR: dataR, dataW: dataW, eventR: eventR, eventW: eventW}, nil
}

func pipe(name string) (*os.File, *os.File, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, nil, fmt.Errorf("create %s pipe: %w", name, err)
	}
	return os.NewFile(uintptr(fds[0]), "covsync-"+name+"-r"), os.NewFile(uintptr(fds[1]), "covsync-"+name+"-w"), nil
}

// SandboxFiles returns the sandbox ends: the data writer and the event
// reader.
func (c *Channel) SandboxFiles() (data, event *os.File) {
	return c.dataW, c.eventR
}

// SandboxFDs returns the raw sandbox descriptors for baking into source
// executed in this process.
func (c *Channel) SandboxFDs() (dataFD, eventFD int) {
	return int(c.dataW.Fd()), int(c.eventR.Fd())
}

// Receiver returns the controller side of the channel.
func (c *Channel) Receiver() *Receiver {
	return NewReceiver(c.dataR, c.eventW)
}

// CloseSandboxEnds closes this process's copies of the sandbox ends, so
// the controller sees EOF once the sandbox exits.
func (c *Channel) CloseSandboxEnds() error {
	return errors.Join(c.dataW.Close(), c.eventR.Close())
}

// Close releases every descriptor of the channel.
func (c *Channel) Close() error {
	var errs []error
	for _, f := range []*os.File{c.dataR, c.dataW, c.eventR, c.eventW} {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Receiver drains coverage buffers and acknowledges them one at a time.
type Receiver struct {
	data  io.Reader
	event io.Writer
	limit uint32
}

func NewReceiver(data io.Reader, event io.Writer) *Receiver {
	return &Receiver{data: data, event: event, limit: kcov.CoverSize - 1}
}

// Next reads one complete coverage buffer and then acknowledges it. It
// returns io.EOF when the sandbox closed the data channel between buffers.
func (r *Receiver) Next() ([]uint64, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r.data, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read coverage length: %w", err)
	}
	count := binary.NativeEndian.Uint32(prefix[:])
	if count == 0 {
		return nil, fmt.Errorf("%w: zero-length coverage buffer", ErrProtocol)
	}
	if count > r.limit {
		return nil, fmt.Errorf("%w: coverage length %d exceeds %d", ErrProtocol, count, r.limit)
	}

	raw := make([]byte, int(count)*kcov.EntrySize)
	if _, err := io.ReadFull(r.data, raw); err != nil {
		return nil, fmt.Errorf("read coverage buffer (%d entries): %w", count, err)
	}
	cover := make([]uint64, count)
	for i := range cover {
		cover[i] = binary.NativeEndian.Uint64(raw[i*kcov.EntrySize:])
	}

	if err := r.ack(); err != nil {
		return nil, err
	}
	return cover, nil
}

func (r *Receiver) ack() error {
	var token [ackTokenSize]byte
	binary.NativeEndian.PutUint64(token[:], 1)
	if _, err := r.event.Write(token[:]); err != nil {
		return fmt.Errorf("write coverage ack: %w", err)
	}
	return nil
}
