// Package coverfile stores the coverage buffers drained from one
// execution as a zstd-compressed stream of CBOR records.
package coverfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Header opens every file.
type Header struct {
	Target string `cbor:"1,keyasint"`
	Calls  int    `cbor:"2,keyasint"`
	Digest string `cbor:"3,keyasint,omitempty"`
}

// Record is one drained buffer. Calls that produced no coverage send no
// buffer, so Seq counts buffers rather than program calls.
type Record struct {
	Seq   int      `cbor:"1,keyasint"`
	Cover []uint64 `cbor:"2,keyasint"`
}

type Writer struct {
	zw  *zstd.Encoder
	enc *cbor.Encoder
	seq int
}

func NewWriter(w io.Writer, h Header) (*Writer, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("create zstd writer: %w", err)
	}
	cw := &Writer{zw: zw, enc: cbor.NewEncoder(zw)}
	if err := cw.enc.Encode(h); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("write coverage header: %w", err)
	}
	return cw, nil
}

// Append writes the next buffer.
func (w *Writer) Append(cover []uint64) error {
	if err := w.enc.Encode(Record{Seq: w.seq, Cover: cover}); err != nil {
		return fmt.Errorf("write coverage record %d: %w", w.seq, err)
	}
	w.seq++
	return nil
}

// Close flushes the compressed stream. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	return w.zw.Close()
}

type Reader struct {
	zr     *zstd.Decoder
	dec    *cbor.Decoder
	Header Header
}

func NewReader(r io.Reader) (*Reader, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	cr := &Reader{zr: zr, dec: cbor.NewDecoder(zr)}
	if err := cr.dec.Decode(&cr.Header); err != nil {
		zr.Close()
		return nil, fmt.Errorf("read coverage header: %w", err)
	}
	return cr, nil
}

// Next returns io.EOF after the last record.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read coverage record: %w", err)
	}
	return rec, nil
}

func (r *Reader) Close() {
	r.zr.Close()
}
