package classfile

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Decode Error Types
// ---------------------------------------------------------------------------

var (
	ErrTruncated          = errors.New("truncated class file")
	ErrBadMagic           = errors.New("incompatible magic value")
	ErrUnsupportedVersion = errors.New("unsupported major.minor version")
	ErrBadConstant        = errors.New("malformed constant pool entry")
	ErrBadAttribute       = errors.New("malformed attribute")
	ErrBadIndex           = errors.New("invalid constant pool index")
)

// ---------------------------------------------------------------------------
// Reader: sequential big-endian decoding over a byte buffer
// ---------------------------------------------------------------------------

// Reader decodes unsigned big-endian integers, length-prefixed tables and raw
// bytes from a buffer. The first out-of-range read sets a sticky error; every
// read after that returns zero values, so callers may check Err once after a
// group of reads.
type Reader struct {
	data []byte
	pos  int
	err  error
}

// NewReader creates a reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first error encountered, or nil.
func (r *Reader) Err() error {
	return r.err
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrTruncated, n, r.pos, len(r.data)-r.pos)
		return false
	}
	return true
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.pos]
	r.pos++
	return v
}

// ReadU16 reads a big-endian uint16.
func (r *Reader) ReadU16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}

// ReadU32 reads a big-endian uint32.
func (r *Reader) ReadU32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v
}

// ReadU64 reads a big-endian uint64.
func (r *Reader) ReadU64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// ReadBytes reads n raw bytes. The returned slice is a copy.
func (r *Reader) ReadBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

// ReadU16Table reads a u2 count followed by that many u2 values.
func (r *Reader) ReadU16Table() []uint16 {
	n := int(r.ReadU16())
	if !r.need(2 * n) {
		return nil
	}
	table := make([]uint16, n)
	for i := range table {
		table[i] = r.ReadU16()
	}
	return table
}

// ---------------------------------------------------------------------------
// Writer: the encoding counterpart used by Encode
// ---------------------------------------------------------------------------

// Writer accumulates big-endian output.
type Writer struct {
	buf []byte
}

// Bytes returns the encoded output.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteU64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteU16Table writes a u2 count followed by the values.
func (w *Writer) WriteU16Table(table []uint16) {
	w.WriteU16(uint16(len(table)))
	for _, v := range table {
		w.WriteU16(v)
	}
}
