// reader.go implements a cursor-based binary reader over a vote
// instruction's raw payload bytes, grounded on sdk/borsh-incremental's
// Reader: strict Read* methods that advance an internal offset and return
// an error on short reads.
package votedecoder

import (
	"encoding/binary"
	"fmt"
)

// Reader sequentially consumes little-endian fields from a byte slice.
type Reader struct {
	buf    []byte
	offset int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.offset
}

// Rest returns the unread tail of buf without advancing the cursor, for
// handing off to a struct-tag-driven borsh decoder once the cursor reader
// has consumed a leading fixed-width field (e.g. the instruction
// discriminant).
func (r *Reader) Rest() []byte {
	return r.buf[r.offset:]
}

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return fmt.Errorf("short read: need %d bytes, have %d", n, r.Remaining())
	}
	return nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.offset]
	r.offset++
	return v, nil
}

// ReadU32 reads a little-endian u32.
func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v, nil
}

// ReadU64 reads a little-endian u64.
func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return v, nil
}

// ReadBool reads a one-byte boolean (0 = false, nonzero = true).
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadOptionU64 reads a borsh-style Option<u64>: one presence byte followed
// by the value if present.
func (r *Reader) ReadOptionU64() (*uint64, error) {
	present, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := r.ReadU64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ReadVecLen reads a borsh-style Vec length prefix (u32).
func (r *Reader) ReadVecLen() (uint32, error) {
	return r.ReadU32()
}

// TryReadU64 returns 0 instead of an error on a short read, for
// backward-compatible optional trailing fields.
func (r *Reader) TryReadU64() uint64 {
	v, err := r.ReadU64()
	if err != nil {
		return 0
	}
	return v
}
