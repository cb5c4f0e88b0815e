// Package dispatch binds wire commands to core storage/group/user
// operations: decode payload, authorize, invoke, encode response (spec
// §4.6).
package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/adred-codev/streambroker/internal/identifier"
	"github.com/adred-codev/streambroker/internal/ierror"
)

// reader walks a decode buffer, returning ierror.InvalidCommand on
// underrun instead of panicking on a malformed payload.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return ierror.New(ierror.InvalidCommand, fmt.Sprintf("payload truncated, need %d more bytes", n))
	}
	return nil
}

func (r *reader) u8() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// stringU8 reads a u8-length-prefixed string.
func (r *reader) stringU8() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// bytesU32 reads a u32-length-prefixed byte slice, used for message
// payloads/headers.
func (r *reader) bytesU32() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

// identifier reads a tagged-union Identifier (spec §6).
func (r *reader) identifier() (identifier.Identifier, error) {
	if err := r.need(2); err != nil {
		return identifier.Identifier{}, err
	}
	id, n, err := identifier.Decode(r.buf[r.pos:])
	if err != nil {
		return identifier.Identifier{}, ierror.Wrap(ierror.InvalidCommand, "decode identifier", err)
	}
	r.pos += n
	return id, nil
}

func (r *reader) remaining() []byte { return r.buf[r.pos:] }

// writer accumulates an encoded response payload.
type writer struct {
	buf []byte
}

func (w *writer) u8(v byte)   { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *writer) stringU8(s string) {
	w.u8(byte(len(s)))
	w.buf = append(w.buf, s...)
}
func (w *writer) bytesU32(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *writer) bytes() []byte { return w.buf }
