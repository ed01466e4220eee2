package dcerpc

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// -------------------------------------------------------------------------
// NDR stub building - C706 chapter 14
// -------------------------------------------------------------------------

// stubWriter builds an NDR request stub. Alignment is relative to the
// stub start, which is also the NDR alignment origin for request bodies.
type stubWriter struct {
	buf []byte
	ref uint32
}

func newStubWriter() *stubWriter {
	// Referent IDs only need to be unique and non-zero within a stub.
	return &stubWriter{ref: 0x00020000}
}

func (w *stubWriter) bytes() []byte { return w.buf }

func (w *stubWriter) u16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *stubWriter) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *stubWriter) raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// align pads with zero bytes to an n-byte boundary.
func (w *stubWriter) align(n int) {
	for len(w.buf)%n != 0 {
		w.buf = append(w.buf, 0)
	}
}

// referent emits the next unique pointer referent ID and returns it.
func (w *stubWriter) referent() uint32 {
	w.ref += 4
	w.u32(w.ref)
	return w.ref
}

// uniStrZ emits a conformant varying UTF-16LE string with a terminator:
// max_count, offset, actual_count (in characters, terminator included),
// then the characters. Used for null-terminated [string] parameters.
func (w *stubWriter) uniStrZ(s string) {
	units := utf16.Encode([]rune(s))
	n := uint32(len(units) + 1)

	w.u32(n)
	w.u32(0)
	w.u32(n)
	for _, u := range units {
		w.u16(u)
	}
	w.u16(0)
	w.align(4)
}

// rpcStrHeader emits the RPC_UNICODE_STRING header for s: byte length,
// maximum byte length, and a referent for the deferred buffer
// (MS-DTYP Section 2.3.10).
func (w *stubWriter) rpcStrHeader(s string) {
	n := uint16(len(utf16.Encode([]rune(s))) * 2)
	w.u16(n)
	w.u16(n)
	w.referent()
}

// rpcStrBody emits the deferred conformant varying buffer for an
// RPC_UNICODE_STRING: counted, not terminated.
func (w *stubWriter) rpcStrBody(s string) {
	units := utf16.Encode([]rune(s))

	w.u32(uint32(len(units)))
	w.u32(0)
	w.u32(uint32(len(units)))
	for _, u := range units {
		w.u16(u)
	}
	w.align(4)
}

// -------------------------------------------------------------------------
// NDR stub reading
// -------------------------------------------------------------------------

// stubReader consumes an NDR response stub with a sticky error: after
// the first failure every read returns zero values, and the error is
// reported once at the end.
type stubReader struct {
	buf []byte
	off int
	err error
}

func newStubReader(buf []byte) *stubReader {
	return &stubReader{buf: buf}
}

// Err returns the first decode failure, if any.
func (r *stubReader) Err() error { return r.err }

func (r *stubReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("ndr: %s at offset %d of %d: %w",
			what, r.off, len(r.buf), ErrTruncated)
	}
}

func (r *stubReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.fail(fmt.Sprintf("%d bytes", n))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *stubReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *stubReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *stubReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// rest returns the unread remainder without consuming it, for decoders
// that parse a structure out of band and then skip past it.
func (r *stubReader) rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.buf[r.off:]
}

// skip advances past n bytes already consumed through rest.
func (r *stubReader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.off+n > len(r.buf) {
		r.fail(fmt.Sprintf("skip of %d bytes", n))
		return
	}
	r.off += n
}

// align skips pad bytes to an n-byte boundary.
func (r *stubReader) align(n int) {
	if r.err != nil {
		return
	}
	pad := (n - r.off%n) % n
	if r.off+pad > len(r.buf) {
		r.fail("alignment pad")
		return
	}
	r.off += pad
}

// uniStr reads a conformant varying UTF-16LE buffer and returns the
// string, dropping one trailing terminator if present.
func (r *stubReader) uniStr() string {
	_ = r.u32() // max_count
	_ = r.u32() // offset
	actual := r.u32()
	if r.err != nil {
		return ""
	}
	if actual > uint32(len(r.buf)-r.off)/2 {
		r.fail(fmt.Sprintf("string of %d characters", actual))
		return ""
	}

	units := make([]uint16, actual)
	for i := range units {
		units[i] = r.u16()
	}
	r.align(4)
	if r.err != nil {
		return ""
	}

	if n := len(units); n > 0 && units[n-1] == 0 {
		units = units[:n-1]
	}
	return string(utf16.Decode(units))
}
