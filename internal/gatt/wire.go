package gatt

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire conventions shared by the envelope protocols: integers are
// little-endian, strings are a u16 length followed by UTF-8 bytes.

// Frame is one envelope of the command/response protocols: a code byte, a
// u32 payload length, then the payload.
type Frame struct {
	Code    byte
	Payload []byte
}

// FrameHeaderSize is the fixed envelope header: code byte plus u32 length.
const FrameHeaderSize = 5

// MaxFramePayload bounds the declared payload length during reassembly. A
// larger value means the byte stream is desynchronized, not a huge response.
const MaxFramePayload = 1 << 20

// EncodeFrame serializes a frame into envelope form.
func EncodeFrame(f Frame) []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = f.Code
	binary.LittleEndian.PutUint32(buf[1:FrameHeaderSize], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// AppendU16 appends a little-endian uint16.
func AppendU16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

// AppendU32 appends a little-endian uint32.
func AppendU32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

// AppendU64 appends a little-endian uint64.
func AppendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// AppendString appends a length-prefixed UTF-8 string.
func AppendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// AppendBytes appends a u16 length-prefixed byte block.
func AppendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b)))
	return append(buf, b...)
}

// AppendF32 appends an IEEE 754 float in little-endian order.
func AppendF32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

// Reader walks a received payload. The first failed read latches, every later
// call returns zero values, so decoders check the error once at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.Remaining() < n {
		r.err = fmt.Errorf("truncated record: need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
		return false
	}
	return true
}

// U8 reads one byte.
func (r *Reader) U8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

// U16 reads a little-endian uint16.
func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

// F32 reads a little-endian IEEE 754 float.
func (r *Reader) F32() float32 {
	return math.Float32frombits(r.U32())
}

// Bytes reads n raw bytes. The returned slice is a copy.
func (r *Reader) Bytes(n int) []byte {
	if n < 0 {
		r.err = fmt.Errorf("negative byte count %d at offset %d", n, r.off)
		return nil
	}
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v
}

// String reads a u16 length-prefixed UTF-8 string.
func (r *Reader) String() string {
	n := int(r.U16())
	if r.err != nil {
		return ""
	}
	return string(r.Bytes(n))
}

// LenBytes reads a u16 length-prefixed byte block.
func (r *Reader) LenBytes() []byte {
	n := int(r.U16())
	if r.err != nil {
		return nil
	}
	return r.Bytes(n)
}

// Rest returns everything not yet consumed as a copy.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.Bytes(r.Remaining())
}
