package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	maxVarIntBytes = 5
	maxUTF8Width   = 4
)

// Reader decodes wire primitives from a fixed body. Every read is bounded by
// the body length; running past the end yields ErrCorruptPacket.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader over data. The slice is not copied.
func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptPacket, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadByte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid boolean 0x%02X", ErrCorruptPacket, b)
	}
}

func (r *Reader) ReadInt16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadFloat() (float32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// ReadVarInt reads a LEB128-style signed 32-bit integer of at most five bytes.
func (r *Reader) ReadVarInt() (int32, error) {
	var value uint32
	for i := 0; i < maxVarIntBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		value |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int32(value), nil
		}
	}
	return 0, fmt.Errorf("%w: varint longer than %d bytes", ErrCorruptPacket, maxVarIntBytes)
}

// ReadString reads a VarInt length-prefixed UTF-8 string capped at maxChars
// code points.
func (r *Reader) ReadString(maxChars int) (string, error) {
	n, err := r.ReadVarInt()
	if err != nil {
		return "", err
	}
	if n < 0 || int(n) > maxChars*maxUTF8Width {
		return "", fmt.Errorf("%w: string length %d exceeds cap", ErrCorruptPacket, n)
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: invalid utf-8 string", ErrCorruptPacket)
	}
	if utf8.RuneCount(b) > maxChars {
		return "", fmt.Errorf("%w: string exceeds %d characters", ErrCorruptPacket, maxChars)
	}
	return string(b), nil
}

// ReadRest consumes and copies every remaining byte.
func (r *Reader) ReadRest() []byte {
	out := make([]byte, r.Remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}

// ReadBytes consumes exactly n bytes and returns a copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) error {
	_, err := r.take(n)
	return err
}

// Writer encodes wire primitives into a growing buffer.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded bytes. The slice aliases the internal buffer.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) Len() int {
	return w.buf.Len()
}

func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *Writer) WriteInt16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) WriteFloat(v float32) {
	w.WriteInt32(int32(math.Float32bits(v)))
}

func (w *Writer) WriteDouble(v float64) {
	w.WriteInt64(int64(math.Float64bits(v)))
}

func (w *Writer) WriteVarInt(v int32) {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			w.buf.WriteByte(byte(u))
			return
		}
		w.buf.WriteByte(byte(u&0x7F) | 0x80)
		u >>= 7
	}
}

// WriteString writes a VarInt length-prefixed string, rejecting values over
// maxChars code points.
func (w *Writer) WriteString(s string, maxChars int) error {
	if utf8.RuneCountInString(s) > maxChars {
		return fmt.Errorf("%w: string exceeds %d characters", ErrFieldTooLarge, maxChars)
	}
	w.WriteVarInt(int32(len(s)))
	w.buf.WriteString(s)
	return nil
}

func (w *Writer) WriteBytes(b []byte) {
	w.buf.Write(b)
}

// VarIntSize returns the encoded width of v.
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u&^0x7F != 0 {
		u >>= 7
		n++
	}
	return n
}
