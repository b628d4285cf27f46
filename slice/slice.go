// Package slice is the byte-order and bounds-checked buffer layer every
// codec package (eip, cip, pccc, modbus) builds on. It mirrors the
// teacher's raw encoding/binary.LittleEndian.Append* idiom (see
// yatesdr-warlogix/eip/encap.go) but adds the bounds-checked accessor set
// spec.md's data model calls for, since CORE codecs decode
// attacker-reachable bytes from a TCP socket and must never panic on a
// short or malformed buffer.
package slice

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Slice is a growable, bounds-checked byte buffer with a cursor, used for
// both building outbound wire messages and walking inbound ones.
type Slice struct {
	buf    []byte
	cursor int
	err    error
}

// Make allocates a Slice with the given initial capacity.
func Make(capacity int) *Slice {
	return &Slice{buf: make([]byte, 0, capacity)}
}

// Wrap builds a read-only Slice over an existing buffer (a received
// packet), cursor at zero.
func Wrap(b []byte) *Slice {
	return &Slice{buf: b}
}

// Bytes returns the underlying buffer.
func (s *Slice) Bytes() []byte { return s.buf }

// Length returns the number of bytes currently held.
func (s *Slice) Length() int { return len(s.buf) }

// Remaining returns the number of unread bytes past the cursor.
func (s *Slice) Remaining() int { return len(s.buf) - s.cursor }

// Cursor returns the current read offset.
func (s *Slice) Cursor() int { return s.cursor }

// Seek repositions the cursor for re-reading a header field (e.g. to
// patch a length once the body size is known).
func (s *Slice) Seek(pos int) { s.cursor = pos }

// HasError reports whether a prior bounds violation poisoned this Slice.
func (s *Slice) HasError() bool { return s.err != nil }

// Err returns the first error recorded by a failed accessor, if any.
func (s *Slice) Err() error { return s.err }

func (s *Slice) setError(err error) { if s.err == nil { s.err = err } }

// Subslice returns the [from:to) byte range, recording ERR_OUT_OF_BOUNDS
// on the Slice if the range is invalid rather than panicking.
func (s *Slice) Subslice(from, to int) []byte {
	if from < 0 || to > len(s.buf) || from > to {
		s.setError(wireerr.New(wireerr.ErrOutOfBounds, "subslice [%d:%d) out of range for length %d", from, to, len(s.buf)))
		return nil
	}
	return s.buf[from:to]
}

func (s *Slice) need(n int) bool {
	if s.err != nil {
		return false
	}
	if s.Remaining() < n {
		s.setError(wireerr.New(wireerr.ErrTooSmall, "need %d bytes, have %d", n, s.Remaining()))
		return false
	}
	return true
}

// --- little-endian read accessors, advancing the cursor ---

func (s *Slice) ReadU8() uint8 {
	if !s.need(1) {
		return 0
	}
	v := s.buf[s.cursor]
	s.cursor++
	return v
}

func (s *Slice) ReadU16() uint16 {
	if !s.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(s.buf[s.cursor:])
	s.cursor += 2
	return v
}

func (s *Slice) ReadU32() uint32 {
	if !s.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(s.buf[s.cursor:])
	s.cursor += 4
	return v
}

func (s *Slice) ReadU64() uint64 {
	if !s.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(s.buf[s.cursor:])
	s.cursor += 8
	return v
}

func (s *Slice) ReadF32() float32 {
	return math.Float32frombits(s.ReadU32())
}

func (s *Slice) ReadF64() float64 {
	return math.Float64frombits(s.ReadU64())
}

// ReadBytes returns the next n bytes without copying, advancing the cursor.
func (s *Slice) ReadBytes(n int) []byte {
	if !s.need(n) {
		return nil
	}
	v := s.buf[s.cursor : s.cursor+n]
	s.cursor += n
	return v
}

// --- little-endian append (write) helpers, teacher idiom ---

func (s *Slice) PutU8(v uint8) *Slice {
	s.buf = append(s.buf, v)
	return s
}

func (s *Slice) PutU16(v uint16) *Slice {
	s.buf = binary.LittleEndian.AppendUint16(s.buf, v)
	return s
}

func (s *Slice) PutU32(v uint32) *Slice {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, v)
	return s
}

func (s *Slice) PutU64(v uint64) *Slice {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, v)
	return s
}

func (s *Slice) PutF32(v float32) *Slice {
	return s.PutU32(math.Float32bits(v))
}

func (s *Slice) PutF64(v float64) *Slice {
	return s.PutU64(math.Float64bits(v))
}

func (s *Slice) PutBytes(b []byte) *Slice {
	s.buf = append(s.buf, b...)
	return s
}

// CopyIn overwrites the buffer starting at offset with src, growing the
// buffer if necessary. Used by the tag state machine to stage a write
// value into an element's byte range ahead of encoding.
func (s *Slice) CopyIn(offset int, src []byte) error {
	if offset < 0 {
		return wireerr.New(wireerr.ErrOutOfBounds, "negative offset %d", offset)
	}
	end := offset + len(src)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[offset:end], src)
	return nil
}

// CopyOut reads n bytes starting at offset without moving the cursor.
func (s *Slice) CopyOut(offset, n int) ([]byte, error) {
	if offset < 0 || offset+n > len(s.buf) {
		return nil, wireerr.New(wireerr.ErrOutOfBounds, "copy_out [%d:%d) out of range for length %d", offset, offset+n, len(s.buf))
	}
	out := make([]byte, n)
	copy(out, s.buf[offset:offset+n])
	return out, nil
}

// MatchExact reports whether the remaining bytes from the cursor equal
// want, without advancing the cursor. Used by codecs to check fixed
// magic/sentinel fields (e.g. CIP reserved bytes that must be zero).
func (s *Slice) MatchExact(want []byte) bool {
	if s.Remaining() < len(want) {
		return false
	}
	got := s.buf[s.cursor : s.cursor+len(want)]
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// MatchStringExact reports whether the next len(want) bytes, interpreted
// as ASCII, equal want exactly (used for fixed protocol strings like
// Modbus unit probes or symbolic EPATH segment comparisons).
func (s *Slice) MatchStringExact(want string) bool {
	return s.MatchExact([]byte(want))
}

// HexDump renders the buffer as a classic 16-bytes-per-line hex+ASCII
// dump, used by wirelog Trace-level codec logging.
func HexDump(b []byte) string {
	out := ""
	for i := 0; i < len(b); i += 16 {
		end := i + 16
		if end > len(b) {
			end = len(b)
		}
		row := b[i:end]
		out += fmt.Sprintf("%04x  ", i)
		for j := 0; j < 16; j++ {
			if j < len(row) {
				out += fmt.Sprintf("%02x ", row[j])
			} else {
				out += "   "
			}
		}
		out += " "
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				out += string(c)
			} else {
				out += "."
			}
		}
		out += "\n"
	}
	return out
}

// ByteOrder describes how a scalar element type is laid out on the wire,
// used by the tag state machine (spec.md §3 UDT/Field tables) to decode a
// raw element buffer into a typed Go value without a type switch at every
// call site.
type ByteOrder struct {
	Name string
	Size int
	// Decode reads one value of this type from b (which must be at least
	// Size bytes) and returns it as an any.
	Decode func(b []byte) any
	// Encode appends the wire representation of v to dst.
	Encode func(dst []byte, v any) []byte
}

var (
	OrderBool = ByteOrder{Name: "bool", Size: 1,
		Decode: func(b []byte) any { return b[0] != 0 },
		Encode: func(dst []byte, v any) []byte {
			if v.(bool) {
				return append(dst, 1)
			}
			return append(dst, 0)
		}}
	OrderInt8 = ByteOrder{Name: "int8", Size: 1,
		Decode: func(b []byte) any { return int8(b[0]) },
		Encode: func(dst []byte, v any) []byte { return append(dst, byte(v.(int8))) }}
	OrderUint8 = ByteOrder{Name: "uint8", Size: 1,
		Decode: func(b []byte) any { return b[0] },
		Encode: func(dst []byte, v any) []byte { return append(dst, v.(uint8)) }}
	OrderInt16 = ByteOrder{Name: "int16", Size: 2,
		Decode: func(b []byte) any { return int16(binary.LittleEndian.Uint16(b)) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint16(dst, uint16(v.(int16))) }}
	OrderUint16 = ByteOrder{Name: "uint16", Size: 2,
		Decode: func(b []byte) any { return binary.LittleEndian.Uint16(b) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint16(dst, v.(uint16)) }}
	OrderInt32 = ByteOrder{Name: "int32", Size: 4,
		Decode: func(b []byte) any { return int32(binary.LittleEndian.Uint32(b)) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint32(dst, uint32(v.(int32))) }}
	OrderUint32 = ByteOrder{Name: "uint32", Size: 4,
		Decode: func(b []byte) any { return binary.LittleEndian.Uint32(b) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint32(dst, v.(uint32)) }}
	OrderInt64 = ByteOrder{Name: "int64", Size: 8,
		Decode: func(b []byte) any { return int64(binary.LittleEndian.Uint64(b)) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint64(dst, uint64(v.(int64))) }}
	OrderUint64 = ByteOrder{Name: "uint64", Size: 8,
		Decode: func(b []byte) any { return binary.LittleEndian.Uint64(b) },
		Encode: func(dst []byte, v any) []byte { return binary.LittleEndian.AppendUint64(dst, v.(uint64)) }}
	OrderFloat32 = ByteOrder{Name: "float32", Size: 4,
		Decode: func(b []byte) any { return math.Float32frombits(binary.LittleEndian.Uint32(b)) },
		Encode: func(dst []byte, v any) []byte {
			return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.(float32)))
		}}
	OrderFloat64 = ByteOrder{Name: "float64", Size: 8,
		Decode: func(b []byte) any { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		Encode: func(dst []byte, v any) []byte {
			return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.(float64)))
		}}
)

// ByteOrderByName looks up a ByteOrder by its elem_type attribute name
// (spec.md §6), returning ERR_UNSUPPORTED for anything unrecognized.
func ByteOrderByName(name string) (ByteOrder, error) {
	switch name {
	case "bool":
		return OrderBool, nil
	case "int8", "sint":
		return OrderInt8, nil
	case "uint8", "usint":
		return OrderUint8, nil
	case "int16", "int":
		return OrderInt16, nil
	case "uint16", "uint":
		return OrderUint16, nil
	case "int32", "dint":
		return OrderInt32, nil
	case "uint32", "udint":
		return OrderUint32, nil
	case "int64", "lint":
		return OrderInt64, nil
	case "uint64", "ulint":
		return OrderUint64, nil
	case "float32", "real":
		return OrderFloat32, nil
	case "float64", "lreal":
		return OrderFloat64, nil
	default:
		return ByteOrder{}, wireerr.New(wireerr.ErrUnsupported, "unknown elem_type %q", name)
	}
}
