package client

import (
	"encoding/binary"
	"math"

	"github.com/wartag/tagwire/internal/wireerr"
)

// getSlice returns a read-only view of n bytes at offset in h's local
// buffer, or an error status if offset/n fall outside it.
func getSlice(h Handle, offset, n int) ([]byte, int) {
	entry, ok := lookup(h)
	if !ok {
		return nil, statusCode(wireerr.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if offset < 0 || n < 0 || offset+n > len(entry.buf) {
		return nil, statusCode(wireerr.ErrOutOfBounds)
	}
	return entry.buf[offset : offset+n], statusCode(wireerr.OK)
}

// putSlice copies v into h's local buffer at offset, growing the buffer
// (zero-filling the gap) if offset+len(v) extends past its current
// length, up to maxTagBytes.
func putSlice(h Handle, offset int, v []byte) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if offset < 0 {
		return statusCode(wireerr.ErrOutOfBounds)
	}
	need := offset + len(v)
	if need > maxTagBytes {
		return statusCode(wireerr.ErrTooLarge)
	}
	if need > len(entry.buf) {
		grown := make([]byte, need)
		copy(grown, entry.buf)
		entry.buf = grown
	}
	copy(entry.buf[offset:], v)
	return statusCode(wireerr.OK)
}

// GetUint8 reads one unsigned byte at offset.
func GetUint8(h Handle, offset int) (uint8, int) {
	b, code := getSlice(h, offset, 1)
	if code < 0 {
		return 0, code
	}
	return b[0], code
}

// SetUint8 writes one unsigned byte at offset.
func SetUint8(h Handle, offset int, v uint8) int {
	return putSlice(h, offset, []byte{v})
}

// GetInt8 reads one signed byte at offset.
func GetInt8(h Handle, offset int) (int8, int) {
	v, code := GetUint8(h, offset)
	return int8(v), code
}

// SetInt8 writes one signed byte at offset.
func SetInt8(h Handle, offset int, v int8) int {
	return SetUint8(h, offset, uint8(v))
}

// GetUint16 reads a little-endian uint16 at offset.
func GetUint16(h Handle, offset int) (uint16, int) {
	b, code := getSlice(h, offset, 2)
	if code < 0 {
		return 0, code
	}
	return binary.LittleEndian.Uint16(b), code
}

// SetUint16 writes a little-endian uint16 at offset.
func SetUint16(h Handle, offset int, v uint16) int {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return putSlice(h, offset, b[:])
}

// GetInt16 reads a little-endian int16 at offset.
func GetInt16(h Handle, offset int) (int16, int) {
	v, code := GetUint16(h, offset)
	return int16(v), code
}

// SetInt16 writes a little-endian int16 at offset.
func SetInt16(h Handle, offset int, v int16) int {
	return SetUint16(h, offset, uint16(v))
}

// GetUint32 reads a little-endian uint32 at offset.
func GetUint32(h Handle, offset int) (uint32, int) {
	b, code := getSlice(h, offset, 4)
	if code < 0 {
		return 0, code
	}
	return binary.LittleEndian.Uint32(b), code
}

// SetUint32 writes a little-endian uint32 at offset.
func SetUint32(h Handle, offset int, v uint32) int {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return putSlice(h, offset, b[:])
}

// GetInt32 reads a little-endian int32 at offset.
func GetInt32(h Handle, offset int) (int32, int) {
	v, code := GetUint32(h, offset)
	return int32(v), code
}

// SetInt32 writes a little-endian int32 at offset.
func SetInt32(h Handle, offset int, v int32) int {
	return SetUint32(h, offset, uint32(v))
}

// GetUint64 reads a little-endian uint64 at offset.
func GetUint64(h Handle, offset int) (uint64, int) {
	b, code := getSlice(h, offset, 8)
	if code < 0 {
		return 0, code
	}
	return binary.LittleEndian.Uint64(b), code
}

// SetUint64 writes a little-endian uint64 at offset.
func SetUint64(h Handle, offset int, v uint64) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return putSlice(h, offset, b[:])
}

// GetInt64 reads a little-endian int64 at offset.
func GetInt64(h Handle, offset int) (int64, int) {
	v, code := GetUint64(h, offset)
	return int64(v), code
}

// SetInt64 writes a little-endian int64 at offset.
func SetInt64(h Handle, offset int, v int64) int {
	return SetUint64(h, offset, uint64(v))
}

// GetFloat32 reads a little-endian IEEE-754 float32 at offset.
func GetFloat32(h Handle, offset int) (float32, int) {
	v, code := GetUint32(h, offset)
	if code < 0 {
		return 0, code
	}
	return math.Float32frombits(v), code
}

// SetFloat32 writes a little-endian IEEE-754 float32 at offset.
func SetFloat32(h Handle, offset int, v float32) int {
	return SetUint32(h, offset, math.Float32bits(v))
}

// GetFloat64 reads a little-endian IEEE-754 float64 at offset.
func GetFloat64(h Handle, offset int) (float64, int) {
	v, code := GetUint64(h, offset)
	if code < 0 {
		return 0, code
	}
	return math.Float64frombits(v), code
}

// SetFloat64 writes a little-endian IEEE-754 float64 at offset.
func SetFloat64(h Handle, offset int, v float64) int {
	return SetUint64(h, offset, math.Float64bits(v))
}

// GetBit reads the bit at bitOffset (byte bitOffset/8, bit bitOffset%8
// within that byte, LSB first — CIP's BOOL array packing).
func GetBit(h Handle, bitOffset int) (bool, int) {
	b, code := getSlice(h, bitOffset/8, 1)
	if code < 0 {
		return false, code
	}
	return b[0]&(1<<uint(bitOffset%8)) != 0, code
}

// SetBit sets or clears the bit at bitOffset, leaving its sibling bits
// in the same byte untouched.
func SetBit(h Handle, bitOffset int, v bool) int {
	byteOff := bitOffset / 8
	mask := byte(1 << uint(bitOffset%8))
	b, code := getSlice(h, byteOff, 1)
	var cur byte
	if code == statusCode(wireerr.OK) {
		cur = b[0]
	}
	if v {
		cur |= mask
	} else {
		cur &^= mask
	}
	return putSlice(h, byteOff, []byte{cur})
}
