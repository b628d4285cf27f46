package client

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// stringHeaderSize is the 4-byte DINT length prefix a Logix STRING
// structure carries ahead of its character data (udt.TypeSTRING's wire
// layout: a 4-byte count followed by up to 82 characters, padded to an
// 88-byte element).
const stringHeaderSize = 4

// GetStringLength reads the declared character count of the STRING
// structure at offset.
func GetStringLength(h Handle, offset int) (int, int) {
	n, code := GetUint32(h, offset)
	if code < 0 {
		return 0, code
	}
	return int(n), code
}

// GetStringCapacity reports how many character bytes the STRING
// structure at offset can hold, derived from the tag's element size.
func GetStringCapacity(h Handle, offset int) (int, int) {
	size, code := ElemSize(h)
	if code < 0 {
		return 0, code
	}
	if size <= stringHeaderSize {
		return 0, statusCode(wireerr.OK)
	}
	return size - stringHeaderSize, statusCode(wireerr.OK)
}

// GetStringTotalLength reports the STRING structure's total on-wire
// size (header plus capacity) at offset.
func GetStringTotalLength(h Handle, offset int) (int, int) {
	cap_, code := GetStringCapacity(h, offset)
	if code < 0 {
		return 0, code
	}
	return cap_ + stringHeaderSize, code
}

// GetString decodes the STRING structure at offset into a Go string,
// truncated to its declared length and to however many character bytes
// are actually present in the local buffer.
func GetString(h Handle, offset int) (string, int) {
	length, code := GetStringLength(h, offset)
	if code < 0 {
		return "", code
	}
	entry, ok := lookup(h)
	if !ok {
		return "", statusCode(wireerr.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	start := offset + stringHeaderSize
	if start > len(entry.buf) {
		return "", statusCode(wireerr.ErrOutOfBounds)
	}
	avail := len(entry.buf) - start
	if length > avail {
		length = avail
	}
	if length < 0 {
		length = 0
	}
	return string(entry.buf[start : start+length]), statusCode(wireerr.OK)
}

// SetString encodes v into the STRING structure at offset, failing with
// ERR_TOO_LARGE if v exceeds the tag's declared string capacity.
func SetString(h Handle, offset int, v string) int {
	capLen, code := GetStringCapacity(h, offset)
	if code < 0 {
		return code
	}
	if capLen > 0 && len(v) > capLen {
		return statusCode(wireerr.ErrTooLarge)
	}
	var hdr [stringHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(v)))
	if c := putSlice(h, offset, hdr[:]); c < 0 {
		return c
	}
	return putSlice(h, offset+stringHeaderSize, []byte(v))
}
