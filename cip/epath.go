// Package cip implements the Common Industrial Protocol layer spec.md
// §4.3/§4.4 requires: EPATH construction, the Connection Manager's Forward
// Open/Forward Close, Multiple Service Packet batching, Read/Write Tag
// (+Fragmented) services, Get Instance Attribute List, and the CIP general
// status decode table.
//
// Grounded directly on yatesdr-warlogix/cip/{epath,cip,connection,
// multiservice,message}.go, generalized from a ControlLogix-only client
// into a codec shared by the client session and the AB test-harness
// server.
package cip

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wartag/tagwire/internal/wireerr"
)

type LogicalType byte
type LogicalFormat byte
type SegmentType byte

const (
	SegmentPort              SegmentType = 0b000
	SegmentLogical           SegmentType = 0b001
	SegmentNetwork           SegmentType = 0b010
	SegmentSymbolic          SegmentType = 0b011
	SegmentDataConstructed   SegmentType = 0b101
	SegmentDataElementary    SegmentType = 0b110

	LogicalTypeClassID         LogicalType = 0x0
	LogicalTypeInstanceID      LogicalType = 0b1
	LogicalTypeMemberID        LogicalType = 0b10
	LogicalTypeConnectionPoint LogicalType = 0b011
	LogicalTypeAttributeID     LogicalType = 0b100
	LogicalTypeSpecial         LogicalType = 0b101
	LogicalTypeServiceID       LogicalType = 0b110

	LogicalFormat8Bit  LogicalFormat = 0b0
	LogicalFormat16Bit LogicalFormat = 0b1
	LogicalFormat32Bit LogicalFormat = 0b10
)

// EPath is an encoded CIP path.
type EPath []byte

// WordLen returns the path's length in 16-bit words, as required in the
// request-path-size byte preceding every encoded path.
func (p EPath) WordLen() byte {
	return byte(len(p) / 2)
}

// PathBuilder is a fluent EPath builder matching the teacher's API shape.
type PathBuilder struct {
	err    error
	path   EPath
	padded bool
}

// Path starts a new padded EPath builder (padded encoding is what every
// ControlLogix/CompactLogix target expects).
func Path() *PathBuilder {
	return &PathBuilder{padded: true}
}

func (b *PathBuilder) add(p EPath, err error) *PathBuilder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.path = append(b.path, p...)
	return b
}

func (b *PathBuilder) Class(id byte) *PathBuilder {
	return b.add(logicalSegment(LogicalTypeClassID, LogicalFormat8Bit, []byte{id}, b.padded))
}

func (b *PathBuilder) Instance(id byte) *PathBuilder {
	return b.add(logicalSegment(LogicalTypeInstanceID, LogicalFormat8Bit, []byte{id}, b.padded))
}

func (b *PathBuilder) Instance16(id uint16) *PathBuilder {
	return b.add(logicalSegment(LogicalTypeInstanceID, LogicalFormat16Bit, binary.LittleEndian.AppendUint16(nil, id), b.padded))
}

func (b *PathBuilder) Instance32(id uint32) *PathBuilder {
	return b.add(logicalSegment(LogicalTypeInstanceID, LogicalFormat32Bit, binary.LittleEndian.AppendUint32(nil, id), b.padded))
}

func (b *PathBuilder) Attribute(id byte) *PathBuilder {
	return b.add(logicalSegment(LogicalTypeAttributeID, LogicalFormat8Bit, []byte{id}, b.padded))
}

// Symbol appends a dotted/indexed tag path ("Program:Main.MyArray[5].Field")
// as a run of symbolic and member segments: '.' separates symbolic
// segments, ':' stays inside one segment (program-scope tags), and
// "[n]" becomes a numeric member segment.
func (b *PathBuilder) Symbol(tag string) *PathBuilder {
	for _, part := range splitTagPath(tag) {
		if part.isIndex {
			b = b.add(memberSegment(part.index))
		} else {
			b = b.add(symbolicSegmentExt([]byte(part.name)))
		}
	}
	return b
}

func (b *PathBuilder) Build() (EPath, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := append(EPath{}, b.path...)
	if b.padded && len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

func logicalSegment(ltype LogicalType, lformat LogicalFormat, value []byte, padded bool) (EPath, error) {
	if ltype == LogicalTypeSpecial {
		return append(EPath{0x34}, value...), nil
	}
	if ltype == LogicalTypeServiceID {
		return append(EPath{0x38}, value...), nil
	}

	switch lformat {
	case LogicalFormat8Bit:
		if len(value) != 1 {
			return nil, wireerr.New(wireerr.ErrBadParam, "8-bit logical segment requires 1 byte, got %d", len(value))
		}
	case LogicalFormat16Bit:
		if len(value) != 2 {
			return nil, wireerr.New(wireerr.ErrBadParam, "16-bit logical segment requires 2 bytes, got %d", len(value))
		}
	case LogicalFormat32Bit:
		if len(value) != 4 {
			return nil, wireerr.New(wireerr.ErrBadParam, "32-bit logical segment requires 4 bytes, got %d", len(value))
		}
	default:
		return nil, wireerr.New(wireerr.ErrUnsupported, "unsupported logical format %v", lformat)
	}

	capHint := 1 + len(value)
	wide := lformat == LogicalFormat16Bit || lformat == LogicalFormat32Bit
	if padded && wide {
		capHint++
	}
	out := make([]byte, 1, capHint)
	out[0] |= (byte(SegmentLogical) & 0b111) << 5
	out[0] |= (byte(ltype) & 0b111) << 2
	out[0] |= byte(lformat) & 0b11

	if padded && wide {
		out = append(out, 0x00)
	}
	out = append(out, value...)
	return EPath(out), nil
}

type tagPart struct {
	name    string
	index   uint32
	isIndex bool
}

// splitTagPath tokenizes "Program:Main.Tag[5].Field" into name/index parts.
func splitTagPath(tag string) []tagPart {
	var parts []tagPart
	current := ""
	for i := 0; i < len(tag); i++ {
		switch tag[i] {
		case '.':
			if current != "" {
				parts = append(parts, tagPart{name: current})
				current = ""
			}
		case '[':
			if current != "" {
				parts = append(parts, tagPart{name: current})
				current = ""
			}
			j := i + 1
			for j < len(tag) && tag[j] != ']' {
				j++
			}
			if j > i+1 {
				var idx uint32
				for _, c := range tag[i+1 : j] {
					if c >= '0' && c <= '9' {
						idx = idx*10 + uint32(c-'0')
					}
				}
				parts = append(parts, tagPart{index: idx, isIndex: true})
			}
			i = j
		case ']':
			// consumed by the '[' branch
		default:
			current += string(tag[i])
		}
	}
	if current != "" {
		parts = append(parts, tagPart{name: current})
	}
	return parts
}

// DecodeSymbol decodes a symbolic+member EPath built by PathBuilder.Symbol
// back into its dotted/indexed tag-name string, the mirror image Symbol
// needs since it only ever builds that path forward for an outbound
// request — the AB test-harness server must decode it to look a tag name
// up in its fixture database.
func DecodeSymbol(path EPath) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(path) {
		b := path[i]
		switch b {
		case 0x91:
			if i+1 >= len(path) {
				return "", wireerr.New(wireerr.ErrTooSmall, "epath: truncated symbolic segment")
			}
			n := int(path[i+1])
			start := i + 2
			if start+n > len(path) {
				return "", wireerr.New(wireerr.ErrTooSmall, "epath: symbolic segment needs %d bytes, got %d", n, len(path)-start)
			}
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
			sb.WriteString(string(path[start : start+n]))
			segLen := 2 + n
			if segLen%2 != 0 {
				segLen++
			}
			i += segLen
		case 0x28:
			if i+1 >= len(path) {
				return "", wireerr.New(wireerr.ErrTooSmall, "epath: truncated 1-byte member segment")
			}
			fmt.Fprintf(&sb, "[%d]", path[i+1])
			i += 2
		case 0x29:
			if i+3 >= len(path) {
				return "", wireerr.New(wireerr.ErrTooSmall, "epath: truncated 2-byte member segment")
			}
			fmt.Fprintf(&sb, "[%d]", binary.LittleEndian.Uint16(path[i+2:i+4]))
			i += 4
		case 0x2A:
			if i+5 >= len(path) {
				return "", wireerr.New(wireerr.ErrTooSmall, "epath: truncated 4-byte member segment")
			}
			fmt.Fprintf(&sb, "[%d]", binary.LittleEndian.Uint32(path[i+2:i+6]))
			i += 6
		default:
			return "", wireerr.New(wireerr.ErrUnsupported, "epath: unsupported segment 0x%02x while decoding a symbol", b)
		}
	}
	if sb.Len() == 0 {
		return "", wireerr.New(wireerr.ErrBadParam, "epath: empty path has no symbol to decode")
	}
	return sb.String(), nil
}

func memberSegment(index uint32) (EPath, error) {
	switch {
	case index <= 0xFF:
		return EPath{0x28, byte(index)}, nil
	case index <= 0xFFFF:
		return EPath{0x29, 0x00, byte(index), byte(index >> 8)}, nil
	default:
		return EPath{0x2A, 0x00, byte(index), byte(index >> 8), byte(index >> 16), byte(index >> 24)}, nil
	}
}

func symbolicSegmentExt(symbol []byte) (EPath, error) {
	if len(symbol) == 0 {
		return nil, wireerr.New(wireerr.ErrBadParam, "symbolic segment: empty tag name component")
	}
	if len(symbol) > 255 {
		return nil, wireerr.New(wireerr.ErrBadParam, "symbolic segment: name too long, max 255 bytes")
	}
	out := append([]byte{0x91, byte(len(symbol))}, symbol...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return EPath(out), nil
}
