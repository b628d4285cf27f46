package udt

import (
	"encoding/binary"

	"github.com/wartag/tagwire/cip"
	"github.com/wartag/tagwire/internal/wireerr"
)

// Template Object (CIP Vol 1 §5-21).
const (
	ClassTemplate byte = 0x6C

	attrStructureHandle      uint16 = 1
	attrMemberCount          uint16 = 2
	attrMemberByteCount      uint16 = 3 // UINT fallback for StructureSize
	attrObjectDefinitionSize uint16 = 4
	attrStructureSize        uint16 = 5
)

func templatePath(templateID uint16) (cip.EPath, error) {
	b := cip.Path().Class(ClassTemplate)
	if templateID <= 0xFF {
		b = b.Instance(byte(templateID))
	} else {
		b = b.Instance16(templateID)
	}
	return b.Build()
}

// AttributesRequest builds the Get Attribute List (service 0x03) request
// against the Template Object, requesting attributes 5,4,3,2,1 in that
// order — the order the teacher's PLC client uses, which some
// controllers' template object implementations are picky about.
func AttributesRequest(templateID uint16) (cip.Request, error) {
	path, err := templatePath(templateID)
	if err != nil {
		return cip.Request{}, err
	}
	data := []byte{
		0x05, 0x00,
		0x05, 0x00,
		0x04, 0x00,
		0x03, 0x00,
		0x02, 0x00,
		0x01, 0x00,
	}
	return cip.Request{Service: cip.SvcGetAttributeList, Path: path, Data: data}, nil
}

// Attributes holds the fields fetched via AttributesRequest.
type Attributes struct {
	StructureHandle      uint16
	MemberCount          uint16
	ObjectDefinitionSize uint32 // 32-bit words
	StructureSize        uint32 // bytes; falls back to attribute 3 if 5 is absent/zero
}

// ParseAttributes decodes a Get Attribute List response body (past the
// service/status/extended-status bytes, which the caller's CIP response
// framing has already stripped) into Attributes.
func ParseAttributes(data []byte) (Attributes, error) {
	if len(data) < 2 {
		return Attributes{}, wireerr.New(wireerr.ErrTooSmall, "template attributes response needs 2 bytes, got %d", len(data))
	}
	count := binary.LittleEndian.Uint16(data[0:2])
	offset := 2
	var attrs Attributes
	for i := 0; i < int(count) && offset+4 <= len(data); i++ {
		id := binary.LittleEndian.Uint16(data[offset : offset+2])
		status := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		width := 2
		if id == attrObjectDefinitionSize || id == attrStructureSize {
			width = 4
		}
		if status != 0 {
			offset += width
			continue
		}
		if offset+width > len(data) {
			break
		}
		switch id {
		case attrStructureHandle:
			attrs.StructureHandle = binary.LittleEndian.Uint16(data[offset : offset+2])
		case attrMemberCount:
			attrs.MemberCount = binary.LittleEndian.Uint16(data[offset : offset+2])
		case attrMemberByteCount:
			if attrs.StructureSize == 0 {
				attrs.StructureSize = uint32(binary.LittleEndian.Uint16(data[offset : offset+2]))
			}
		case attrObjectDefinitionSize:
			attrs.ObjectDefinitionSize = binary.LittleEndian.Uint32(data[offset : offset+4])
		case attrStructureSize:
			attrs.StructureSize = binary.LittleEndian.Uint32(data[offset : offset+4])
		}
		offset += width
	}
	if attrs.ObjectDefinitionSize == 0 {
		return Attributes{}, wireerr.New(wireerr.ErrBadData, "template attributes missing object definition size")
	}
	return attrs, nil
}

// DefinitionByteCount computes the number of definition bytes to read,
// per the formula the teacher's client uses: (words*4 - 23), rounded up
// to a 4-byte boundary.
func DefinitionByteCount(attrs Attributes) uint32 {
	n := attrs.ObjectDefinitionSize*4 - 23
	return ((n + 3) / 4) * 4
}

// MaxChunkBytes bounds a single paginated definition read, matching the
// teacher's client.
const MaxChunkBytes = 4000

// DefinitionChunkRequest builds one paginated Read Tag (0x4C) request for
// `size` bytes of template definition data starting at byte `offset`
// within the Template Object's virtual definition. This is not a
// Read-Tag-Fragmented request in cip.ReadTagFragmentedRequest's sense —
// the Template Object's payload layout is offset+size (<IH>), not
// elementCount+byteOffset.
func DefinitionChunkRequest(templateID uint16, offset uint32, size uint16) (cip.Request, error) {
	path, err := templatePath(templateID)
	if err != nil {
		return cip.Request{}, err
	}
	if size > MaxChunkBytes {
		size = MaxChunkBytes
	}
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint32(payload[0:4], offset)
	binary.LittleEndian.PutUint16(payload[4:6], size)
	return cip.Request{Service: cip.SvcReadTag, Path: path, Data: payload}, nil
}

// NextChunkSize returns how many bytes the next DefinitionChunkRequest
// should ask for, capped at MaxChunkBytes and at the remaining total.
func NextChunkSize(offset, totalBytes uint32) uint16 {
	remaining := totalBytes - offset
	if remaining > MaxChunkBytes {
		return MaxChunkBytes
	}
	return uint16(remaining)
}
