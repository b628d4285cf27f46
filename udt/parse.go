package udt

import (
	"encoding/binary"
	"strings"

	"github.com/wartag/tagwire/internal/wireerr"
)

const memberInfoSize = 8

// ParseDefinition decodes the raw template definition bytes fetched via
// DefinitionChunkRequest into a Template's Name/Members/MemberMap.
// Format: memberCount*8-byte member-info entries (array size u16, type
// code u16, byte offset u32), followed by a string table of
// NUL-terminated names — the first name is the template name (optionally
// "Name;extra;info", trimmed at the first ';'), the rest are member
// names in member order.
func ParseDefinition(data []byte, memberCount int) (name string, members []Member, err error) {
	if memberCount <= 0 {
		return "", nil, wireerr.New(wireerr.ErrBadParam, "invalid member count %d", memberCount)
	}
	need := memberCount * memberInfoSize
	if len(data) < need {
		memberCount = len(data) / memberInfoSize
		if memberCount == 0 {
			return "", nil, wireerr.New(wireerr.ErrTooSmall, "template definition too short: %d bytes", len(data))
		}
		need = memberCount * memberInfoSize
	}

	members = make([]Member, 0, memberCount)
	for i := 0; i < memberCount; i++ {
		idx := i * memberInfoSize
		if idx+memberInfoSize > len(data) {
			break
		}
		entry := data[idx : idx+memberInfoSize]
		arraySize := binary.LittleEndian.Uint16(entry[0:2])
		typeVal := binary.LittleEndian.Uint16(entry[2:4])
		offset := binary.LittleEndian.Uint32(entry[4:8])

		m := Member{Type: typeVal, Offset: offset}
		if typeVal&arrayFlag != 0 && arraySize > 0 {
			m.ArrayDims = []int{int(arraySize)}
		}
		if BaseType(typeVal) == 0 {
			m.Hidden = true
		}
		members = append(members, m)
	}

	nameDataStart := len(members) * memberInfoSize
	if nameDataStart < len(data) {
		names := splitNullTerminated(data[nameDataStart:], len(members)+1)
		if len(names) > 0 {
			name = names[0]
			if idx := strings.IndexByte(name, ';'); idx >= 0 {
				name = name[:idx]
			}
		}
		for i := 0; i < len(members) && i+1 < len(names); i++ {
			members[i].Name = names[i+1]
			n := members[i].Name
			if n == "" || strings.HasPrefix(n, "__") || strings.HasPrefix(n, ":") || (len(n) > 0 && n[0] < 32) {
				members[i].Hidden = true
			}
		}
	}

	return name, members, nil
}

// splitNullTerminated reads up to `limit` NUL-terminated strings from
// the front of data.
func splitNullTerminated(data []byte, limit int) []string {
	var out []string
	start := 0
	for i := 0; i < len(data) && len(out) < limit; i++ {
		if data[i] == 0 {
			out = append(out, string(data[start:i]))
			start = i + 1
		}
	}
	if start < len(data) && len(out) < limit {
		out = append(out, string(data[start:]))
	}
	return out
}

// BuildMemberMap indexes visible (non-hidden, named) members by name.
func BuildMemberMap(members []Member) map[string]int {
	m := make(map[string]int, len(members))
	for i, mem := range members {
		if mem.Name != "" && !mem.Hidden {
			m[mem.Name] = i
		}
	}
	return m
}

// CalculateBoolBitOffsets assigns bit positions to BOOL members that
// share a byte offset (the PLC reports byte offsets for packed BOOLs,
// but not which bit within that byte/DINT each one occupies — bits are
// assigned in definition order to members sharing an offset).
func CalculateBoolBitOffsets(members []Member) {
	bitAtOffset := make(map[uint32]uint8)
	for i := range members {
		m := &members[i]
		if BaseType(m.Type) != TypeBOOL {
			continue
		}
		bit := bitAtOffset[m.Offset]
		m.BitOffset = bit
		bitAtOffset[m.Offset] = bit + 1
	}
}

// CalculateOffsets recomputes byte offsets for a structure whose member
// table didn't come with PLC-reported offsets (e.g. a locally
// synthesized template), packing scalars by natural alignment and BOOLs
// 32 to a DINT. sizeLookup resolves a nested structure's instance size
// from its raw type code; pass nil to fall back to a 4-byte default for
// every nested structure.
func CalculateOffsets(members []Member, sizeLookup func(uint16) uint32) {
	var offset uint32
	var boolBit uint8
	var inBoolHost bool

	for i := range members {
		m := &members[i]
		base := BaseType(m.Type)

		if m.IsStructure() {
			size := uint32(4)
			if sizeLookup != nil {
				if s := sizeLookup(m.Type); s > 0 {
					size = s
				}
			}
			if inBoolHost {
				offset += 4
				inBoolHost = false
				boolBit = 0
			}
			offset = alignTo(offset, 4)
			m.Offset = offset
			if m.IsArray() {
				size *= uint32(m.ElementCount())
			}
			offset += size
			continue
		}

		if base == TypeBOOL {
			if !inBoolHost || boolBit >= 32 {
				offset = alignTo(offset, 4)
				inBoolHost = true
				boolBit = 0
			}
			m.Offset = offset
			m.BitOffset = boolBit
			boolBit++
			continue
		}

		if inBoolHost {
			offset += 4
			inBoolHost = false
			boolBit = 0
		}

		size := ElementarySize(m.Type)
		alignment := size
		if size == 0 {
			size, alignment = 4, 4
		}
		offset = alignTo(offset, alignment)
		m.Offset = offset
		if m.IsArray() {
			size *= uint32(m.ElementCount())
		}
		offset += size
	}
}
