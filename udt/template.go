package udt

// Member is a single field within a UDT/AOI template definition.
type Member struct {
	Name      string
	Type      uint16 // raw type code; IsStructure(Type)/BaseType(Type) decode it
	Offset    uint32 // byte offset within the structure instance
	BitOffset uint8  // bit position within Offset, for packed BOOL members
	ArrayDims []int  // nil for a scalar member
	Hidden    bool   // internal/compiler-generated member (pylogix "__"/":" convention)
}

// IsStructure reports whether this member is itself a nested UDT.
func (m *Member) IsStructure() bool { return IsStructure(m.Type) }

// IsArray reports whether this member is an array.
func (m *Member) IsArray() bool { return len(m.ArrayDims) > 0 }

// ElementCount returns the total element count (1 for a scalar).
func (m *Member) ElementCount() int {
	if len(m.ArrayDims) == 0 {
		return 1
	}
	n := 1
	for _, d := range m.ArrayDims {
		n *= d
	}
	return n
}

// Template is a fully decoded UDT/AOI structure definition, keyed by
// the CIP template instance ID embedded in a tag's structure type code.
type Template struct {
	ID          uint16
	Name        string
	Size        uint32 // byte size of one structure instance
	Members     []Member
	MemberMap   map[string]int // visible-member name -> index into Members
	Handle      uint16         // structure handle reported by the PLC
	MemberCount uint16
}

// Member looks up a member by name, returning nil if it isn't present
// or is hidden.
func (t *Template) Member(name string) *Member {
	if t.MemberMap == nil {
		return nil
	}
	if idx, ok := t.MemberMap[name]; ok {
		return &t.Members[idx]
	}
	return nil
}

// Decode assembles a Template from the attributes fetched via
// AttributesRequest/ParseAttributes and the definition bytes collected
// across one or more DefinitionChunkRequest round trips. This is the
// pure, connection-free equivalent of the teacher's GetTemplate — the
// session/client packages drive the request/response round trips and
// hand the bytes here.
func Decode(templateID uint16, attrs Attributes, definition []byte) (*Template, error) {
	name, members, err := ParseDefinition(definition, int(attrs.MemberCount))
	if err != nil {
		return nil, err
	}
	CalculateBoolBitOffsets(members)
	return &Template{
		ID:          templateID,
		Name:        name,
		Size:        attrs.StructureSize,
		Members:     members,
		MemberMap:   BuildMemberMap(members),
		Handle:      attrs.StructureHandle,
		MemberCount: attrs.MemberCount,
	}, nil
}
