package udt

import (
	"encoding/binary"
	"testing"

	"github.com/wartag/tagwire/cip"
)

func TestAttributesRequest(t *testing.T) {
	req, err := AttributesRequest(5)
	if err != nil {
		t.Fatalf("AttributesRequest: %v", err)
	}
	if req.Service != cip.SvcGetAttributeList {
		t.Errorf("Service = 0x%02x, want 0x03", req.Service)
	}
	wire := req.Marshal()
	if wire[0] != cip.SvcGetAttributeList {
		t.Errorf("marshalled service = 0x%02x", wire[0])
	}
}

func attrEntry(id, status uint16, value []byte) []byte {
	b := binary.LittleEndian.AppendUint16(nil, id)
	b = binary.LittleEndian.AppendUint16(b, status)
	return append(b, value...)
}

func TestParseAttributesRoundTrip(t *testing.T) {
	u16 := func(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

	data := binary.LittleEndian.AppendUint16(nil, 5)
	data = append(data, attrEntry(5, 0, u32(48))...)
	data = append(data, attrEntry(4, 0, u32(20))...)
	data = append(data, attrEntry(3, 0, u16(48))...)
	data = append(data, attrEntry(2, 0, u16(3))...)
	data = append(data, attrEntry(1, 0, u16(0x1234))...)

	attrs, err := ParseAttributes(data)
	if err != nil {
		t.Fatalf("ParseAttributes: %v", err)
	}
	if attrs.StructureSize != 48 {
		t.Errorf("StructureSize = %d, want 48", attrs.StructureSize)
	}
	if attrs.ObjectDefinitionSize != 20 {
		t.Errorf("ObjectDefinitionSize = %d, want 20", attrs.ObjectDefinitionSize)
	}
	if attrs.MemberCount != 3 {
		t.Errorf("MemberCount = %d, want 3", attrs.MemberCount)
	}
	if attrs.StructureHandle != 0x1234 {
		t.Errorf("StructureHandle = 0x%04x, want 0x1234", attrs.StructureHandle)
	}

	if got := DefinitionByteCount(attrs); got != 60 {
		t.Errorf("DefinitionByteCount = %d, want 60 ((20*4-23+3)/4*4 = 60)", got)
	}
}

func TestParseAttributesFallsBackToAttribute3(t *testing.T) {
	u16 := func(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
	u32 := func(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }

	data := binary.LittleEndian.AppendUint16(nil, 2)
	data = append(data, attrEntry(4, 0, u32(10))...)
	data = append(data, attrEntry(3, 0, u16(24))...)

	attrs, err := ParseAttributes(data)
	if err != nil {
		t.Fatalf("ParseAttributes: %v", err)
	}
	if attrs.StructureSize != 24 {
		t.Errorf("StructureSize = %d, want 24 (from attribute 3 fallback)", attrs.StructureSize)
	}
}

func TestParseAttributesMissingDefinitionSize(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 0)
	if _, err := ParseAttributes(data); err == nil {
		t.Fatal("expected error when object definition size is absent")
	}
}

func TestDefinitionChunkRequestAndPagination(t *testing.T) {
	req, err := DefinitionChunkRequest(5, 4000, 500)
	if err != nil {
		t.Fatalf("DefinitionChunkRequest: %v", err)
	}
	if req.Service != cip.SvcReadTag {
		t.Errorf("Service = 0x%02x, want 0x4C", req.Service)
	}
	if len(req.Data) != 6 {
		t.Fatalf("payload len = %d, want 6", len(req.Data))
	}
	if off := binary.LittleEndian.Uint32(req.Data[0:4]); off != 4000 {
		t.Errorf("offset in payload = %d, want 4000", off)
	}

	if got := NextChunkSize(0, 100); got != 100 {
		t.Errorf("NextChunkSize(0,100) = %d, want 100", got)
	}
	if got := NextChunkSize(0, 5000); got != MaxChunkBytes {
		t.Errorf("NextChunkSize(0,5000) = %d, want %d", got, MaxChunkBytes)
	}
	if got := NextChunkSize(4000, 5000); got != 1000 {
		t.Errorf("NextChunkSize(4000,5000) = %d, want 1000", got)
	}
}
