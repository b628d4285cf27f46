package cip

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// ReadTagRequest builds a Read Tag (0x4C) request body: the element count
// to read, with no offset (use ReadTagFragmentedRequest for partial reads
// of data too large for one message).
func ReadTagRequest(path EPath, elementCount uint16) Request {
	return Request{
		Service: SvcReadTag,
		Path:    path,
		Data:    binary.LittleEndian.AppendUint16(nil, elementCount),
	}
}

// ReadTagFragmentedRequest builds a Read Tag Fragmented (0x52) request,
// adding the byte offset into the tag's value at which this fragment
// should start (spec.md §4.5 fragmentation via CIP status 0x06).
func ReadTagFragmentedRequest(path EPath, elementCount uint16, byteOffset uint32) Request {
	data := binary.LittleEndian.AppendUint16(nil, elementCount)
	data = binary.LittleEndian.AppendUint32(data, byteOffset)
	return Request{Service: SvcReadTagFragmented, Path: path, Data: data}
}

// ReadTagResponseData is the decoded success-path body of a Read Tag (or
// Read Tag Fragmented) reply: a CIP elementary data type code followed by
// the raw element bytes.
type ReadTagResponseData struct {
	TypeCode uint16
	Value    []byte
}

func ParseReadTagResponseData(data []byte) (ReadTagResponseData, error) {
	if len(data) < 2 {
		return ReadTagResponseData{}, wireerr.New(wireerr.ErrTooSmall, "read tag response needs 2 bytes, got %d", len(data))
	}
	return ReadTagResponseData{
		TypeCode: binary.LittleEndian.Uint16(data[0:2]),
		Value:    data[2:],
	}, nil
}

// WriteTagRequest builds a Write Tag (0x4D) request body: type code,
// element count, then the raw value bytes.
func WriteTagRequest(path EPath, typeCode uint16, elementCount uint16, value []byte) Request {
	data := binary.LittleEndian.AppendUint16(nil, typeCode)
	data = binary.LittleEndian.AppendUint16(data, elementCount)
	data = append(data, value...)
	return Request{Service: SvcWriteTag, Path: path, Data: data}
}

// WriteTagFragmentedRequest builds a Write Tag Fragmented (0x53) request,
// carrying only the slice of value starting at byteOffset; the caller is
// responsible for splitting value across multiple fragments per the
// negotiated connection size.
func WriteTagFragmentedRequest(path EPath, typeCode uint16, elementCount uint16, byteOffset uint32, valueFragment []byte) Request {
	data := binary.LittleEndian.AppendUint16(nil, typeCode)
	data = binary.LittleEndian.AppendUint16(data, elementCount)
	data = binary.LittleEndian.AppendUint32(data, byteOffset)
	data = append(data, valueFragment...)
	return Request{Service: SvcWriteTagFragmented, Path: path, Data: data}
}

// GetInstanceAttributeListRequest builds a Get Instance Attribute List
// (0x55) request body for the given attribute IDs, used by the UDT/
// template cache (spec.md §3) to fetch a structure's member layout.
func GetInstanceAttributeListRequest(path EPath, attributeIDs []uint16) Request {
	data := binary.LittleEndian.AppendUint16(nil, uint16(len(attributeIDs)))
	for _, id := range attributeIDs {
		data = binary.LittleEndian.AppendUint16(data, id)
	}
	return Request{Service: SvcGetInstanceAttrList, Path: path, Data: data}
}

// ParseAttributeListResponse splits a Get Instance Attribute List (or Get
// Attributes All) response into its raw attribute values in request
// order; CIP does not self-describe each attribute's length on the wire,
// so the caller supplies the expected byte widths.
func ParseAttributeListResponse(data []byte, widths []int) ([][]byte, error) {
	out := make([][]byte, 0, len(widths))
	pos := 0
	for i, w := range widths {
		if pos+w > len(data) {
			return nil, wireerr.New(wireerr.ErrTooSmall, "attribute %d needs %d bytes at offset %d, response has %d", i, w, pos, len(data))
		}
		out = append(out, data[pos:pos+w])
		pos += w
	}
	return out, nil
}

// PCCCExecuteRequest wraps a pre-encoded PCCC command (built by the pccc
// package) in the CIP PCCC Execute (0x4B) service against the PCCC Object
// (class 0x67, instance 1) — the standard way PLC-5/SLC/MicroLogix
// messaging is tunnelled over EtherNet/IP.
func PCCCExecuteRequest(requesterPath EPath, pcccCommand []byte) (Request, error) {
	path, err := Path().Class(0x67).Instance(1).Build()
	if err != nil {
		return Request{}, err
	}
	data := make([]byte, 0, 1+len(requesterPath)+len(pcccCommand))
	data = append(data, byte(len(requesterPath)/2))
	data = append(data, requesterPath...)
	data = append(data, pcccCommand...)
	return Request{Service: SvcPCCCExecute, Path: path, Data: data}, nil
}
