package cip

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// MultiServiceRequest is one request packed into a Multiple Service Packet.
type MultiServiceRequest struct {
	Service byte
	Path    EPath
	Data    []byte
}

// toRequest reuses Request.Marshal for the embedded service-body encoding
// instead of duplicating the service/path/data layout here.
func (r MultiServiceRequest) toRequest() Request {
	return Request{Service: r.Service, Path: r.Path, Data: r.Data}
}

// MaxPackedServices is the CIP-imposed ceiling on requests per Multiple
// Service Packet (spec.md §4.4 packing policy).
const MaxPackedServices = 200

// BuildMultipleServiceRequest packs several requests into one Multiple
// Service Packet (service 0x0A) body. It fills the offset-word header and
// the concatenated service bodies in a single pass: each marshaled body is
// appended to a running data buffer as soon as its offset is known, rather
// than collecting every body first and computing offsets afterward.
func BuildMultipleServiceRequest(requests []MultiServiceRequest) ([]byte, error) {
	if len(requests) == 0 {
		return nil, wireerr.New(wireerr.ErrBadParam, "multiple service packet: no requests given")
	}
	if len(requests) > MaxPackedServices {
		return nil, wireerr.New(wireerr.ErrTooLarge, "multiple service packet: %d requests exceeds max %d", len(requests), MaxPackedServices)
	}

	header := make([]byte, 2+len(requests)*2)
	binary.LittleEndian.PutUint16(header[0:2], uint16(len(requests)))

	data := make([]byte, 0, 256)
	offset := uint16(len(header))
	for i, req := range requests {
		binary.LittleEndian.PutUint16(header[2+i*2:4+i*2], offset)
		body := req.toRequest().Marshal()
		data = append(data, body...)
		offset += uint16(len(body))
	}

	return append(header, data...), nil
}

// ParseMultipleServiceRequest decodes a Multiple Service Packet request
// body into its packed sub-requests, the mirror image of
// BuildMultipleServiceRequest — the test-harness server needs this to
// play the responder role BuildMultipleServiceRequest's caller normally
// targets.
func ParseMultipleServiceRequest(data []byte) ([]MultiServiceRequest, error) {
	if len(data) < 2 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "multiple service request needs 2 bytes, got %d", len(data))
	}
	count := binary.LittleEndian.Uint16(data[0:2])
	minSize := 2 + int(count)*2
	if len(data) < minSize {
		return nil, wireerr.New(wireerr.ErrTooSmall, "multiple service request needs %d offset bytes for %d services, got %d", minSize, count, len(data))
	}

	offsets := make([]uint16, count)
	for i := 0; i < int(count); i++ {
		offsets[i] = binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2])
	}

	reqs := make([]MultiServiceRequest, count)
	for i := 0; i < int(count); i++ {
		start := int(offsets[i])
		end := len(data)
		if i < int(count)-1 {
			end = int(offsets[i+1])
		}
		if start > end || end > len(data) || start < 2 {
			return nil, wireerr.New(wireerr.ErrBadReply, "multiple service request: sub-request %d offset range [%d,%d) invalid for %d byte body", i, start, end, len(data))
		}
		parsed, rest, err := ParseRequest(data[start:end])
		if err != nil {
			return nil, wireerr.Wrap(wireerr.ErrBadReply, err, "multiple service request: sub-request %d", i)
		}
		reqs[i] = MultiServiceRequest{Service: parsed.Service, Path: parsed.Path, Data: rest}
	}
	return reqs, nil
}

// BuildMultipleServiceResponse packs several already-built Response
// values into one Multiple Service Packet response body, the reply-side
// mirror of BuildMultipleServiceRequest.
func BuildMultipleServiceResponse(responses []Response) []byte {
	header := make([]byte, 2+len(responses)*2)
	binary.LittleEndian.PutUint16(header[0:2], uint16(len(responses)))

	data := make([]byte, 0, 256)
	offset := uint16(len(header))
	for i, resp := range responses {
		binary.LittleEndian.PutUint16(header[2+i*2:4+i*2], offset)
		body := resp.Marshal()
		data = append(data, body...)
		offset += uint16(len(body))
	}
	return append(header, data...)
}

// MultiServiceResponse is one decoded reply within a Multiple Service
// Packet response.
type MultiServiceResponse struct {
	Service   byte
	Status    byte
	ExtStatus []byte
	Data      []byte
}

// ToResponse rebuilds the full message-router Response this sub-reply
// represents, so a packed reply can be decoded by the same code path an
// unpacked reply goes through.
func (r MultiServiceResponse) ToResponse() Response {
	ext := make([]uint16, len(r.ExtStatus)/2)
	for i := range ext {
		ext[i] = binary.LittleEndian.Uint16(r.ExtStatus[i*2 : i*2+2])
	}
	return Response{ReplyService: r.Service, GeneralStatus: r.Status, AdditionalStatus: ext, Data: r.Data}
}

// ParseMultipleServiceResponse decodes the reply bodies of a Multiple
// Service Packet response, one per originally-packed request. A malformed
// or truncated sub-entry fails the whole decode rather than being skipped:
// a caller fanning completions back out to waiting requests by index can't
// tell a silently-empty reply from a real zero-length one, so a corrupt
// sub-entry must not masquerade as success.
func ParseMultipleServiceResponse(data []byte) ([]MultiServiceResponse, error) {
	if len(data) < 2 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "multiple service response needs 2 bytes, got %d", len(data))
	}
	count := binary.LittleEndian.Uint16(data[0:2])
	if count == 0 {
		return nil, nil
	}

	minSize := 2 + int(count)*2
	if len(data) < minSize {
		return nil, wireerr.New(wireerr.ErrTooSmall, "multiple service response needs %d offset bytes for %d services, got %d", minSize, count, len(data))
	}

	offsets := make([]uint16, count)
	for i := 0; i < int(count); i++ {
		offsets[i] = binary.LittleEndian.Uint16(data[2+i*2 : 4+i*2])
	}

	responses := make([]MultiServiceResponse, count)
	for i := 0; i < int(count); i++ {
		start := int(offsets[i])
		end := len(data)
		if i < int(count)-1 {
			end = int(offsets[i+1])
		}
		if start > end || end > len(data) {
			return nil, wireerr.New(wireerr.ErrBadReply, "multiple service response: sub-reply %d offset range [%d,%d) invalid for %d byte body", i, start, end, len(data))
		}
		svcData := data[start:end]
		if len(svcData) < 4 {
			return nil, wireerr.New(wireerr.ErrBadReply, "multiple service response: sub-reply %d is %d bytes, need at least 4", i, len(svcData))
		}
		resp := MultiServiceResponse{Service: svcData[0] &^ ReplyMask, Status: svcData[2]}
		extWords := int(svcData[3])
		extBytes := extWords * 2
		dataStart := 4 + extBytes
		if dataStart > len(svcData) {
			return nil, wireerr.New(wireerr.ErrBadReply, "multiple service response: sub-reply %d ext status needs %d bytes, got %d", i, extBytes, len(svcData)-4)
		}
		if extBytes > 0 {
			resp.ExtStatus = svcData[4:dataStart]
		}
		resp.Data = svcData[dataStart:]
		responses[i] = resp
	}
	return responses, nil
}
