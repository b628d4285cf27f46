package cip

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Service codes used by spec.md's CIP layer. Connection Manager service
// codes (Forward Open/Close, Unconnected Send) live in connection.go.
const (
	SvcGetAttributesAll    byte = 0x01
	SvcGetAttributeList    byte = 0x03
	SvcGetAttributeSingle  byte = 0x0E
	SvcSetAttributeSingle  byte = 0x10
	SvcReadTag             byte = 0x4C
	SvcWriteTag            byte = 0x4D
	SvcReadTagFragmented   byte = 0x52
	SvcWriteTagFragmented  byte = 0x53
	SvcPCCCExecute         byte = 0x4B
	SvcGetInstanceAttrList byte = 0x55
	SvcMultipleServicePacket byte = 0x0A
)

// ReplyMask marks a response service code ("original | 0x80").
const ReplyMask byte = 0x80

// Request is a single CIP message-router request: service, EPATH, data.
type Request struct {
	Service byte
	Path    EPath
	Data    []byte
}

// Marshal renders the request as [service][path word len][path][data].
func (r Request) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, r.Service)
	out = append(out, r.Path.WordLen())
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// ParseRequest decodes a message-router request from raw bytes, as the
// test-harness servers must when acting as the CIP responder.
func ParseRequest(raw []byte) (Request, []byte, error) {
	if len(raw) < 2 {
		return Request{}, nil, wireerr.New(wireerr.ErrTooSmall, "cip request needs at least 2 bytes, got %d", len(raw))
	}
	svc := raw[0]
	wordLen := int(raw[1])
	pathLen := wordLen * 2
	if len(raw) < 2+pathLen {
		return Request{}, nil, wireerr.New(wireerr.ErrTooSmall, "cip request path needs %d bytes, got %d", pathLen, len(raw)-2)
	}
	path := EPath(raw[2 : 2+pathLen])
	rest := raw[2+pathLen:]
	return Request{Service: svc, Path: path}, append([]byte{}, rest...), nil
}

// Response is a decoded CIP message-router response.
type Response struct {
	ReplyService     byte
	GeneralStatus    byte
	AdditionalStatus []uint16
	Data             []byte
}

// Marshal renders a Response as [service|0x80][reserved=0][status][ext word
// count][ext status words][data], the wire shape every CIP responder uses.
func (r Response) Marshal() []byte {
	out := make([]byte, 0, 4+2*len(r.AdditionalStatus)+len(r.Data))
	out = append(out, r.ReplyService|ReplyMask, 0x00, r.GeneralStatus, byte(len(r.AdditionalStatus)))
	for _, w := range r.AdditionalStatus {
		out = binary.LittleEndian.AppendUint16(out, w)
	}
	out = append(out, r.Data...)
	return out
}

// ParseResponse decodes a message-router response.
func ParseResponse(raw []byte) (Response, error) {
	if len(raw) < 4 {
		return Response{}, wireerr.New(wireerr.ErrTooSmall, "cip response needs at least 4 bytes, got %d", len(raw))
	}
	extWords := int(raw[3])
	need := 4 + extWords*2
	if len(raw) < need {
		return Response{}, wireerr.New(wireerr.ErrTooSmall, "cip response ext status needs %d bytes, got %d", need, len(raw))
	}
	ext := make([]uint16, extWords)
	for i := 0; i < extWords; i++ {
		ext[i] = binary.LittleEndian.Uint16(raw[4+i*2 : 6+i*2])
	}
	return Response{
		ReplyService:     raw[0] &^ ReplyMask,
		GeneralStatus:    raw[2],
		AdditionalStatus: ext,
		Data:             raw[need:],
	}, nil
}

// General status codes (CIP volume 1, appendix B), the ones spec.md's
// error taxonomy maps onto wireerr codes.
const (
	StatusSuccess                byte = 0x00
	StatusConnectionFailure      byte = 0x01
	StatusResourceUnavailable    byte = 0x02
	StatusInvalidParameterValue  byte = 0x03
	StatusPathSegmentError       byte = 0x04
	StatusPathDestinationUnknown byte = 0x05
	StatusPartialTransfer        byte = 0x06
	StatusConnectionLost         byte = 0x07
	StatusServiceNotSupported    byte = 0x08
	StatusInvalidAttributeValue  byte = 0x09
	StatusAttributeListError     byte = 0x0A
	StatusAlreadyInRequested     byte = 0x0B
	StatusObjectStateConflict    byte = 0x0C
	StatusObjectAlreadyExists    byte = 0x0D
	StatusAttributeNotSettable   byte = 0x0E
	StatusPrivilegeViolation     byte = 0x0F
	StatusDeviceStateConflict    byte = 0x10
	StatusReplyDataTooLarge      byte = 0x11
	StatusFragmentPrimitive      byte = 0x12
	StatusNotEnoughData          byte = 0x13
	StatusAttributeNotSupported  byte = 0x14
	StatusTooMuchData            byte = 0x15
	StatusObjectDoesNotExist     byte = 0x16
	StatusNoFragmentation        byte = 0x17
	StatusDataNotSaved           byte = 0x18
	StatusDataWriteFailure       byte = 0x19
	StatusRequestTooLarge        byte = 0x1A
	StatusResponseTooLarge       byte = 0x1B
	StatusMissingAttributeList   byte = 0x1C
	StatusInvalidAttributeValueList byte = 0x1D
	StatusEmbeddedServiceError   byte = 0x1E
	StatusVendorSpecificError    byte = 0x1F
	StatusInvalidParameter       byte = 0x20
	StatusWriteOnceValueExists   byte = 0x21
	StatusInvalidReplyReceived   byte = 0x22
	StatusKeyFailureInPath       byte = 0x25
	StatusPathSizeInvalid        byte = 0x26
	StatusUnexpectedAttribute    byte = 0x27
	StatusInvalidMemberID        byte = 0x28
	StatusMemberNotSettable      byte = 0x29
)

// DecodeStatus maps a CIP general status byte to the stable wireerr.Code it
// implies, per spec.md §7's "errors propagate typed, not as raw wire
// status" rule.
func DecodeStatus(status byte) wireerr.Code {
	switch status {
	case StatusSuccess:
		return wireerr.OK
	case StatusPartialTransfer:
		return wireerr.ErrPartial
	case StatusPathDestinationUnknown, StatusObjectDoesNotExist:
		return wireerr.ErrNotFound
	case StatusPathSegmentError, StatusPathSizeInvalid, StatusInvalidParameterValue, StatusInvalidParameter:
		return wireerr.ErrBadParam
	case StatusResourceUnavailable, StatusNoFragmentation:
		return wireerr.ErrNoResources
	case StatusConnectionFailure, StatusConnectionLost, StatusDeviceStateConflict, StatusObjectStateConflict:
		return wireerr.ErrBadConnection
	case StatusServiceNotSupported:
		return wireerr.ErrNotImplemented
	case StatusPrivilegeViolation:
		return wireerr.ErrNotAllowed
	case StatusReplyDataTooLarge, StatusRequestTooLarge, StatusTooMuchData:
		return wireerr.ErrTooLarge
	case StatusNotEnoughData:
		return wireerr.ErrTooSmall
	case StatusAlreadyInRequested, StatusObjectAlreadyExists:
		return wireerr.ErrDuplicate
	default:
		return wireerr.ErrRemoteErr
	}
}
