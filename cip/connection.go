package cip

import (
	"encoding/binary"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Connection Manager services and the well-known class/instance it lives
// at on every CIP device.
const (
	SvcForwardOpen      byte = 0x54 // standard Forward Open, 16-bit connection params
	SvcForwardOpenLarge byte = 0x5B // large Forward Open, 32-bit connection params
	SvcForwardClose     byte = 0x4E
	SvcUnconnectedSend  byte = 0x52

	ClassConnectionManager byte = 0x06
	InstanceConnManager    byte = 0x01
)

// Connection is an established CIP connected-messaging session: the
// O->T/T->O connection id pair plus the sequence counter for connected
// transport (spec.md §3 Session data model).
type Connection struct {
	OTConnID     uint32
	TOConnID     uint32
	SerialNumber uint16
	VendorID     uint16
	OrigSerial   uint32

	seq uint32
}

// NextSequence returns the next connected-transport sequence number.
func (c *Connection) NextSequence() uint16 {
	return uint16(atomic.AddUint32(&c.seq, 1))
}

// WrapConnected prefixes the connected-transport sequence number onto a
// CIP payload before it is placed in the CPF connected-data item.
func (c *Connection) WrapConnected(cipPayload []byte) []byte {
	s := c.NextSequence()
	out := make([]byte, 2+len(cipPayload))
	binary.LittleEndian.PutUint16(out[0:2], s)
	copy(out[2:], cipPayload)
	return out
}

// UnwrapConnected splits a connected-data item into its sequence number
// and CIP payload.
func UnwrapConnected(raw []byte) (seq uint16, cipPayload []byte, err error) {
	if len(raw) < 2 {
		return 0, nil, wireerr.New(wireerr.ErrTooSmall, "connected data needs 2 bytes, got %d", len(raw))
	}
	return binary.LittleEndian.Uint16(raw[0:2]), raw[2:], nil
}

// ForwardOpenConfig parameterizes a Forward Open request. Unlike a
// single-vendor client, tagwire's config carries no baked-in vendor ID or
// fixed RPI: every field is explicit so the session layer can drive it
// from the tag attribute string's connection_group_id and any per-gateway
// overrides (spec.md §6).
type ForwardOpenConfig struct {
	OTRPI            time.Duration
	TORPI            time.Duration
	OTConnectionSize uint16
	TOConnectionSize uint16
	ConnectionPath   []byte
	VendorID         uint16
	OriginatorSerial uint32
	TransportTrigger byte // 0xA3 = class 3, application-triggered, direction-to-target
}

// DefaultForwardOpenConfig returns the conventional values used across the
// ControlLogix/CompactLogix family when a caller doesn't override them.
func DefaultForwardOpenConfig() ForwardOpenConfig {
	return ForwardOpenConfig{
		OTRPI:            2100 * time.Millisecond,
		TORPI:            2100 * time.Millisecond,
		OTConnectionSize: 504,
		TOConnectionSize: 504,
		VendorID:         0x1337,
		OriginatorSerial: uint32(rand.Int31()),
		TransportTrigger: 0xA3,
	}
}

func rpiMicros(d time.Duration) uint32 {
	return uint32(d.Microseconds())
}

// BuildForwardOpenRequest builds a Forward Open CIP request, using the
// Large (32-bit connection parameter) form when large is true and the
// standard (16-bit) form otherwise, per spec.md §4.4's "≤511 bytes uses
// 0x54, larger connection sizes use 0x5B" rule.
func BuildForwardOpenRequest(cfg ForwardOpenConfig, large bool) ([]byte, uint16, error) {
	if len(cfg.ConnectionPath) == 0 {
		return nil, 0, wireerr.New(wireerr.ErrBadParam, "forward open: empty connection path")
	}

	connSerial := uint16(rand.Intn(65000))
	toConnID := uint32(rand.Intn(1<<31 - 1))

	const connParamsBase = uint16(0x4200) // owned, point-to-point, data class 3
	var otParams, toParams uint32
	if large {
		otParams = uint32(connParamsBase)<<16 | uint32(cfg.OTConnectionSize)
		toParams = uint32(connParamsBase)<<16 | uint32(cfg.TOConnectionSize)
	} else {
		otParams = uint32(connParamsBase) | uint32(cfg.OTConnectionSize)
		toParams = uint32(connParamsBase) | uint32(cfg.TOConnectionSize)
	}

	svc := SvcForwardOpen
	if large {
		svc = SvcForwardOpenLarge
	}

	cmPath, err := Path().Class(ClassConnectionManager).Instance(InstanceConnManager).Build()
	if err != nil {
		return nil, 0, err
	}

	data := make([]byte, 0, 40+len(cfg.ConnectionPath))
	data = append(data, 0x0A, 0x0E) // priority/tick time, timeout ticks
	data = binary.LittleEndian.AppendUint32(data, 0x20000002)
	data = binary.LittleEndian.AppendUint32(data, toConnID)
	data = binary.LittleEndian.AppendUint16(data, connSerial)
	data = binary.LittleEndian.AppendUint16(data, cfg.VendorID)
	data = binary.LittleEndian.AppendUint32(data, cfg.OriginatorSerial)
	data = binary.LittleEndian.AppendUint32(data, 0x03) // timeout multiplier, 3 reserved bytes
	data = binary.LittleEndian.AppendUint32(data, rpiMicros(cfg.OTRPI))
	if large {
		data = binary.LittleEndian.AppendUint32(data, otParams)
	} else {
		data = binary.LittleEndian.AppendUint16(data, uint16(otParams))
	}
	data = binary.LittleEndian.AppendUint32(data, rpiMicros(cfg.TORPI))
	if large {
		data = binary.LittleEndian.AppendUint32(data, toParams)
	} else {
		data = binary.LittleEndian.AppendUint16(data, uint16(toParams))
	}
	data = append(data, cfg.TransportTrigger)
	data = append(data, byte(len(cfg.ConnectionPath)/2))
	data = append(data, cfg.ConnectionPath...)

	req := make([]byte, 0, 2+len(cmPath)+len(data))
	req = append(req, svc, cmPath.WordLen())
	req = append(req, cmPath...)
	req = append(req, data...)
	return req, connSerial, nil
}

// ForwardOpenResponse is the parsed success-path reply body (after the
// message-router service/status header has already been stripped).
type ForwardOpenResponse struct {
	OTConnectionID   uint32
	TOConnectionID   uint32
	ConnectionSerial uint16
	VendorID         uint16
	OriginatorSerial uint32
	OTRPI            uint32
	TORPI            uint32
}

func ParseForwardOpenResponse(data []byte) (*ForwardOpenResponse, error) {
	if len(data) < 26 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "forward open response needs 26 bytes, got %d", len(data))
	}
	return &ForwardOpenResponse{
		OTConnectionID:   binary.LittleEndian.Uint32(data[0:4]),
		TOConnectionID:   binary.LittleEndian.Uint32(data[4:8]),
		ConnectionSerial: binary.LittleEndian.Uint16(data[8:10]),
		VendorID:         binary.LittleEndian.Uint16(data[10:12]),
		OriginatorSerial: binary.LittleEndian.Uint32(data[12:16]),
		OTRPI:            binary.LittleEndian.Uint32(data[16:20]),
		TORPI:            binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// ForwardOpenRequestData is the parsed body of an inbound Forward Open
// request, as the AB test-harness server must decode it to play the role
// BuildForwardOpenRequest's caller normally targets.
type ForwardOpenRequestData struct {
	OTConnectionID   uint32
	TOConnectionID   uint32
	ConnectionSerial uint16
	VendorID         uint16
	OriginatorSerial uint32
	OTRPI            time.Duration
	TORPI            time.Duration
	OTConnectionSize uint16
	TOConnectionSize uint16
	TransportTrigger byte
	ConnectionPath   []byte
}

// ParseForwardOpenRequest decodes a Forward Open request body built by
// BuildForwardOpenRequest. large must match the service code the request
// arrived on (SvcForwardOpenLarge uses 32-bit connection-parameter
// fields, SvcForwardOpen uses 16-bit ones).
func ParseForwardOpenRequest(data []byte, large bool) (*ForwardOpenRequestData, error) {
	const fixedLen = 2 + 4 + 4 + 2 + 2 + 4 + 4 + 4 // through O->T RPI
	paramWidth := 2
	if large {
		paramWidth = 4
	}
	need := fixedLen + paramWidth + 4 + paramWidth + 1 + 1
	if len(data) < need {
		return nil, wireerr.New(wireerr.ErrTooSmall, "forward open request needs at least %d bytes, got %d", need, len(data))
	}

	pos := 2 // priority/tick time, timeout ticks
	out := &ForwardOpenRequestData{}
	out.OTConnectionID = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	out.TOConnectionID = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	out.ConnectionSerial = binary.LittleEndian.Uint16(data[pos : pos+2])
	pos += 2
	out.VendorID = binary.LittleEndian.Uint16(data[pos : pos+2])
	pos += 2
	out.OriginatorSerial = binary.LittleEndian.Uint32(data[pos : pos+4])
	pos += 4
	pos += 4 // timeout multiplier + 3 reserved bytes

	out.OTRPI = time.Duration(binary.LittleEndian.Uint32(data[pos:pos+4])) * time.Microsecond
	pos += 4
	if large {
		out.OTConnectionSize = uint16(binary.LittleEndian.Uint32(data[pos : pos+4]))
	} else {
		out.OTConnectionSize = binary.LittleEndian.Uint16(data[pos:pos+2]) & 0x01FF
	}
	pos += paramWidth

	out.TORPI = time.Duration(binary.LittleEndian.Uint32(data[pos:pos+4])) * time.Microsecond
	pos += 4
	if large {
		out.TOConnectionSize = uint16(binary.LittleEndian.Uint32(data[pos : pos+4]))
	} else {
		out.TOConnectionSize = binary.LittleEndian.Uint16(data[pos:pos+2]) & 0x01FF
	}
	pos += paramWidth

	out.TransportTrigger = data[pos]
	pos++
	pathWords := int(data[pos])
	pos++
	pathLen := pathWords * 2
	if len(data) < pos+pathLen {
		return nil, wireerr.New(wireerr.ErrTooSmall, "forward open request connection path needs %d bytes, got %d", pathLen, len(data)-pos)
	}
	out.ConnectionPath = append([]byte{}, data[pos:pos+pathLen]...)
	return out, nil
}

// BuildForwardOpenResponse renders the success-path reply body
// ParseForwardOpenResponse expects: the target's assigned O->T
// connection id, the originator's requested T->O id echoed back
// unchanged, and the connection/vendor/serial triple that correlates the
// reply to req.
func BuildForwardOpenResponse(req *ForwardOpenRequestData, assignedOTConnID uint32) []byte {
	data := make([]byte, 0, 26)
	data = binary.LittleEndian.AppendUint32(data, assignedOTConnID)
	data = binary.LittleEndian.AppendUint32(data, req.TOConnectionID)
	data = binary.LittleEndian.AppendUint16(data, req.ConnectionSerial)
	data = binary.LittleEndian.AppendUint16(data, req.VendorID)
	data = binary.LittleEndian.AppendUint32(data, req.OriginatorSerial)
	data = binary.LittleEndian.AppendUint32(data, rpiMicros(req.OTRPI))
	data = binary.LittleEndian.AppendUint32(data, rpiMicros(req.TORPI))
	data = append(data, 0x00, 0x00) // application reply size, reserved
	return data
}

// BuildForwardCloseRequest builds a Forward Close (0x4E) request against
// an established Connection.
func BuildForwardCloseRequest(conn *Connection, connectionPath []byte) ([]byte, error) {
	if conn == nil {
		return nil, wireerr.New(wireerr.ErrNullPtr, "forward close: nil connection")
	}
	cmPath, err := Path().Class(ClassConnectionManager).Instance(InstanceConnManager).Build()
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, 12+len(connectionPath)+1)
	data = append(data, 0x0A, 0x01)
	data = binary.LittleEndian.AppendUint16(data, conn.SerialNumber)
	data = binary.LittleEndian.AppendUint16(data, conn.VendorID)
	data = binary.LittleEndian.AppendUint32(data, conn.OrigSerial)

	pathWords := byte(len(connectionPath) / 2)
	if len(connectionPath)%2 != 0 {
		pathWords++
	}
	data = append(data, pathWords, 0x00)
	data = append(data, connectionPath...)
	if len(connectionPath)%2 != 0 {
		data = append(data, 0x00)
	}

	req := make([]byte, 0, 2+len(cmPath)+len(data))
	req = append(req, SvcForwardClose, cmPath.WordLen())
	req = append(req, cmPath...)
	req = append(req, data...)
	return req, nil
}

// ParseForwardCloseRequest decodes a Forward Close request body built by
// BuildForwardCloseRequest, enough for the test-harness server to
// correlate it against the Connection it opened.
func ParseForwardCloseRequest(data []byte) (connSerial uint16, vendorID uint16, origSerial uint32, err error) {
	if len(data) < 10 {
		return 0, 0, 0, wireerr.New(wireerr.ErrTooSmall, "forward close request needs at least 10 bytes, got %d", len(data))
	}
	connSerial = binary.LittleEndian.Uint16(data[2:4])
	vendorID = binary.LittleEndian.Uint16(data[4:6])
	origSerial = binary.LittleEndian.Uint32(data[6:10])
	return connSerial, vendorID, origSerial, nil
}
