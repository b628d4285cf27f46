// Package eip implements the EtherNet/IP encapsulation layer: the 24-byte
// encapsulation header, the Common Packet Format (CPF) item framing it
// carries, and the handful of encapsulation commands spec.md §4.2 requires
// (RegisterSession, UnRegisterSession, SendRRData, SendUnitData,
// ListServices, ListIdentity).
//
// Grounded on yatesdr-warlogix/eip/encap.go and eip/cpf.go, generalized
// from the teacher's ControlLogix-only client into a codec usable by both
// a client session and the AB test-harness server.
package eip

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Command identifies an encapsulation command.
type Command uint16

const (
	CommandNOP             Command = 0x0000
	CommandListServices    Command = 0x0004
	CommandListIdentity    Command = 0x0063
	CommandListInterfaces  Command = 0x0064
	CommandRegisterSession Command = 0x0065
	CommandUnRegisterSess  Command = 0x0066
	CommandSendRRData      Command = 0x006F
	CommandSendUnitData    Command = 0x0070
)

const HeaderLen = 24

// Status is the encapsulation-level status code (distinct from CIP general
// status, which travels inside the payload).
type Status uint32

const (
	StatusSuccess             Status = 0x0000
	StatusInvalidCommand      Status = 0x0001
	StatusInsufficientMemory  Status = 0x0002
	StatusIncorrectData       Status = 0x0003
	StatusInvalidSessionHdl   Status = 0x0064
	StatusInvalidLength       Status = 0x0065
	StatusUnsupportedProtoRev Status = 0x0069
)

// Header is the 24-byte encapsulation header common to every EIP message.
type Header struct {
	Command       Command
	Length        uint16
	SessionHandle uint32
	Status        Status
	Context       [8]byte
	Options       uint32
}

// Message is a full encapsulation message: header plus its payload.
type Message struct {
	Header Header
	Data   []byte
}

// Bytes renders the message as the little-endian wire encoding.
func (m *Message) Bytes() []byte {
	buf := make([]byte, 0, HeaderLen+len(m.Data))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.Header.Command))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Data)))
	buf = binary.LittleEndian.AppendUint32(buf, m.Header.SessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Header.Status))
	buf = append(buf, m.Header.Context[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.Header.Options)
	buf = append(buf, m.Data...)
	return buf
}

// ParseHeader decodes the fixed 24-byte header only; callers then read
// header.Length more bytes for the payload before calling ParseMessage, or
// call ParseMessage directly against a buffer that already holds both.
func ParseHeader(raw []byte) (Header, error) {
	if len(raw) < HeaderLen {
		return Header{}, wireerr.New(wireerr.ErrTooSmall, "eip header needs %d bytes, got %d", HeaderLen, len(raw))
	}
	return Header{
		Command:       Command(binary.LittleEndian.Uint16(raw[0:2])),
		Length:        binary.LittleEndian.Uint16(raw[2:4]),
		SessionHandle: binary.LittleEndian.Uint32(raw[4:8]),
		Status:        Status(binary.LittleEndian.Uint32(raw[8:12])),
		Context:       [8]byte(raw[12:20]),
		Options:       binary.LittleEndian.Uint32(raw[20:24]),
	}, nil
}

// ParseMessage decodes a header and its payload, requiring raw to hold at
// least header.Length bytes past the fixed header (fewer is ERR_TOO_SMALL).
// Data is exactly those header.Length bytes; anything after them in raw
// is ignored.
func ParseMessage(raw []byte) (*Message, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	body := raw[HeaderLen:]
	if len(body) < int(h.Length) {
		return nil, wireerr.New(wireerr.ErrTooSmall, "eip body needs %d bytes, got %d", h.Length, len(body))
	}
	return &Message{Header: h, Data: body[:h.Length]}, nil
}

// CommandData wraps the interface-handle + timeout preamble common to
// SendRRData and SendUnitData payloads (spec.md §4.2).
type CommandData struct {
	InterfaceHandle uint32
	Timeout         uint16
	Packet          []byte
}

func (r *CommandData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint32(nil, r.InterfaceHandle)
	raw = binary.LittleEndian.AppendUint16(raw, r.Timeout)
	raw = append(raw, r.Packet...)
	return raw
}

func ParseCommandData(raw []byte) (*CommandData, error) {
	if len(raw) < 6 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "command data needs 6 bytes, got %d", len(raw))
	}
	return &CommandData{
		InterfaceHandle: binary.LittleEndian.Uint32(raw[:4]),
		Timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		Packet:          raw[6:],
	}, nil
}

// RegisterSessionData is the 4-byte payload of RegisterSession in both
// directions: protocol version and option flags.
type RegisterSessionData struct {
	ProtocolVersion uint16
	OptionFlags     uint16
}

func (r *RegisterSessionData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, r.ProtocolVersion)
	raw = binary.LittleEndian.AppendUint16(raw, r.OptionFlags)
	return raw
}

func ParseRegisterSessionData(raw []byte) (*RegisterSessionData, error) {
	if len(raw) < 4 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "register session data needs 4 bytes, got %d", len(raw))
	}
	return &RegisterSessionData{
		ProtocolVersion: binary.LittleEndian.Uint16(raw[0:2]),
		OptionFlags:     binary.LittleEndian.Uint16(raw[2:4]),
	}, nil
}

// NewRequest builds an outbound Message carrying the given session handle
// and sender context; callers pass a session handle of 0 for
// RegisterSession (the only command sent before a session handle is known).
func NewRequest(cmd Command, sessionHandle uint32, context [8]byte, data []byte) *Message {
	return &Message{
		Header: Header{
			Command:       cmd,
			SessionHandle: sessionHandle,
			Context:       context,
		},
		Data: data,
	}
}
