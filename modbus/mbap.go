// Package modbus implements the Modbus/TCP wire protocol spec.md §4.7
// requires: the MBAP header, PDU framing, and the function-code set
// (0x01/0x02 read coils/discrete inputs, 0x03/0x04 read holding/input
// registers, 0x05/0x06 write single coil/register, 0x0F/0x10 write
// multiple coils/registers) plus the exception-response encoding.
//
// Grounded on the function-code and exception-code constants from
// _examples/other_examples/02e7f54f_grid-x-modbus__modbus.go.go (the
// grid-x/modbus client in the retrieval pack) and the MBAP framing shape
// common to every TCP-transport Modbus implementation in the pack.
package modbus

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Function codes.
const (
	FuncReadCoils                  byte = 0x01
	FuncReadDiscreteInputs         byte = 0x02
	FuncReadHoldingRegisters       byte = 0x03
	FuncReadInputRegisters         byte = 0x04
	FuncWriteSingleCoil            byte = 0x05
	FuncWriteSingleRegister        byte = 0x06
	FuncWriteMultipleCoils         byte = 0x0F
	FuncWriteMultipleRegisters     byte = 0x10
)

// ExceptionMask is OR'd with a function code to form an exception reply.
const ExceptionMask byte = 0x80

// Exception codes (Modbus Application Protocol v1.1b §7).
const (
	ExcIllegalFunction                    byte = 0x01
	ExcIllegalDataAddress                  byte = 0x02
	ExcIllegalDataValue                    byte = 0x03
	ExcServerDeviceFailure                 byte = 0x04
	ExcAcknowledge                         byte = 0x05
	ExcServerDeviceBusy                    byte = 0x06
	ExcMemoryParityError                   byte = 0x08
	ExcGatewayPathUnavailable               byte = 0x0A
	ExcGatewayTargetDeviceFailedToRespond   byte = 0x0B
)

// Per spec.md §4.7's bounds.
const (
	MaxReadBits       = 2000
	MaxReadRegisters   = 125
	MaxWriteBits       = 1968
	MaxWriteRegisters = 123
)

const MBAPHeaderLen = 7

// MBAPHeader is the 7-byte MBAP header prefixing every Modbus/TCP message.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0 for Modbus
	Length        uint16 // byte count of unit id + PDU that follows
	UnitID        byte
}

func (h MBAPHeader) Bytes() []byte {
	out := make([]byte, 0, MBAPHeaderLen)
	out = binary.BigEndian.AppendUint16(out, h.TransactionID)
	out = binary.BigEndian.AppendUint16(out, h.ProtocolID)
	out = binary.BigEndian.AppendUint16(out, h.Length)
	out = append(out, h.UnitID)
	return out
}

func ParseMBAPHeader(raw []byte) (MBAPHeader, error) {
	if len(raw) < MBAPHeaderLen {
		return MBAPHeader{}, wireerr.New(wireerr.ErrTooSmall, "mbap header needs %d bytes, got %d", MBAPHeaderLen, len(raw))
	}
	return MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(raw[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(raw[2:4]),
		Length:        binary.BigEndian.Uint16(raw[4:6]),
		UnitID:        raw[6],
	}, nil
}

// Frame is a full Modbus/TCP message: MBAP header plus PDU (function code
// + data).
type Frame struct {
	Header MBAPHeader
	PDU    []byte // function code byte followed by its data
}

// Bytes renders the frame, computing Header.Length from the PDU so
// callers never have to keep the two in sync by hand.
func (f Frame) Bytes() []byte {
	h := f.Header
	h.Length = uint16(1 + len(f.PDU))
	out := h.Bytes()
	out = append(out, f.PDU...)
	return out
}

// ParseFrame decodes a full MBAP+PDU message. Unlike EIP, Modbus/TCP has
// no unsolicited "extra bytes" convention, so trailing bytes past
// Header.Length are reported as a framing error rather than ignored.
func ParseFrame(raw []byte) (Frame, error) {
	h, err := ParseMBAPHeader(raw)
	if err != nil {
		return Frame{}, err
	}
	if h.ProtocolID != 0 {
		return Frame{}, wireerr.New(wireerr.ErrBadData, "mbap protocol id must be 0, got %d", h.ProtocolID)
	}
	body := raw[MBAPHeaderLen:]
	need := int(h.Length) - 1 // Length includes the unit id byte already consumed
	if need < 0 || len(body) < need {
		return Frame{}, wireerr.New(wireerr.ErrTooSmall, "mbap pdu needs %d bytes, got %d", need, len(body))
	}
	if len(body) > need {
		return Frame{}, wireerr.New(wireerr.ErrBadData, "mbap frame has %d bytes past its declared length", len(body)-need)
	}
	return Frame{Header: h, PDU: body}, nil
}

// IsException reports whether a PDU's function-code byte marks an
// exception response.
func IsException(pdu []byte) bool {
	return len(pdu) > 0 && pdu[0]&ExceptionMask != 0
}

// ExceptionResponse builds a 2-byte exception PDU.
func ExceptionResponse(functionCode byte, exceptionCode byte) []byte {
	return []byte{functionCode | ExceptionMask, exceptionCode}
}

// ParseException decodes an exception PDU, returning the original
// function code and the exception code.
func ParseException(pdu []byte) (functionCode byte, exceptionCode byte, err error) {
	if len(pdu) < 2 {
		return 0, 0, wireerr.New(wireerr.ErrTooSmall, "exception pdu needs 2 bytes, got %d", len(pdu))
	}
	return pdu[0] &^ ExceptionMask, pdu[1], nil
}
