package modbus

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// ReadRequest builds the PDU for FC 0x01/0x02/0x03/0x04: a function code
// followed by the big-endian starting address and quantity.
func ReadRequest(function byte, startAddr, quantity uint16) ([]byte, error) {
	switch function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		if quantity == 0 || quantity > MaxReadBits {
			return nil, wireerr.New(wireerr.ErrBadParam, "read bits: quantity %d out of range [1,%d]", quantity, MaxReadBits)
		}
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		if quantity == 0 || quantity > MaxReadRegisters {
			return nil, wireerr.New(wireerr.ErrBadParam, "read registers: quantity %d out of range [1,%d]", quantity, MaxReadRegisters)
		}
	default:
		return nil, wireerr.New(wireerr.ErrUnsupported, "not a read function code: 0x%02x", function)
	}
	pdu := []byte{function}
	pdu = binary.BigEndian.AppendUint16(pdu, startAddr)
	pdu = binary.BigEndian.AppendUint16(pdu, quantity)
	return pdu, nil
}

// ReadResponse builds the PDU reply to a read request: function code,
// byte count, then the packed data (bit-packed for coils/discrete
// inputs, 16-bit big-endian words for registers).
func ReadResponse(function byte, data []byte) []byte {
	pdu := []byte{function, byte(len(data))}
	return append(pdu, data...)
}

// ParseReadResponse splits a read-function PDU into its byte-count-prefixed
// data payload.
func ParseReadResponse(pdu []byte) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "read response needs 2 bytes, got %d", len(pdu))
	}
	count := int(pdu[1])
	if len(pdu) < 2+count {
		return nil, wireerr.New(wireerr.ErrTooSmall, "read response needs %d data bytes, got %d", count, len(pdu)-2)
	}
	return pdu[2 : 2+count], nil
}

// PackBits packs a []bool into the Modbus bit-packed byte layout (bit 0
// of byte 0 is the first coil/discrete input, LSB first).
func PackBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackBits unpacks count bits from Modbus bit-packed bytes.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// WriteSingleCoilRequest builds the PDU for FC 0x05. Modbus represents an
// "on" coil as 0xFF00 and "off" as 0x0000 — any other value is a
// protocol violation some servers reject and others accept; this module
// always emits the canonical values.
func WriteSingleCoilRequest(addr uint16, on bool) []byte {
	val := uint16(0x0000)
	if on {
		val = 0xFF00
	}
	pdu := []byte{FuncWriteSingleCoil}
	pdu = binary.BigEndian.AppendUint16(pdu, addr)
	pdu = binary.BigEndian.AppendUint16(pdu, val)
	return pdu
}

// WriteSingleRegisterRequest builds the PDU for FC 0x06.
func WriteSingleRegisterRequest(addr, value uint16) []byte {
	pdu := []byte{FuncWriteSingleRegister}
	pdu = binary.BigEndian.AppendUint16(pdu, addr)
	pdu = binary.BigEndian.AppendUint16(pdu, value)
	return pdu
}

// ParseWriteSingleResponse decodes the echoed address+value common to FC
// 0x05/0x06 success replies (the server echoes the request verbatim).
func ParseWriteSingleResponse(pdu []byte) (addr, value uint16, err error) {
	if len(pdu) < 5 {
		return 0, 0, wireerr.New(wireerr.ErrTooSmall, "write-single response needs 5 bytes, got %d", len(pdu))
	}
	return binary.BigEndian.Uint16(pdu[1:3]), binary.BigEndian.Uint16(pdu[3:5]), nil
}

// WriteMultipleCoilsRequest builds the PDU for FC 0x0F.
func WriteMultipleCoilsRequest(startAddr uint16, bits []bool) ([]byte, error) {
	if len(bits) == 0 || len(bits) > MaxWriteBits {
		return nil, wireerr.New(wireerr.ErrBadParam, "write coils: quantity %d out of range [1,%d]", len(bits), MaxWriteBits)
	}
	packed := PackBits(bits)
	pdu := []byte{FuncWriteMultipleCoils}
	pdu = binary.BigEndian.AppendUint16(pdu, startAddr)
	pdu = binary.BigEndian.AppendUint16(pdu, uint16(len(bits)))
	pdu = append(pdu, byte(len(packed)))
	pdu = append(pdu, packed...)
	return pdu, nil
}

// WriteMultipleRegistersRequest builds the PDU for FC 0x10.
func WriteMultipleRegistersRequest(startAddr uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > MaxWriteRegisters {
		return nil, wireerr.New(wireerr.ErrBadParam, "write registers: quantity %d out of range [1,%d]", len(values), MaxWriteRegisters)
	}
	pdu := []byte{FuncWriteMultipleRegisters}
	pdu = binary.BigEndian.AppendUint16(pdu, startAddr)
	pdu = binary.BigEndian.AppendUint16(pdu, uint16(len(values)))
	pdu = append(pdu, byte(len(values)*2))
	for _, v := range values {
		pdu = binary.BigEndian.AppendUint16(pdu, v)
	}
	return pdu, nil
}

// ParseWriteMultipleResponse decodes the echoed start-address+quantity
// common to FC 0x0F/0x10 success replies.
func ParseWriteMultipleResponse(pdu []byte) (startAddr, quantity uint16, err error) {
	if len(pdu) < 5 {
		return 0, 0, wireerr.New(wireerr.ErrTooSmall, "write-multiple response needs 5 bytes, got %d", len(pdu))
	}
	return binary.BigEndian.Uint16(pdu[1:3]), binary.BigEndian.Uint16(pdu[3:5]), nil
}
