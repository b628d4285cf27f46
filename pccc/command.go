package pccc

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Command codes for the PCCC "CMD" byte (spec.md §4.3.1). 0x0F covers the
// typed read/write/protected-bit-write family used against data-table
// files; the function byte (FNC) selects the specific operation.
const (
	CmdTypedReadWrite byte = 0x0F

	FuncWordRangeRead     byte = 0x01
	FuncWordRangeWrite    byte = 0x00
	FuncTypedRead         byte = 0xA2
	FuncTypedWrite        byte = 0xAA
	FuncProtectedBitWrite byte = 0xAB
)

// Header is the fixed 5-byte PCCC command header common to every command:
// command, status (0 in a request), sequence number, function.
type Header struct {
	Command  byte
	Status   byte
	SeqNum   uint16
	Function byte
}

func (h Header) bytes() []byte {
	out := make([]byte, 0, 5)
	out = append(out, h.Command, h.Status)
	out = binary.LittleEndian.AppendUint16(out, h.SeqNum)
	out = append(out, h.Function)
	return out
}

// ParseHeader decodes the fixed 5-byte header from a PCCC command or
// reply (the reply omits Function; use ParseReplyHeader for that case).
func ParseHeader(raw []byte) (Header, []byte, error) {
	if len(raw) < 5 {
		return Header{}, nil, wireerr.New(wireerr.ErrTooSmall, "pccc header needs 5 bytes, got %d", len(raw))
	}
	return Header{
		Command:  raw[0],
		Status:   raw[1],
		SeqNum:   binary.LittleEndian.Uint16(raw[2:4]),
		Function: raw[4],
	}, raw[5:], nil
}

// ReplyHeader is the 4-byte header on every PCCC reply: command, status,
// sequence number. A non-zero Status means the reply body holds an error
// byte (DecodeError) instead of data.
type ReplyHeader struct {
	Command byte
	Status  byte
	SeqNum  uint16
}

func ParseReplyHeader(raw []byte) (ReplyHeader, []byte, error) {
	if len(raw) < 4 {
		return ReplyHeader{}, nil, wireerr.New(wireerr.ErrTooSmall, "pccc reply header needs 4 bytes, got %d", len(raw))
	}
	return ReplyHeader{
		Command: raw[0],
		Status:  raw[1],
		SeqNum:  binary.LittleEndian.Uint16(raw[2:4]),
	}, raw[4:], nil
}

func (h ReplyHeader) bytes() []byte {
	out := make([]byte, 0, 4)
	out = append(out, h.Command, h.Status)
	return binary.LittleEndian.AppendUint16(out, h.SeqNum)
}

// Bytes renders the 4-byte reply header, exported so the AB test-harness
// server can build PCCC Execute replies without a parallel encoder.
func (h ReplyHeader) Bytes() []byte {
	return h.bytes()
}

// DHPRoutingHeader is the optional 8-byte DH+ routing preamble (dest
// link/node, src link/node) used when a PCCC command must tunnel across a
// DH+ link behind a ControlLogix gateway. This is a supplemented feature
// not present in spec.md's distillation — see SPEC_FULL.md.
type DHPRoutingHeader struct {
	DestLink uint16
	DestNode uint16
	SrcLink  uint16
	SrcNode  uint16
}

func (h DHPRoutingHeader) Bytes() []byte {
	out := make([]byte, 0, 8)
	out = binary.LittleEndian.AppendUint16(out, h.DestLink)
	out = binary.LittleEndian.AppendUint16(out, h.DestNode)
	out = binary.LittleEndian.AppendUint16(out, h.SrcLink)
	out = binary.LittleEndian.AppendUint16(out, h.SrcNode)
	return out
}

func ParseDHPRoutingHeader(raw []byte) (DHPRoutingHeader, []byte, error) {
	if len(raw) < 8 {
		return DHPRoutingHeader{}, nil, wireerr.New(wireerr.ErrTooSmall, "dh+ routing header needs 8 bytes, got %d", len(raw))
	}
	return DHPRoutingHeader{
		DestLink: binary.LittleEndian.Uint16(raw[0:2]),
		DestNode: binary.LittleEndian.Uint16(raw[2:4]),
		SrcLink:  binary.LittleEndian.Uint16(raw[4:6]),
		SrcNode:  binary.LittleEndian.Uint16(raw[6:8]),
	}, raw[8:], nil
}

// PLC5ReadCommand builds a PLC-5 typed word-range read request: the
// 9-byte PCCC/offset/size header, followed by the level-byte-encoded
// address.
func PLC5ReadCommand(seq uint16, addr *Addr, offsetWords, transferWords uint16) []byte {
	out := Header{Command: CmdTypedReadWrite, Function: FuncTypedRead, SeqNum: seq}.bytes()
	out = binary.LittleEndian.AppendUint16(out, offsetWords)
	out = binary.LittleEndian.AppendUint16(out, transferWords)
	out = append(out, EncodePLC5Address(addr)...)
	return out
}

// PLC5WriteCommand builds a PLC-5 typed word-range write request.
func PLC5WriteCommand(seq uint16, addr *Addr, offsetWords, transferWords uint16, value []byte) []byte {
	out := Header{Command: CmdTypedReadWrite, Function: FuncTypedWrite, SeqNum: seq}.bytes()
	out = binary.LittleEndian.AppendUint16(out, offsetWords)
	out = binary.LittleEndian.AppendUint16(out, transferWords)
	out = append(out, EncodePLC5Address(addr)...)
	out = append(out, value...)
	return out
}

// SLCReadCommand builds an SLC/MicroLogix typed read request: the 5-byte
// header plus a one-byte transfer size (in bytes, not words) followed by
// the raw-quadruple address.
func SLCReadCommand(seq uint16, addr *Addr, transferBytes byte) ([]byte, error) {
	enc, err := EncodeSLCAddress(addr)
	if err != nil {
		return nil, err
	}
	out := Header{Command: CmdTypedReadWrite, Function: FuncTypedRead, SeqNum: seq}.bytes()
	out = append(out, transferBytes)
	out = append(out, enc...)
	return out, nil
}

// SLCWriteCommand builds an SLC/MicroLogix typed write request.
func SLCWriteCommand(seq uint16, addr *Addr, value []byte) ([]byte, error) {
	enc, err := EncodeSLCAddress(addr)
	if err != nil {
		return nil, err
	}
	out := Header{Command: CmdTypedReadWrite, Function: FuncTypedWrite, SeqNum: seq}.bytes()
	out = append(out, byte(len(value)))
	out = append(out, enc...)
	out = append(out, value...)
	return out, nil
}

// DataTypeByte decodes the "DT byte" that precedes typed-read reply data:
// a nibble pair (type, size) where a high bit in either nibble means "the
// low 3 bits give the byte count of an out-of-line big-endian-in-PCCC's
// own little quirky sense value that follows", per pccc.c's
// pccc_decode_dt_byte.
type DataTypeByte struct {
	Type int
	Size int
}

// EncodeDataTypeByte renders a DataTypeByte as a single DT byte, the
// mirror image of DecodeDataTypeByte for the test-harness server's typed
// read replies. It only emits the simple nibble-pair form (type and size
// both <=7) since every fixture this module's server targets fits that
// range; a caller needing the 0xF0-extended form should build it
// directly.
func EncodeDataTypeByte(dt DataTypeByte) ([]byte, error) {
	if dt.Type < 0 || dt.Type > 0x07 || dt.Size < 0 || dt.Size > 0x07 {
		return nil, wireerr.New(wireerr.ErrUnsupported, "dt byte: type %d / size %d exceeds the simple nibble-pair range 0-7", dt.Type, dt.Size)
	}
	return []byte{byte(dt.Type)<<4 | byte(dt.Size)}, nil
}

// DecodeDataTypeByte decodes data[0:] starting with the DT byte, returning
// the decoded type/size and the number of bytes consumed.
func DecodeDataTypeByte(data []byte) (DataTypeByte, int, error) {
	if len(data) < 2 {
		return DataTypeByte{}, 0, wireerr.New(wireerr.ErrTooSmall, "dt byte needs at least 2 bytes, got %d", len(data))
	}
	pos := 0
	dByteType := (data[pos] & 0xF0) >> 4
	dByteSize := data[pos] & 0x0F
	pos++

	dType := int(dByteType)
	if dByteType&0x08 != 0 {
		n := int(dByteType & 0x07)
		if n > 4 || pos+n > len(data) {
			return DataTypeByte{}, 0, wireerr.New(wireerr.ErrBadData, "dt byte: malformed extended type field")
		}
		dType = 0
		for i := 0; i < n; i++ {
			dType = dType<<8 | int(data[pos])
			pos++
		}
	}

	dSize := int(dByteSize)
	if dByteSize&0x08 != 0 {
		n := int(dByteSize & 0x07)
		if n > 4 || pos+n > len(data) {
			return DataTypeByte{}, 0, wireerr.New(wireerr.ErrBadData, "dt byte: malformed extended size field")
		}
		dSize = 0
		for i := 0; i < n; i++ {
			dSize = dSize<<8 | int(data[pos])
			pos++
		}
	}

	return DataTypeByte{Type: dType, Size: dSize}, pos, nil
}
