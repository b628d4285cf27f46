package pccc

import "github.com/wartag/tagwire/internal/wireerr"

// EncodeValue appends val to data using PCCC's variable-width integer
// encoding: one byte if val <= 254, else 0xFF followed by a little-endian
// 16-bit value. Grounded on pccc.c's encode_data.
func EncodeValue(data []byte, val int) []byte {
	if val <= 254 {
		return append(data, byte(val))
	}
	return append(data, 0xFF, byte(val&0xFF), byte((val>>8)&0xFF))
}

// EncodePLC5Address encodes a PCCC address using the PLC-5 level-byte
// scheme: a leading flags byte (bit 1 = file number present, bit 2 =
// element present, bit 3 = sub-element present) followed by each present
// level's value in EncodeValue's variable-width form.
//
// Grounded on pccc.c's plc5_encode_address: the level byte always sets
// bits for file+element (0x06) and additionally sets bit 3 (0x08) when a
// sub-element is present.
func EncodePLC5Address(addr *Addr) []byte {
	levelByte := byte(0x06)
	out := make([]byte, 1, 10)
	out = EncodeValue(out, addr.File)
	out = EncodeValue(out, addr.Element)
	if addr.SubElement >= 0 {
		levelByte |= 0x08
		out = EncodeValue(out, addr.SubElement)
	}
	out[0] = levelByte
	return out
}

// DecodeValue decodes one PCCC variable-width integer from the front of
// data, returning the value and the number of bytes consumed — the
// mirror image of EncodeValue, needed by the AB test-harness server to
// decode addresses a real client encodes.
func DecodeValue(data []byte) (int, int, error) {
	if len(data) < 1 {
		return 0, 0, wireerr.New(wireerr.ErrTooSmall, "pccc value needs at least 1 byte, got 0")
	}
	if data[0] != 0xFF {
		return int(data[0]), 1, nil
	}
	if len(data) < 3 {
		return 0, 0, wireerr.New(wireerr.ErrTooSmall, "pccc extended value needs 3 bytes, got %d", len(data))
	}
	return int(data[1]) | int(data[2])<<8, 3, nil
}

// DecodePLC5Address decodes a PLC-5 level-byte address, the mirror image
// of EncodePLC5Address. fileType is supplied by the caller since the
// level-byte encoding carries no file-type-letter information of its
// own — that comes from the symbolic name the PCCC Execute request's
// requester path never repeats on this leg of the protocol, so the
// server must already know which data-table file the command targets.
func DecodePLC5Address(data []byte, fileType FileType) (*Addr, int, error) {
	if len(data) < 1 {
		return nil, 0, wireerr.New(wireerr.ErrTooSmall, "plc5 address needs at least 1 byte, got 0")
	}
	levelByte := data[0]
	pos := 1
	addr := &Addr{FileType: fileType, SubElement: -1}

	if levelByte&0x02 != 0 {
		n, used, err := DecodeValue(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		addr.File = n
		pos += used
	}
	if levelByte&0x04 != 0 {
		n, used, err := DecodeValue(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		addr.Element = n
		pos += used
	}
	if levelByte&0x08 != 0 {
		n, used, err := DecodeValue(data[pos:])
		if err != nil {
			return nil, 0, err
		}
		addr.SubElement = n
		pos += used
	}
	return addr, pos, nil
}

// DecodeSLCAddress decodes an SLC/MicroLogix raw-quadruple address, the
// mirror image of EncodeSLCAddress.
func DecodeSLCAddress(data []byte) (*Addr, int, error) {
	pos := 0
	file, used, err := DecodeValue(data[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += used
	ft, used, err := DecodeValue(data[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += used
	elem, used, err := DecodeValue(data[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += used
	sub, used, err := DecodeValue(data[pos:])
	if err != nil {
		return nil, 0, err
	}
	pos += used
	return &Addr{FileType: FileType(ft), File: file, Element: elem, SubElement: sub}, pos, nil
}

// EncodeSLCAddress encodes a PCCC address using the SLC/MicroLogix
// raw-quadruple scheme: file number, file type, element number,
// sub-element number, each in EncodeValue's variable-width form — no
// level-byte flags, unlike the PLC-5 form.
//
// Grounded on pccc.c's slc_encode_address.
func EncodeSLCAddress(addr *Addr) ([]byte, error) {
	if addr.FileType == FileUnknown {
		return nil, wireerr.New(wireerr.ErrBadParam, "slc address: file type cannot be decoded")
	}
	out := make([]byte, 0, 10)
	out = EncodeValue(out, addr.File)
	out = EncodeValue(out, int(addr.FileType))
	out = EncodeValue(out, addr.Element)
	sub := addr.SubElement
	if sub < 0 {
		sub = 0
	}
	out = EncodeValue(out, sub)
	return out, nil
}
