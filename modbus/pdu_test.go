package modbus

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestReadRequestCoilsLayout(t *testing.T) {
	pdu, err := ReadRequest(FuncReadCoils, 0x0010, 8)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	want := []byte{FuncReadCoils, 0x00, 0x10, 0x00, 0x08}
	if string(pdu) != string(want) {
		t.Errorf("got % x, want % x", pdu, want)
	}
}

func TestReadRequestBoundsPerFunctionCode(t *testing.T) {
	cases := []struct {
		fn       byte
		quantity uint16
	}{
		{FuncReadCoils, 0},
		{FuncReadCoils, MaxReadBits + 1},
		{FuncReadDiscreteInputs, MaxReadBits + 1},
		{FuncReadHoldingRegisters, 0},
		{FuncReadHoldingRegisters, MaxReadRegisters + 1},
		{FuncReadInputRegisters, MaxReadRegisters + 1},
	}
	for _, c := range cases {
		if _, err := ReadRequest(c.fn, 0, c.quantity); wireerr.CodeOf(err) != wireerr.ErrBadParam {
			t.Errorf("ReadRequest(fn=0x%02x, qty=%d) code = %v, want ERR_BAD_PARAM", c.fn, c.quantity, wireerr.CodeOf(err))
		}
	}
}

func TestReadRequestUnsupportedFunctionCode(t *testing.T) {
	if _, err := ReadRequest(FuncWriteSingleCoil, 0, 1); wireerr.CodeOf(err) != wireerr.ErrUnsupported {
		t.Errorf("code = %v, want ERR_UNSUPPORTED", wireerr.CodeOf(err))
	}
}

func TestReadResponseRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	pdu := ReadResponse(FuncReadHoldingRegisters, data)
	got, err := ParseReadResponse(pdu)
	if err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got % x, want % x", got, data)
	}
}

func TestParseReadResponseTruncated(t *testing.T) {
	if _, err := ParseReadResponse([]byte{FuncReadHoldingRegisters, 0x04, 0x01}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestPackUnpackBitsRoundTrip(t *testing.T) {
	bits := []bool{true, false, true, true, false, false, false, false, true}
	packed := PackBits(bits)
	if len(packed) != 2 {
		t.Fatalf("packed len = %d, want 2", len(packed))
	}
	got := UnpackBits(packed, len(bits))
	for i := range bits {
		if got[i] != bits[i] {
			t.Errorf("bit %d = %v, want %v", i, got[i], bits[i])
		}
	}
}

func TestWriteSingleCoilRequestOnOff(t *testing.T) {
	on := WriteSingleCoilRequest(5, true)
	want := []byte{FuncWriteSingleCoil, 0x00, 0x05, 0xFF, 0x00}
	if string(on) != string(want) {
		t.Errorf("on = % x, want % x", on, want)
	}
	off := WriteSingleCoilRequest(5, false)
	want = []byte{FuncWriteSingleCoil, 0x00, 0x05, 0x00, 0x00}
	if string(off) != string(want) {
		t.Errorf("off = % x, want % x", off, want)
	}
}

func TestWriteSingleRegisterRequestAndParse(t *testing.T) {
	pdu := WriteSingleRegisterRequest(10, 0x1234)
	addr, value, err := ParseWriteSingleResponse(pdu)
	if err != nil {
		t.Fatalf("ParseWriteSingleResponse: %v", err)
	}
	if addr != 10 || value != 0x1234 {
		t.Errorf("addr=%d value=0x%04x", addr, value)
	}
}

func TestParseWriteSingleResponseTooShort(t *testing.T) {
	if _, _, err := ParseWriteSingleResponse([]byte{FuncWriteSingleCoil, 0, 5}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestWriteMultipleCoilsRequestLayout(t *testing.T) {
	bits := []bool{true, false, true}
	pdu, err := WriteMultipleCoilsRequest(0x0020, bits)
	if err != nil {
		t.Fatalf("WriteMultipleCoilsRequest: %v", err)
	}
	want := []byte{FuncWriteMultipleCoils, 0x00, 0x20, 0x00, 0x03, 0x01, 0x05}
	if string(pdu) != string(want) {
		t.Errorf("got % x, want % x", pdu, want)
	}
}

func TestWriteMultipleCoilsRequestBounds(t *testing.T) {
	if _, err := WriteMultipleCoilsRequest(0, nil); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("empty bits code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
	tooMany := make([]bool, MaxWriteBits+1)
	if _, err := WriteMultipleCoilsRequest(0, tooMany); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("too many bits code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
}

func TestWriteMultipleRegistersRequestLayout(t *testing.T) {
	values := []uint16{0x0001, 0x0002}
	pdu, err := WriteMultipleRegistersRequest(0x0030, values)
	if err != nil {
		t.Fatalf("WriteMultipleRegistersRequest: %v", err)
	}
	want := []byte{FuncWriteMultipleRegisters, 0x00, 0x30, 0x00, 0x02, 0x04, 0x00, 0x01, 0x00, 0x02}
	if string(pdu) != string(want) {
		t.Errorf("got % x, want % x", pdu, want)
	}
}

func TestWriteMultipleRegistersRequestBounds(t *testing.T) {
	tooMany := make([]uint16, MaxWriteRegisters+1)
	if _, err := WriteMultipleRegistersRequest(0, tooMany); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
}

func TestParseWriteMultipleResponse(t *testing.T) {
	pdu := []byte{FuncWriteMultipleRegisters, 0x00, 0x30, 0x00, 0x02}
	addr, qty, err := ParseWriteMultipleResponse(pdu)
	if err != nil {
		t.Fatalf("ParseWriteMultipleResponse: %v", err)
	}
	if addr != 0x30 || qty != 2 {
		t.Errorf("addr=%d qty=%d", addr, qty)
	}
}
