package modbus

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestMBAPHeaderRoundTrip(t *testing.T) {
	h := MBAPHeader{TransactionID: 0x0102, ProtocolID: 0, Length: 6, UnitID: 1}
	got, err := ParseMBAPHeader(h.Bytes())
	if err != nil {
		t.Fatalf("ParseMBAPHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestParseMBAPHeaderTooShort(t *testing.T) {
	if _, err := ParseMBAPHeader([]byte{1, 2, 3}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Header: MBAPHeader{TransactionID: 7, UnitID: 1},
		PDU:    []byte{FuncReadHoldingRegisters, 0x00, 0x00, 0x00, 0x02},
	}
	wire := f.Bytes()

	got, err := ParseFrame(wire)
	if err != nil {
		t.Fatalf("ParseFrame: %v", err)
	}
	if got.Header.TransactionID != 7 || got.Header.UnitID != 1 {
		t.Errorf("header = %+v", got.Header)
	}
	if string(got.PDU) != string(f.PDU) {
		t.Errorf("PDU = % x, want % x", got.PDU, f.PDU)
	}
}

func TestFrameComputesLength(t *testing.T) {
	f := Frame{Header: MBAPHeader{UnitID: 1}, PDU: []byte{0x03, 0x00, 0x00, 0x00, 0x01}}
	wire := f.Bytes()
	h, err := ParseMBAPHeader(wire)
	if err != nil {
		t.Fatalf("ParseMBAPHeader: %v", err)
	}
	if h.Length != uint16(1+len(f.PDU)) {
		t.Errorf("Length = %d, want %d", h.Length, 1+len(f.PDU))
	}
}

func TestParseFrameRejectsNonZeroProtocolID(t *testing.T) {
	h := MBAPHeader{ProtocolID: 1, Length: 2, UnitID: 1}
	raw := append(h.Bytes(), 0x03, 0x00)
	if _, err := ParseFrame(raw); wireerr.CodeOf(err) != wireerr.ErrBadData {
		t.Errorf("code = %v, want ERR_BAD_DATA", wireerr.CodeOf(err))
	}
}

func TestParseFrameTruncatedPDU(t *testing.T) {
	h := MBAPHeader{Length: 10, UnitID: 1}
	raw := append(h.Bytes(), 0x03)
	if _, err := ParseFrame(raw); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestIsExceptionAndParseException(t *testing.T) {
	pdu := ExceptionResponse(FuncReadHoldingRegisters, ExcIllegalDataAddress)
	if !IsException(pdu) {
		t.Fatal("expected exception PDU to be recognized")
	}
	fn, code, err := ParseException(pdu)
	if err != nil {
		t.Fatalf("ParseException: %v", err)
	}
	if fn != FuncReadHoldingRegisters || code != ExcIllegalDataAddress {
		t.Errorf("fn=0x%02x code=0x%02x", fn, code)
	}
}

func TestIsExceptionFalseForNormalResponse(t *testing.T) {
	if IsException([]byte{FuncReadHoldingRegisters, 0x02, 0x00, 0x01}) {
		t.Error("normal response incorrectly flagged as exception")
	}
}

func TestParseExceptionTooShort(t *testing.T) {
	if _, _, err := ParseException([]byte{0x83}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}
