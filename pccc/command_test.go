package pccc

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Command: CmdTypedReadWrite, Status: 0, SeqNum: 0x0102, Function: FuncTypedRead}
	got, rest, err := ParseHeader(h.bytes())
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, _, err := ParseHeader([]byte{1, 2, 3}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestReplyHeaderRoundTrip(t *testing.T) {
	h := ReplyHeader{Command: 0x4F, Status: 0x10, SeqNum: 0xBEEF}
	got, rest, err := ParseReplyHeader(h.bytes())
	if err != nil {
		t.Fatalf("ParseReplyHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestDHPRoutingHeaderRoundTrip(t *testing.T) {
	h := DHPRoutingHeader{DestLink: 1, DestNode: 2, SrcLink: 3, SrcNode: 4}
	got, rest, err := ParseDHPRoutingHeader(h.Bytes())
	if err != nil {
		t.Fatalf("ParseDHPRoutingHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %v, want empty", rest)
	}
}

func TestPLC5ReadCommandLayout(t *testing.T) {
	addr := &Addr{File: 7, Element: 0, SubElement: -1}
	got := PLC5ReadCommand(0x0001, addr, 0, 1)
	want := []byte{CmdTypedReadWrite, 0x00, 0x01, 0x00, FuncTypedRead, 0x00, 0x00, 0x01, 0x00}
	want = append(want, EncodePLC5Address(addr)...)
	if string(got) != string(want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSLCReadCommandLayout(t *testing.T) {
	addr := &Addr{FileType: FileInt, File: 7, Element: 0, SubElement: -1}
	got, err := SLCReadCommand(0x0001, addr, 2)
	if err != nil {
		t.Fatalf("SLCReadCommand: %v", err)
	}
	want := []byte{CmdTypedReadWrite, 0x00, 0x01, 0x00, FuncTypedRead, 0x02}
	enc, _ := EncodeSLCAddress(addr)
	want = append(want, enc...)
	if string(got) != string(want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSLCWriteCommandLayout(t *testing.T) {
	addr := &Addr{FileType: FileInt, File: 7, Element: 0, SubElement: -1}
	value := []byte{0x2A, 0x00}
	got, err := SLCWriteCommand(0x0002, addr, value)
	if err != nil {
		t.Fatalf("SLCWriteCommand: %v", err)
	}
	want := []byte{CmdTypedReadWrite, 0x00, 0x02, 0x00, FuncTypedWrite, byte(len(value))}
	enc, _ := EncodeSLCAddress(addr)
	want = append(want, enc...)
	want = append(want, value...)
	if string(got) != string(want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestDecodeDataTypeByteSimple(t *testing.T) {
	dt, n, err := DecodeDataTypeByte([]byte{0x42, 0xAA, 0xBB})
	if err != nil {
		t.Fatalf("DecodeDataTypeByte: %v", err)
	}
	if dt.Type != 4 || dt.Size != 2 {
		t.Errorf("dt = %+v, want {4 2}", dt)
	}
	if n != 1 {
		t.Errorf("consumed = %d, want 1", n)
	}
}

func TestDecodeDataTypeByteExtendedType(t *testing.T) {
	dt, n, err := DecodeDataTypeByte([]byte{0x91, 0xAB})
	if err != nil {
		t.Fatalf("DecodeDataTypeByte: %v", err)
	}
	if dt.Type != 0xAB || dt.Size != 1 {
		t.Errorf("dt = %+v, want {0xAB 1}", dt)
	}
	if n != 2 {
		t.Errorf("consumed = %d, want 2", n)
	}
}

func TestDecodeDataTypeByteTooShort(t *testing.T) {
	if _, _, err := DecodeDataTypeByte([]byte{0x42}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestDecodeDataTypeByteMalformedExtendedField(t *testing.T) {
	// High nibble claims an extension but not enough bytes follow.
	if _, _, err := DecodeDataTypeByte([]byte{0x91}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL (len check happens before the extension parse)", wireerr.CodeOf(err))
	}
}
