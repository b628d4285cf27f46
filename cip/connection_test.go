package cip

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestConnectionNextSequenceIncrements(t *testing.T) {
	c := &Connection{}
	if s := c.NextSequence(); s != 1 {
		t.Errorf("first sequence = %d, want 1", s)
	}
	if s := c.NextSequence(); s != 2 {
		t.Errorf("second sequence = %d, want 2", s)
	}
}

func TestWrapUnwrapConnectedRoundTrip(t *testing.T) {
	c := &Connection{}
	payload := []byte{0xAA, 0xBB, 0xCC}
	wrapped := c.WrapConnected(payload)

	seq, got, err := UnwrapConnected(wrapped)
	if err != nil {
		t.Fatalf("UnwrapConnected: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = % x, want % x", got, payload)
	}
}

func TestUnwrapConnectedTooShort(t *testing.T) {
	if _, _, err := UnwrapConnected([]byte{0x01}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestBuildForwardOpenRequestStandardVsLarge(t *testing.T) {
	cfg := DefaultForwardOpenConfig()
	cfg.ConnectionPath = []byte{0x20, 0x02, 0x24, 0x01}

	std, serial, err := BuildForwardOpenRequest(cfg, false)
	if err != nil {
		t.Fatalf("BuildForwardOpenRequest(standard): %v", err)
	}
	if std[0] != SvcForwardOpen {
		t.Errorf("service = 0x%02x, want 0x%02x", std[0], SvcForwardOpen)
	}
	if serial == 0 {
		t.Error("expected a non-zero connection serial")
	}

	large, _, err := BuildForwardOpenRequest(cfg, true)
	if err != nil {
		t.Fatalf("BuildForwardOpenRequest(large): %v", err)
	}
	if large[0] != SvcForwardOpenLarge {
		t.Errorf("service = 0x%02x, want 0x%02x", large[0], SvcForwardOpenLarge)
	}
	if len(large) <= len(std) {
		t.Errorf("large form (%d bytes) should carry 32-bit connection params vs standard (%d bytes)", len(large), len(std))
	}
}

func TestBuildForwardOpenRequestEmptyPath(t *testing.T) {
	cfg := DefaultForwardOpenConfig()
	if _, _, err := BuildForwardOpenRequest(cfg, false); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
}

func TestParseForwardOpenResponseRoundTrip(t *testing.T) {
	data := make([]byte, 0, 26)
	data = append(data, 0x01, 0x00, 0x00, 0x10) // OT conn id
	data = append(data, 0x02, 0x00, 0x00, 0x20) // TO conn id
	data = append(data, 0x34, 0x12)             // serial
	data = append(data, 0x37, 0x13)             // vendor
	data = append(data, 0x78, 0x56, 0x34, 0x12) // originator serial
	data = append(data, 0x10, 0x27, 0x00, 0x00) // OT RPI
	data = append(data, 0x20, 0x4E, 0x00, 0x00) // TO RPI
	data = append(data, 0x00, 0x00)             // transport trigger / connection size, unparsed trailer

	resp, err := ParseForwardOpenResponse(data)
	if err != nil {
		t.Fatalf("ParseForwardOpenResponse: %v", err)
	}
	if resp.OTConnectionID != 0x10000001 {
		t.Errorf("OTConnectionID = 0x%08x", resp.OTConnectionID)
	}
	if resp.ConnectionSerial != 0x1234 {
		t.Errorf("ConnectionSerial = 0x%04x", resp.ConnectionSerial)
	}
	if resp.OriginatorSerial != 0x12345678 {
		t.Errorf("OriginatorSerial = 0x%08x", resp.OriginatorSerial)
	}
}

func TestParseForwardOpenResponseTooShort(t *testing.T) {
	if _, err := ParseForwardOpenResponse(make([]byte, 10)); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestBuildForwardCloseRequestNilConnection(t *testing.T) {
	if _, err := BuildForwardCloseRequest(nil, []byte{0x20, 0x02}); wireerr.CodeOf(err) != wireerr.ErrNullPtr {
		t.Errorf("code = %v, want ERR_NULL_PTR", wireerr.CodeOf(err))
	}
}

func TestBuildForwardCloseRequestOddPathPadding(t *testing.T) {
	conn := &Connection{SerialNumber: 1, VendorID: 2, OrigSerial: 3}
	path := []byte{0x91, 0x03, 'T', 'a', 'g'} // odd length, 5 bytes
	req, err := BuildForwardCloseRequest(conn, path)
	if err != nil {
		t.Fatalf("BuildForwardCloseRequest: %v", err)
	}
	if req[0] != SvcForwardClose {
		t.Errorf("service = 0x%02x, want 0x%02x", req[0], SvcForwardClose)
	}
	// The connection path is appended after the fixed 12-byte Forward
	// Close header and the 2-byte connection-manager path; the odd-length
	// tag path must be padded with a trailing zero.
	if req[len(req)-1] != 0x00 {
		t.Errorf("expected a trailing pad byte, got 0x%02x", req[len(req)-1])
	}
}
