package cip

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestRequestMarshalParseRoundTrip(t *testing.T) {
	path, err := Path().Class(0x6B).Instance(1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req := Request{Service: SvcReadTag, Path: path, Data: []byte{0x01, 0x00}}
	wire := req.Marshal()

	got, rest, err := ParseRequest(wire)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if got.Service != req.Service {
		t.Errorf("Service = 0x%02x, want 0x%02x", got.Service, req.Service)
	}
	if string(got.Path) != string(req.Path) {
		t.Errorf("Path = % x, want % x", got.Path, req.Path)
	}
	if string(rest) != string(req.Data) {
		t.Errorf("rest = % x, want % x", rest, req.Data)
	}
}

func TestParseRequestTooShort(t *testing.T) {
	if _, _, err := ParseRequest([]byte{0x4C}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestParseRequestTruncatedPath(t *testing.T) {
	// Declares a 2-word (4-byte) path but supplies none.
	if _, _, err := ParseRequest([]byte{0x4C, 0x02}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestResponseMarshalParseRoundTrip(t *testing.T) {
	resp := Response{
		ReplyService:     SvcReadTag,
		GeneralStatus:    StatusSuccess,
		AdditionalStatus: []uint16{0x1234},
		Data:             []byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00},
	}
	wire := resp.Marshal()
	if wire[0] != SvcReadTag|ReplyMask {
		t.Errorf("reply service byte = 0x%02x, want 0x%02x", wire[0], SvcReadTag|ReplyMask)
	}

	got, err := ParseResponse(wire)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if got.ReplyService != resp.ReplyService {
		t.Errorf("ReplyService = 0x%02x, want 0x%02x", got.ReplyService, resp.ReplyService)
	}
	if got.GeneralStatus != resp.GeneralStatus {
		t.Errorf("GeneralStatus = 0x%02x, want 0x%02x", got.GeneralStatus, resp.GeneralStatus)
	}
	if len(got.AdditionalStatus) != 1 || got.AdditionalStatus[0] != 0x1234 {
		t.Errorf("AdditionalStatus = %v, want [0x1234]", got.AdditionalStatus)
	}
	if string(got.Data) != string(resp.Data) {
		t.Errorf("Data = % x, want % x", got.Data, resp.Data)
	}
}

func TestParseResponseTooShort(t *testing.T) {
	if _, err := ParseResponse([]byte{0x00, 0x00}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestParseResponseTruncatedExtStatus(t *testing.T) {
	// Declares 2 extended status words but supplies none.
	raw := []byte{0xCC, 0x00, 0x05, 0x02}
	if _, err := ParseResponse(raw); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestDecodeStatusMapping(t *testing.T) {
	cases := []struct {
		status byte
		want   wireerr.Code
	}{
		{StatusSuccess, wireerr.OK},
		{StatusPartialTransfer, wireerr.ErrPartial},
		{StatusPathDestinationUnknown, wireerr.ErrNotFound},
		{StatusObjectDoesNotExist, wireerr.ErrNotFound},
		{StatusInvalidParameterValue, wireerr.ErrBadParam},
		{StatusResourceUnavailable, wireerr.ErrNoResources},
		{StatusConnectionFailure, wireerr.ErrBadConnection},
		{StatusServiceNotSupported, wireerr.ErrNotImplemented},
		{StatusPrivilegeViolation, wireerr.ErrNotAllowed},
		{StatusReplyDataTooLarge, wireerr.ErrTooLarge},
		{StatusNotEnoughData, wireerr.ErrTooSmall},
		{StatusAlreadyInRequested, wireerr.ErrDuplicate},
		{0x7F, wireerr.ErrRemoteErr},
	}
	for _, c := range cases {
		if got := DecodeStatus(c.status); got != c.want {
			t.Errorf("DecodeStatus(0x%02x) = %v, want %v", c.status, got, c.want)
		}
	}
}
