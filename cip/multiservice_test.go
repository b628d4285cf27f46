package cip

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestBuildAndParseMultipleServiceRoundTrip(t *testing.T) {
	path1, _ := Path().Class(0x6B).Instance(1).Build()
	path2, _ := Path().Class(0x6B).Instance(2).Build()

	reqs := []MultiServiceRequest{
		{Service: SvcReadTag, Path: path1, Data: []byte{0x01, 0x00}},
		{Service: SvcReadTag, Path: path2, Data: []byte{0x01, 0x00}},
	}
	packed, err := BuildMultipleServiceRequest(reqs)
	if err != nil {
		t.Fatalf("BuildMultipleServiceRequest: %v", err)
	}
	if packed[0] != 0x02 || packed[1] != 0x00 {
		t.Fatalf("service count header = % x, want 2", packed[:2])
	}

	// Build a response with the same offset-table shape holding one
	// success and one error reply.
	svc1 := []byte{SvcReadTag | ReplyMask, 0x00, StatusSuccess, 0x00, 0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00}
	svc2 := []byte{SvcReadTag | ReplyMask, 0x00, StatusObjectDoesNotExist, 0x00}
	respHeaderSize := 2 + 2*2
	off1 := uint16(respHeaderSize)
	off2 := off1 + uint16(len(svc1))
	respData := []byte{0x02, 0x00}
	respData = append(respData, byte(off1), byte(off1>>8), byte(off2), byte(off2>>8))
	respData = append(respData, svc1...)
	respData = append(respData, svc2...)

	got, err := ParseMultipleServiceResponse(respData)
	if err != nil {
		t.Fatalf("ParseMultipleServiceResponse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Status != StatusSuccess || string(got[0].Data) != "\xc4\x00\x2a\x00\x00\x00" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Status != StatusObjectDoesNotExist {
		t.Errorf("got[1].Status = 0x%02x, want 0x%02x", got[1].Status, StatusObjectDoesNotExist)
	}
}

func TestBuildMultipleServiceRequestEmpty(t *testing.T) {
	if _, err := BuildMultipleServiceRequest(nil); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
}

func TestBuildMultipleServiceRequestExceedsMax(t *testing.T) {
	reqs := make([]MultiServiceRequest, MaxPackedServices+1)
	if _, err := BuildMultipleServiceRequest(reqs); wireerr.CodeOf(err) != wireerr.ErrTooLarge {
		t.Errorf("code = %v, want ERR_TOO_LARGE", wireerr.CodeOf(err))
	}
}

func TestParseMultipleServiceResponseEmpty(t *testing.T) {
	got, err := ParseMultipleServiceResponse([]byte{0x00, 0x00})
	if err != nil {
		t.Fatalf("ParseMultipleServiceResponse: %v", err)
	}
	if got != nil {
		t.Errorf("got = %v, want nil", got)
	}
}

func TestParseMultipleServiceResponseTooShort(t *testing.T) {
	if _, err := ParseMultipleServiceResponse([]byte{0x02, 0x00}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestParseMultipleServiceResponseMalformedSubEntryErrors(t *testing.T) {
	// One declared service whose offset points past the end of data.
	malformed := []byte{0x01, 0x00, 0xFF, 0x00}
	if _, err := ParseMultipleServiceResponse(malformed); wireerr.CodeOf(err) != wireerr.ErrBadReply {
		t.Errorf("code = %v, want ERR_BAD_REPLY", wireerr.CodeOf(err))
	}
}

func TestParseMultipleServiceResponseTruncatedSubEntryErrors(t *testing.T) {
	// Offset is in range but the sub-reply body is shorter than the
	// 4-byte minimum (service/reserved/status/ext-count).
	respData := []byte{0x01, 0x00, 0x04, 0x00, 0xC4, 0x00}
	if _, err := ParseMultipleServiceResponse(respData); wireerr.CodeOf(err) != wireerr.ErrBadReply {
		t.Errorf("code = %v, want ERR_BAD_REPLY", wireerr.CodeOf(err))
	}
}
