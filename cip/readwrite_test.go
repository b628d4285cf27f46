package cip

import (
	"testing"

	"github.com/wartag/tagwire/internal/wireerr"
)

func TestReadTagRequestLayout(t *testing.T) {
	path, _ := Path().Class(0x6B).Instance(1).Build()
	req := ReadTagRequest(path, 3)
	if req.Service != SvcReadTag {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcReadTag)
	}
	if string(req.Data) != "\x03\x00" {
		t.Errorf("Data = % x, want element count 3 little-endian", req.Data)
	}
}

func TestReadTagFragmentedRequestLayout(t *testing.T) {
	path, _ := Path().Class(0x6B).Instance(1).Build()
	req := ReadTagFragmentedRequest(path, 1, 0x00000100)
	if req.Service != SvcReadTagFragmented {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcReadTagFragmented)
	}
	want := []byte{0x01, 0x00, 0x00, 0x01, 0x00, 0x00}
	if string(req.Data) != string(want) {
		t.Errorf("Data = % x, want % x", req.Data, want)
	}
}

func TestParseReadTagResponseDataRoundTrip(t *testing.T) {
	raw := []byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00}
	got, err := ParseReadTagResponseData(raw)
	if err != nil {
		t.Fatalf("ParseReadTagResponseData: %v", err)
	}
	if got.TypeCode != 0x00C4 {
		t.Errorf("TypeCode = 0x%04x, want 0x00C4", got.TypeCode)
	}
	if string(got.Value) != "\x2a\x00\x00\x00" {
		t.Errorf("Value = % x", got.Value)
	}
}

func TestParseReadTagResponseDataTooShort(t *testing.T) {
	if _, err := ParseReadTagResponseData([]byte{0xC4}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestWriteTagRequestLayout(t *testing.T) {
	path, _ := Path().Class(0x6B).Instance(1).Build()
	value := []byte{0x2A, 0x00, 0x00, 0x00}
	req := WriteTagRequest(path, 0x00C4, 1, value)
	if req.Service != SvcWriteTag {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcWriteTag)
	}
	want := []byte{0xC4, 0x00, 0x01, 0x00, 0x2A, 0x00, 0x00, 0x00}
	if string(req.Data) != string(want) {
		t.Errorf("Data = % x, want % x", req.Data, want)
	}
}

func TestWriteTagFragmentedRequestLayout(t *testing.T) {
	path, _ := Path().Class(0x6B).Instance(1).Build()
	req := WriteTagFragmentedRequest(path, 0x00C4, 1, 4, []byte{0xFF})
	if req.Service != SvcWriteTagFragmented {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcWriteTagFragmented)
	}
	want := []byte{0xC4, 0x00, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0xFF}
	if string(req.Data) != string(want) {
		t.Errorf("Data = % x, want % x", req.Data, want)
	}
}

func TestGetInstanceAttributeListRequestLayout(t *testing.T) {
	path, _ := Path().Class(0x6C).Instance16(5).Build()
	req := GetInstanceAttributeListRequest(path, []uint16{5, 4, 3, 2, 1})
	if req.Service != SvcGetInstanceAttrList {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcGetInstanceAttrList)
	}
	want := []byte{0x05, 0x00, 0x05, 0x00, 0x04, 0x00, 0x03, 0x00, 0x02, 0x00, 0x01, 0x00}
	if string(req.Data) != string(want) {
		t.Errorf("Data = % x, want % x", req.Data, want)
	}
}

func TestParseAttributeListResponse(t *testing.T) {
	data := []byte{0x01, 0x00, 0x00, 0x00, 0x0A, 0x00}
	got, err := ParseAttributeListResponse(data, []int{2, 2, 2})
	if err != nil {
		t.Fatalf("ParseAttributeListResponse: %v", err)
	}
	if len(got) != 3 || string(got[2]) != "\x0a\x00" {
		t.Errorf("got = %v", got)
	}
}

func TestParseAttributeListResponseTooShort(t *testing.T) {
	if _, err := ParseAttributeListResponse([]byte{0x01, 0x00}, []int{2, 4}); wireerr.CodeOf(err) != wireerr.ErrTooSmall {
		t.Errorf("code = %v, want ERR_TOO_SMALL", wireerr.CodeOf(err))
	}
}

func TestPCCCExecuteRequestWrapsPayload(t *testing.T) {
	requesterPath, _ := Path().Class(0x02).Instance(1).Build()
	pcccCmd := []byte{0x0F, 0x00, 0x01, 0x00, 0xA2}
	req, err := PCCCExecuteRequest(requesterPath, pcccCmd)
	if err != nil {
		t.Fatalf("PCCCExecuteRequest: %v", err)
	}
	if req.Service != SvcPCCCExecute {
		t.Errorf("Service = 0x%02x, want 0x%02x", req.Service, SvcPCCCExecute)
	}
	wantPrefix := []byte{byte(len(requesterPath) / 2)}
	wantPrefix = append(wantPrefix, requesterPath...)
	wantPrefix = append(wantPrefix, pcccCmd...)
	if string(req.Data) != string(wantPrefix) {
		t.Errorf("Data = % x, want % x", req.Data, wantPrefix)
	}
}
