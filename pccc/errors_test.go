package pccc

import (
	"strings"
	"testing"
)

func TestDecodeErrorNoBytes(t *testing.T) {
	if got := DecodeError(nil); got != "no error byte present" {
		t.Errorf("got %q", got)
	}
}

func TestDecodeErrorSimpleCode(t *testing.T) {
	if got := DecodeError([]byte{0x04}); got != "Symbol not found." {
		t.Errorf("got %q", got)
	}
}

func TestDecodeErrorExtendedForm(t *testing.T) {
	got := DecodeError([]byte{0xF0, 0x00, 0x00, 0x06})
	if got != "Address doesn't point to something usable." {
		t.Errorf("got %q", got)
	}
}

func TestDecodeErrorExtendedFormTruncated(t *testing.T) {
	got := DecodeError([]byte{0xF0, 0x00})
	if !strings.Contains(got, "truncated") {
		t.Errorf("got %q, want mention of truncation", got)
	}
}

func TestDecodeErrorUnknownCode(t *testing.T) {
	if got := DecodeError([]byte{0xFF}); got != "Unknown error response." {
		t.Errorf("got %q", got)
	}
}
