package ab

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/pccc"
	"github.com/wartag/tagwire/udt"
)

// structFlag mirrors udt's unexported bit (0x8000 marks a member type
// code as a template ID rather than an elementary scalar) — the test
// server needs the same bit pattern to synthesize a type code for
// UDT-typed fixtures, but the flag itself is CIP wire convention, not
// something udt needs to export just for this one caller.
const structFlag uint16 = 0x8000

// tagFixture is one Logix symbolic tag's live backing storage in the
// test server's tag database.
type tagFixture struct {
	mu       sync.Mutex
	typeCode uint16
	elemSize int
	elemCnt  int
	data     []byte
}

func (f *tagFixture) totalBytes() int { return f.elemSize * f.elemCnt }

func elementaryTypeCode(name string) (uint16, int, bool) {
	switch strings.ToUpper(name) {
	case "BOOL":
		return udt.TypeBOOL, 1, true
	case "SINT":
		return udt.TypeSINT, 1, true
	case "USINT":
		return udt.TypeUSINT, 1, true
	case "INT":
		return udt.TypeINT, 2, true
	case "UINT":
		return udt.TypeUINT, 2, true
	case "DINT":
		return udt.TypeDINT, 4, true
	case "UDINT":
		return udt.TypeUDINT, 4, true
	case "LINT":
		return udt.TypeLINT, 8, true
	case "ULINT":
		return udt.TypeULINT, 8, true
	case "REAL":
		return udt.TypeREAL, 4, true
	case "LREAL":
		return udt.TypeLREAL, 8, true
	case "STRING":
		return udt.TypeSTRING, int(udt.ElementarySize(udt.TypeSTRING)), true
	default:
		return 0, 0, false
	}
}

// buildTagFixture turns one config.ABTagFixture into a live tagFixture,
// zero-filling InitialHex's gaps against the declared element count and
// size.
func buildTagFixture(f config.ABTagFixture) (string, *tagFixture, error) {
	var typeCode uint16
	var elemSize int
	if f.TemplateID != 0 {
		typeCode = structFlag | f.TemplateID
		elemSize = len(parseInitialHex(f.InitialHex))
		if elemSize == 0 {
			elemSize = 4
		}
	} else {
		code, size, ok := elementaryTypeCode(f.Type)
		if !ok {
			return "", nil, wireerr.New(wireerr.ErrBadConfig, "tag fixture %q: unrecognized data type %q", f.Name, f.Type)
		}
		typeCode, elemSize = code, size
	}

	elemCnt := f.ElemCount
	if elemCnt <= 0 {
		elemCnt = 1
	}

	fixture := &tagFixture{typeCode: typeCode, elemSize: elemSize, elemCnt: elemCnt, data: make([]byte, elemSize*elemCnt)}
	init := parseInitialHex(f.InitialHex)
	copy(fixture.data, init)
	return f.Name, fixture, nil
}

func parseInitialHex(s string) []byte {
	if s == "" {
		return nil
	}
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// pcccFileTypeInfo maps the letter codes config.PCCCFileFixture.FileType
// accepts to a pccc.FileType and the element's default byte width,
// covering the handful of file types the PCCC test-harness path
// exercises (spec.md §4.3.1's N/B/F/ST family); an unrecognized letter
// falls back to a 2-byte word file rather than rejecting the fixture
// outright.
func pcccFileTypeInfo(letter string) (pccc.FileType, int) {
	switch strings.ToUpper(letter) {
	case "N":
		return pccc.FileInt, 2
	case "B":
		return pccc.FileBit, 2
	case "F":
		return pccc.FileFloat, 4
	case "ST":
		return pccc.FileString, 84
	case "T":
		return pccc.FileTimer, 6
	case "C":
		return pccc.FileCounter, 6
	case "R":
		return pccc.FileControl, 6
	case "L":
		return pccc.FileLongInt, 4
	default:
		return pccc.FileInt, 2
	}
}

// pcccFile is one PCCC data-table file's live backing storage.
type pcccFile struct {
	mu       sync.Mutex
	fileType pccc.FileType
	elemSize int
	data     []byte
}

func buildPCCCFile(f config.PCCCFileFixture) (pcccFileKey, *pcccFile) {
	ft, elemSize := pcccFileTypeInfo(f.FileType)
	elems := f.Elements
	if elems <= 0 {
		elems = 1
	}
	return pcccFileKey{letter: strings.ToUpper(f.FileType), num: f.FileNum}, &pcccFile{
		fileType: ft,
		elemSize: elemSize,
		data:     make([]byte, elemSize*elems),
	}
}

type pcccFileKey struct {
	letter string
	num    int
}
