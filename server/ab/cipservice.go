package ab

import (
	"encoding/binary"

	"github.com/wartag/tagwire/cip"
	"github.com/wartag/tagwire/pccc"
)

// maxFragmentBytes caps one Read Tag Fragmented reply's data payload,
// standing in for the connection size a real Forward Open would have
// negotiated — a fragmented read against a fixture bigger than this
// always takes more than one request, same as against a real target.
const maxFragmentBytes = 248

// handleCIPRequest decodes one message-router request and dispatches it,
// the entry point both handleSendRRData (unconnected) and
// handleSendUnitData (connected) call once they've peeled off the EIP/CPF
// framing around it.
func (s *Server) handleCIPRequest(cs *connState, data []byte) []byte {
	req, body, err := cip.ParseRequest(data)
	if err != nil {
		return cip.Response{GeneralStatus: cip.StatusInvalidParameterValue}.Marshal()
	}
	return s.serviceHandler(cs, req, body).Marshal()
}

// serviceHandler dispatches one already-split (service, path, body)
// request. It's the shared core behind both a standalone message-router
// request and each sub-request unpacked from a Multiple Service Packet,
// so a Read Tag nested inside service 0x0A gets identical handling to one
// sent on its own rather than a parallel, easily-diverging code path.
func (s *Server) serviceHandler(cs *connState, req cip.Request, data []byte) cip.Response {
	switch req.Service {
	case cip.SvcForwardOpen:
		return s.handleForwardOpen(cs, data, false)
	case cip.SvcForwardOpenLarge:
		return s.handleForwardOpen(cs, data, true)
	case cip.SvcForwardClose:
		return s.handleForwardClose(cs, data)
	case cip.SvcReadTag:
		return s.handleReadTag(req.Path, data, false)
	case cip.SvcReadTagFragmented:
		return s.handleReadTag(req.Path, data, true)
	case cip.SvcWriteTag:
		return s.handleWriteTag(req.Path, data, false)
	case cip.SvcWriteTagFragmented:
		return s.handleWriteTag(req.Path, data, true)
	case cip.SvcMultipleServicePacket:
		return s.handleMultiService(cs, data)
	case cip.SvcPCCCExecute:
		return s.handlePCCCExecute(data)
	default:
		return cip.Response{ReplyService: req.Service, GeneralStatus: cip.StatusServiceNotSupported}
	}
}

func forwardOpenService(large bool) byte {
	if large {
		return cip.SvcForwardOpenLarge
	}
	return cip.SvcForwardOpen
}

func (s *Server) handleForwardOpen(cs *connState, data []byte, large bool) cip.Response {
	svc := forwardOpenService(large)
	freq, err := cip.ParseForwardOpenRequest(data, large)
	if err != nil {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusInvalidParameterValue}
	}
	if s.shouldRejectForwardOpen() {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusResourceUnavailable}
	}

	otConnID := s.allocateOTConnID()
	conn := &cip.Connection{
		OTConnID:     otConnID,
		TOConnID:     freq.TOConnectionID,
		SerialNumber: freq.ConnectionSerial,
		VendorID:     freq.VendorID,
		OrigSerial:   freq.OriginatorSerial,
	}

	cs.mu.Lock()
	cs.conns[otConnID] = conn
	cs.mu.Unlock()

	return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusSuccess, Data: cip.BuildForwardOpenResponse(freq, otConnID)}
}

func (s *Server) handleForwardClose(cs *connState, data []byte) cip.Response {
	connSerial, vendorID, origSerial, err := cip.ParseForwardCloseRequest(data)
	if err != nil {
		return cip.Response{ReplyService: cip.SvcForwardClose, GeneralStatus: cip.StatusInvalidParameterValue}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id, conn := range cs.conns {
		if conn.SerialNumber == connSerial && conn.VendorID == vendorID && conn.OrigSerial == origSerial {
			delete(cs.conns, id)
			return cip.Response{ReplyService: cip.SvcForwardClose, GeneralStatus: cip.StatusSuccess}
		}
	}
	return cip.Response{ReplyService: cip.SvcForwardClose, GeneralStatus: cip.StatusPathDestinationUnknown}
}

func (s *Server) handleReadTag(path cip.EPath, data []byte, fragmented bool) cip.Response {
	svc := cip.SvcReadTag
	if fragmented {
		svc = cip.SvcReadTagFragmented
	}
	if len(data) < 2 {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusNotEnoughData}
	}
	elemCount := binary.LittleEndian.Uint16(data[0:2])
	var byteOffset uint32
	if fragmented {
		if len(data) < 6 {
			return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusNotEnoughData}
		}
		byteOffset = binary.LittleEndian.Uint32(data[2:6])
	}

	fixture, ok := s.lookupTag(path)
	if !ok {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusPathDestinationUnknown}
	}

	fixture.mu.Lock()
	defer fixture.mu.Unlock()

	if int(byteOffset) > len(fixture.data) {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusInvalidParameterValue}
	}

	want := int(elemCount) * fixture.elemSize
	if want == 0 {
		want = fixture.totalBytes()
	}
	end := int(byteOffset) + want
	if end > len(fixture.data) {
		end = len(fixture.data)
	}
	chunk := fixture.data[byteOffset:end]

	status := cip.StatusSuccess
	if fragmented && len(chunk) > maxFragmentBytes {
		chunk = chunk[:maxFragmentBytes]
		status = cip.StatusPartialTransfer
	} else if fragmented && int(byteOffset)+len(chunk) < len(fixture.data) {
		status = cip.StatusPartialTransfer
	}

	respData := binary.LittleEndian.AppendUint16(nil, fixture.typeCode)
	respData = append(respData, chunk...)
	return cip.Response{ReplyService: svc, GeneralStatus: status, Data: respData}
}

func (s *Server) handleWriteTag(path cip.EPath, data []byte, fragmented bool) cip.Response {
	svc := cip.SvcWriteTag
	if fragmented {
		svc = cip.SvcWriteTagFragmented
	}
	if len(data) < 4 {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusNotEnoughData}
	}
	// data[0:2] is the type code and data[2:4] the element count; the
	// fixture's own typeCode/elemSize are authoritative here, so neither
	// is consulted beyond skipping past them.
	pos := 4
	var byteOffset uint32
	if fragmented {
		if len(data) < 8 {
			return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusNotEnoughData}
		}
		byteOffset = binary.LittleEndian.Uint32(data[4:8])
		pos = 8
	}
	value := data[pos:]

	fixture, ok := s.lookupTag(path)
	if !ok {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusPathDestinationUnknown}
	}

	fixture.mu.Lock()
	defer fixture.mu.Unlock()

	if int(byteOffset)+len(value) > len(fixture.data) {
		return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusInvalidParameterValue}
	}
	copy(fixture.data[byteOffset:], value)
	return cip.Response{ReplyService: svc, GeneralStatus: cip.StatusSuccess}
}

// handleMultiService unpacks a Multiple Service Packet, runs every
// sub-request through the same serviceHandler a standalone request uses,
// and packs the replies back up. The outer reply's GeneralStatus stays
// Success whenever the packet itself decoded cleanly — a caller finds out
// about an individual sub-request's failure from that sub-response's own
// status, not from the envelope (mirrors how a Multiple Service Packet
// responder in this corpus reports it).
func (s *Server) handleMultiService(cs *connState, data []byte) cip.Response {
	reqs, err := cip.ParseMultipleServiceRequest(data)
	if err != nil {
		return cip.Response{ReplyService: cip.SvcMultipleServicePacket, GeneralStatus: cip.StatusNotEnoughData}
	}

	responses := make([]cip.Response, len(reqs))
	for i, sub := range reqs {
		responses[i] = s.serviceHandler(cs, cip.Request{Service: sub.Service, Path: sub.Path}, sub.Data)
	}

	return cip.Response{
		ReplyService:  cip.SvcMultipleServicePacket,
		GeneralStatus: cip.StatusSuccess,
		Data:          cip.BuildMultipleServiceResponse(responses),
	}
}

// handlePCCCExecute unwraps the requester-path preamble PCCCExecuteRequest
// wraps every command in, then serves the typed read/write commands
// against a synthetic PCCC data-table file — the server-side mirror of
// registry/pccc.go's pcccOperation.
//
// Only the SLC/MicroLogix raw-quadruple addressing form (EncodeSLCAddress,
// SLCReadCommand/SLCWriteCommand) is served here: config.PCCCFileFixture
// seeds a file purely by type letter and number, with no PLC-5-vs-SLC
// family to pick between, and the PLC-5 level-byte form's offset/transfer
// word header would need that family known up front to even parse — a
// real client talking to real PLC-5 hardware still gets that encoding from
// registry/pccc.go, it just isn't one this synthetic server plays back.
func (s *Server) handlePCCCExecute(data []byte) cip.Response {
	if len(data) < 1 {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusNotEnoughData}
	}
	pathWords := int(data[0])
	pathLen := pathWords * 2
	if len(data) < 1+pathLen {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusNotEnoughData}
	}
	cmd := data[1+pathLen:]

	hdr, body, err := pccc.ParseHeader(cmd)
	if err != nil {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusInvalidParameterValue}
	}
	if hdr.Command != pccc.CmdTypedReadWrite {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusServiceNotSupported, Data: pcccErrorReply(hdr, 0x01)}
	}

	switch hdr.Function {
	case pccc.FuncTypedRead:
		return s.pcccTypedRead(hdr, body)
	case pccc.FuncTypedWrite:
		return s.pcccTypedWrite(hdr, body)
	default:
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusServiceNotSupported, Data: pcccErrorReply(hdr, 0x01)}
	}
}

// pcccErrorReply builds a PCCC reply carrying a non-zero status plus the
// one-byte error code DecodeError expects to find in the reply body.
func pcccErrorReply(hdr pccc.Header, errByte byte) []byte {
	reply := pccc.ReplyHeader{Command: hdr.Command | 0x40, Status: 0xF0, SeqNum: hdr.SeqNum}
	out := reply.Bytes()
	return append(out, errByte)
}

// pcccAddrAndFile decodes the SLC/MicroLogix raw-quadruple address at the
// front of body and looks up the backing pcccFile it names.
func (s *Server) pcccAddrAndFile(body []byte) (*pccc.Addr, int, *pcccFile, bool) {
	addr, n, err := pccc.DecodeSLCAddress(body)
	if err != nil {
		return nil, 0, nil, false
	}
	s.pcccMu.Lock()
	defer s.pcccMu.Unlock()
	file, ok := s.pcccFiles[pcccFileKey{letter: slcFileLetter(addr.FileType), num: addr.File}]
	return addr, n, file, ok
}

func slcFileLetter(ft pccc.FileType) string {
	for _, l := range []string{"N", "B", "F", "ST", "T", "C", "R", "L"} {
		known, _ := pcccFileTypeInfo(l)
		if known == ft {
			return l
		}
	}
	return ""
}

// pcccTypedRead serves an SLCReadCommand body: a one-byte transfer size
// (in bytes) followed by the raw-quadruple address. The addressed
// element's position, not a separate offset field, selects where in the
// file the transfer starts.
func (s *Server) pcccTypedRead(hdr pccc.Header, body []byte) cip.Response {
	if len(body) < 1 {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusNotEnoughData}
	}
	transferBytes := int(body[0])

	addr, _, file, ok := s.pcccAddrAndFile(body[1:])
	if !ok {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusPathDestinationUnknown, Data: pcccErrorReply(hdr, 0x05)}
	}

	file.mu.Lock()
	defer file.mu.Unlock()

	offset := addr.Element * file.elemSize
	if offset > len(file.data) {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusInvalidParameterValue, Data: pcccErrorReply(hdr, 0x10)}
	}
	end := offset + transferBytes
	if end > len(file.data) {
		end = len(file.data)
	}
	chunk := file.data[offset:end]

	dtByte, err := pccc.EncodeDataTypeByte(pccc.DataTypeByte{Type: int(file.fileType) & 0x07, Size: min7(file.elemSize)})
	if err != nil {
		dtByte = []byte{0x00}
	}

	reply := pccc.ReplyHeader{Command: hdr.Command | 0x40, Status: 0x00, SeqNum: hdr.SeqNum}
	respData := reply.Bytes()
	respData = append(respData, dtByte...)
	respData = append(respData, chunk...)
	return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusSuccess, Data: respData}
}

// pcccTypedWrite serves an SLCWriteCommand body: a one-byte value length
// followed by the raw-quadruple address, then the value itself.
func (s *Server) pcccTypedWrite(hdr pccc.Header, body []byte) cip.Response {
	if len(body) < 1 {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusNotEnoughData}
	}
	transferBytes := int(body[0])

	addr, n, file, ok := s.pcccAddrAndFile(body[1:])
	if !ok {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusPathDestinationUnknown, Data: pcccErrorReply(hdr, 0x05)}
	}
	value := body[1+n:]
	if transferBytes > 0 && transferBytes < len(value) {
		value = value[:transferBytes]
	}

	file.mu.Lock()
	defer file.mu.Unlock()

	offset := addr.Element * file.elemSize
	if offset+len(value) > len(file.data) {
		return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusInvalidParameterValue, Data: pcccErrorReply(hdr, 0x10)}
	}
	copy(file.data[offset:], value)

	reply := pccc.ReplyHeader{Command: hdr.Command | 0x40, Status: 0x00, SeqNum: hdr.SeqNum}
	return cip.Response{ReplyService: cip.SvcPCCCExecute, GeneralStatus: cip.StatusSuccess, Data: reply.Bytes()}
}

func min7(n int) int {
	if n > 7 {
		return 7
	}
	return n
}
