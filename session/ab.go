package session

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wartag/tagwire/cip"
	"github.com/wartag/tagwire/eip"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/internal/wirelog"
)

// DefaultEIPPort is the well-known EtherNet/IP TCP port.
const DefaultEIPPort = 44818

// ABTransport is the Transport implementation for AB-EIP endpoints:
// dialing, RegisterSession, an optional Forward Open establishing
// connected messaging, and SendRRData/SendUnitData framing around each
// request's CIP body.
//
// Grounded on yatesdr-warlogix/eip/client.go's EipClient (dial + TCP
// keepalive + RegisterSession + mutex-guarded transactEncap) and
// logix/connected.go's OpenConnection/CloseConnection (Forward Open
// retrying standard-then-large connection size, Forward Close on
// teardown, connected-transport wrapping).
type ABTransport struct {
	addr string
	slot byte

	ConnectionPath   []byte // overrides the slot-derived backplane path when set
	UseConnectedMsg  bool
	ForwardOpenCfg   cip.ForwardOpenConfig
	DialTimeout      time.Duration
	Log              *wirelog.Logger

	mu            sync.Mutex
	conn          net.Conn
	sessionHandle uint32
	status        Status
	cipConn       *cip.Connection
	ctxCounter    uint64
}

// NewABTransport creates a transport dialing addr (host:port, or bare
// host to use DefaultEIPPort) routed to the given backplane slot.
func NewABTransport(addr string, slot byte) *ABTransport {
	return &ABTransport{
		addr:           addr,
		slot:           slot,
		ForwardOpenCfg: cip.DefaultForwardOpenConfig(),
		DialTimeout:    5 * time.Second,
		Log:            wirelog.Nop(),
	}
}

func (t *ABTransport) Endpoint() string { return t.addr }

func (t *ABTransport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *ABTransport) connectionPath() []byte {
	if len(t.ConnectionPath) > 0 {
		return t.ConnectionPath
	}
	return []byte{0x01, t.slot}
}

// messageRouterSuffix is appended to the backplane/route path so a Forward
// Open always terminates at the target's Message Router object (class
// 0x02, instance 1), matching logix/connected.go's buildConnectionPath.
var messageRouterSuffix = []byte{0x20, 0x02, 0x24, 0x01}

func (t *ABTransport) Dial() error {
	t.mu.Lock()
	t.status = StatusConnecting
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", withDefaultPort(t.addr, DefaultEIPPort), t.DialTimeout)
	if err != nil {
		t.setFailed()
		return wireerr.Wrap(wireerr.ErrOpen, err, "dial %s", t.addr)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	handle, err := t.registerSession()
	if err != nil {
		conn.Close()
		t.setFailed()
		return err
	}
	t.mu.Lock()
	t.sessionHandle = handle
	t.mu.Unlock()

	if t.UseConnectedMsg {
		if err := t.openForward(); err != nil {
			t.unregisterSession()
			conn.Close()
			t.setFailed()
			return err
		}
	}

	t.mu.Lock()
	t.status = StatusConnected
	t.mu.Unlock()
	return nil
}

func (t *ABTransport) setFailed() {
	t.mu.Lock()
	t.status = StatusFailed
	t.mu.Unlock()
}

func (t *ABTransport) registerSession() (uint32, error) {
	data := (&eip.RegisterSessionData{ProtocolVersion: 1}).Bytes()
	msg := eip.NewRequest(eip.CommandRegisterSession, 0, t.nextContext(), data)
	reply, err := t.transact(msg)
	if err != nil {
		return 0, err
	}
	if reply.Header.Status != eip.StatusSuccess {
		return 0, wireerr.New(wireerr.ErrBadConnection, "register session: encapsulation status 0x%x", uint32(reply.Header.Status))
	}
	rsd, err := eip.ParseRegisterSessionData(reply.Data)
	if err != nil {
		return 0, err
	}
	if reply.Header.SessionHandle == 0 {
		return 0, wireerr.New(wireerr.ErrBadConnection, "register session: device returned a zero session handle")
	}
	_ = rsd
	return reply.Header.SessionHandle, nil
}

func (t *ABTransport) unregisterSession() {
	t.mu.Lock()
	handle := t.sessionHandle
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	msg := eip.NewRequest(eip.CommandUnRegisterSess, handle, t.nextContext(), nil)
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.Write(msg.Bytes())
}

// openForward performs Forward Open, retrying per spec.md §4.4/§4.9:
// a duplicate-connection rejection (extended status 0x0100) is resolved
// by closing the stale connection implied by the reply and retrying with
// a fresh serial number; an invalid-connection-size rejection (0x0109)
// is resolved by retrying with the large (32-bit params) Forward Open
// form and a larger requested size.
func (t *ABTransport) openForward() error {
	cfg := t.ForwardOpenCfg
	path := append(append([]byte{}, t.connectionPath()...), messageRouterSuffix...)
	cfg.ConnectionPath = path

	large := false
	for attempt := 0; attempt < 3; attempt++ {
		body, serial, err := cip.BuildForwardOpenRequest(cfg, large)
		if err != nil {
			return err
		}
		respBody, status, err := t.sendUnconnected(body)
		if err != nil {
			return err
		}
		resp, perr := cip.ParseResponse(respBody)
		if perr != nil {
			return perr
		}
		if resp.GeneralStatus == cip.StatusSuccess {
			fo, ferr := cip.ParseForwardOpenResponse(resp.Data)
			if ferr != nil {
				return ferr
			}
			t.mu.Lock()
			t.cipConn = &cip.Connection{
				OTConnID:     fo.OTConnectionID,
				TOConnID:     fo.TOConnectionID,
				SerialNumber: fo.ConnectionSerial,
				VendorID:     fo.VendorID,
				OrigSerial:   fo.OriginatorSerial,
			}
			t.mu.Unlock()
			return nil
		}

		var ext uint16
		if len(resp.AdditionalStatus) > 0 {
			ext = resp.AdditionalStatus[0]
		}
		switch ext {
		case 0x0100: // duplicate connection id/serial
			stale := &cip.Connection{SerialNumber: serial, VendorID: cfg.VendorID, OrigSerial: cfg.OriginatorSerial}
			if closeBody, cerr := cip.BuildForwardCloseRequest(stale, path); cerr == nil {
				t.sendUnconnected(closeBody) // best effort
			}
			continue
		case 0x0109: // invalid connection size
			large = true
			cfg.OTConnectionSize = MaxExtendedPacket
			cfg.TOConnectionSize = MaxExtendedPacket
			continue
		default:
			return wireerr.New(status, "forward open: cip status 0x%02x ext 0x%04x", resp.GeneralStatus, ext)
		}
	}
	return wireerr.New(wireerr.ErrBadConnection, "forward open: exhausted retries against %s", t.addr)
}

func (t *ABTransport) Close() error {
	t.mu.Lock()
	cipConn := t.cipConn
	path := t.connectionPath()
	conn := t.conn
	t.mu.Unlock()

	if cipConn != nil {
		fullPath := append(append([]byte{}, path...), messageRouterSuffix...)
		if body, err := cip.BuildForwardCloseRequest(cipConn, fullPath); err == nil {
			t.sendUnconnected(body) // best effort, mirrors logix/connected.go's CloseConnection
		}
	}
	t.unregisterSession()

	t.mu.Lock()
	t.status = StatusDisconnected
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *ABTransport) nextContext() [8]byte {
	var ctx [8]byte
	binary.LittleEndian.PutUint64(ctx[:], atomic.AddUint64(&t.ctxCounter, 1))
	return ctx
}

// transact sends msg and reads exactly one reply, the pattern
// yatesdr-warlogix/eip/client.go's transactEncap uses for its strictly
// synchronous one-call-at-a-time client. The scheduler builds pipelined,
// multi-request-in-flight behaviour on top of BuildPacket/ReadFrame/
// Correlate instead of this helper; transact exists only for the
// handshake calls (RegisterSession, Forward Open/Close) that must
// complete before any Request can be queued.
func (t *ABTransport) transact(msg *eip.Message) (*eip.Message, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, wireerr.New(wireerr.ErrBadConnection, "transact: not connected")
	}

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(msg.Bytes()); err != nil {
		return nil, wireerr.Wrap(wireerr.ErrWrite, err, "writing eip request")
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	header := make([]byte, eip.HeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, wireerr.Wrap(wireerr.ErrRead, err, "reading eip header")
	}
	h, err := eip.ParseHeader(header)
	if err != nil {
		return nil, err
	}
	if h.Length > 65511 {
		return nil, wireerr.New(wireerr.ErrTooLarge, "eip reply declares %d bytes, exceeding the protocol maximum", h.Length)
	}
	body := make([]byte, h.Length)
	if len(body) > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return nil, wireerr.Wrap(wireerr.ErrRead, err, "reading eip body")
		}
	}
	return &eip.Message{Header: h, Data: body}, nil
}

func (t *ABTransport) sendUnconnected(cipBody []byte) ([]byte, wireerr.Code, error) {
	cpf := eip.UnconnectedRequest(cipBody)
	cmdData := &eip.CommandData{Packet: cpf.Bytes()}
	t.mu.Lock()
	handle := t.sessionHandle
	t.mu.Unlock()
	msg := eip.NewRequest(eip.CommandSendRRData, handle, t.nextContext(), cmdData.Bytes())

	reply, err := t.transact(msg)
	if err != nil {
		return nil, wireerr.ErrBadConnection, err
	}
	if reply.Header.Status != eip.StatusSuccess {
		return nil, wireerr.ErrBadConnection, wireerr.New(wireerr.ErrBadConnection, "sendrrdata: encapsulation status 0x%x", uint32(reply.Header.Status))
	}
	rcd, err := eip.ParseCommandData(reply.Data)
	if err != nil {
		return nil, wireerr.ErrBadReply, err
	}
	cp, err := eip.ParseCommonPacket(rcd.Packet)
	if err != nil {
		return nil, wireerr.ErrBadReply, err
	}
	item, ok := cp.Find(eip.ItemTypeUnconnectedData)
	if !ok {
		return nil, wireerr.ErrBadReply, wireerr.New(wireerr.ErrBadReply, "sendrrdata reply missing unconnected data item")
	}
	return item.Data, wireerr.OK, nil
}

// BuildPacket wraps req.Body as a connected (SendUnitData) or unconnected
// (SendRRData) CIP request, keyed for correlation by the sender context
// this call allocates.
func (t *ABTransport) BuildPacket(req *Request) ([]byte, uint64, error) {
	ctxVal := atomic.AddUint64(&t.ctxCounter, 1)
	var ctx [8]byte
	binary.LittleEndian.PutUint64(ctx[:], ctxVal)

	t.mu.Lock()
	handle := t.sessionHandle
	cipConn := t.cipConn
	t.mu.Unlock()

	var cmd eip.Command
	var cpf *eip.CommonPacket
	if req.Connected {
		if cipConn == nil {
			return nil, 0, wireerr.New(wireerr.ErrBadConnection, "connected request with no open forward-open connection")
		}
		wrapped := cipConn.WrapConnected(req.Body)
		cpf = eip.ConnectedRequest(cipConn.OTConnID, wrapped)
		cmd = eip.CommandSendUnitData
	} else {
		cpf = eip.UnconnectedRequest(req.Body)
		cmd = eip.CommandSendRRData
	}
	cmdData := &eip.CommandData{Packet: cpf.Bytes()}
	msg := eip.NewRequest(cmd, handle, ctx, cmdData.Bytes())
	return msg.Bytes(), ctxVal, nil
}

func (t *ABTransport) WriteFrame(wire []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return wireerr.New(wireerr.ErrBadConnection, "write frame: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(wire); err != nil {
		return wireerr.Wrap(wireerr.ErrWrite, err, "writing eip frame")
	}
	return nil
}

func (t *ABTransport) ReadFrame() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, wireerr.New(wireerr.ErrBadConnection, "read frame: not connected")
	}
	header := make([]byte, eip.HeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, wireerr.Wrap(wireerr.ErrRead, err, "reading eip header")
	}
	h, err := eip.ParseHeader(header)
	if err != nil {
		return nil, err
	}
	if h.Length > 65511 {
		return nil, wireerr.New(wireerr.ErrTooLarge, "eip frame declares %d bytes, exceeding the protocol maximum", h.Length)
	}
	frame := make([]byte, eip.HeaderLen+int(h.Length))
	copy(frame, header)
	if h.Length > 0 {
		if _, err := io.ReadFull(conn, frame[eip.HeaderLen:]); err != nil {
			return nil, wireerr.Wrap(wireerr.ErrRead, err, "reading eip body")
		}
	}
	return frame, nil
}

func (t *ABTransport) Correlate(frame []byte) (uint64, []byte, wireerr.Code, error) {
	msg, err := eip.ParseMessage(frame)
	if err != nil {
		return 0, nil, wireerr.ErrBadReply, err
	}
	corrKey := binary.LittleEndian.Uint64(msg.Header.Context[:])
	if msg.Header.Status != eip.StatusSuccess {
		return corrKey, nil, wireerr.ErrBadConnection, wireerr.New(wireerr.ErrBadConnection, "encapsulation status 0x%x", uint32(msg.Header.Status))
	}

	rcd, err := eip.ParseCommandData(msg.Data)
	if err != nil {
		return corrKey, nil, wireerr.ErrBadReply, err
	}
	cp, err := eip.ParseCommonPacket(rcd.Packet)
	if err != nil {
		return corrKey, nil, wireerr.ErrBadReply, err
	}

	var cipBody []byte
	if item, ok := cp.Find(eip.ItemTypeConnectedData); ok {
		_, payload, uerr := cip.UnwrapConnected(item.Data)
		if uerr != nil {
			return corrKey, nil, wireerr.ErrBadReply, uerr
		}
		cipBody = payload
	} else if item, ok := cp.Find(eip.ItemTypeUnconnectedData); ok {
		cipBody = item.Data
	} else {
		return corrKey, nil, wireerr.ErrBadReply, wireerr.New(wireerr.ErrBadReply, "reply carries no data item")
	}

	resp, err := cip.ParseResponse(cipBody)
	if err != nil {
		return corrKey, nil, wireerr.ErrBadReply, err
	}
	status := cip.DecodeStatus(resp.GeneralStatus)
	return corrKey, cipBody, status, nil
}

// MaxPackable reports the CIP-imposed ceiling on requests per Multiple
// Service Packet.
func (t *ABTransport) MaxPackable() int { return cip.MaxPackedServices }

// messageRouterPath addresses the Message Router object (class 0x02,
// instance 1) a Multiple Service Packet's outer request is always sent
// to, matching the embedded requester path yatesdr-warlogix's CIP layer
// uses for the same service.
func messageRouterPath() cip.EPath {
	path, _ := cip.Path().Class(0x02).Instance(1).Build()
	return path
}

// BuildPackedPacket decomposes each req's already-marshalled body back
// into {Service, Path, Data} via cip.ParseRequest, repacks them as one
// Multiple Service Packet, and frames that packet exactly as BuildPacket
// would a single request — connected or unconnected, following the
// first request's choice, since every packable request sharing a Session
// shares its connection mode.
func (t *ABTransport) BuildPackedPacket(reqs []*Request) ([]byte, uint64, error) {
	if len(reqs) == 0 {
		return nil, 0, wireerr.New(wireerr.ErrBadParam, "build packed packet: no requests given")
	}

	svcs := make([]cip.MultiServiceRequest, len(reqs))
	for i, r := range reqs {
		parsed, data, err := cip.ParseRequest(r.Body)
		if err != nil {
			return nil, 0, wireerr.Wrap(wireerr.ErrEncode, err, "packing request %d", i)
		}
		svcs[i] = cip.MultiServiceRequest{Service: parsed.Service, Path: parsed.Path, Data: data}
	}
	packedData, err := cip.BuildMultipleServiceRequest(svcs)
	if err != nil {
		return nil, 0, err
	}

	outer := cip.Request{Service: cip.SvcMultipleServicePacket, Path: messageRouterPath(), Data: packedData}
	synthetic := &Request{Body: outer.Marshal(), Connected: reqs[0].Connected}
	return t.BuildPacket(synthetic)
}

// SplitPackedReply decodes a Multiple Service Packet reply body (the
// same cipBody shape Correlate returns for an unpacked reply) into one
// PackedReply per sub-service, reconstructing each sub-reply's raw bytes
// via cip.Response.Marshal so the caller's per-request decode path never
// has to know whether the reply travelled packed or alone.
func (t *ABTransport) SplitPackedReply(body []byte) ([]PackedReply, error) {
	outer, err := cip.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	if outer.GeneralStatus != cip.StatusSuccess {
		return nil, wireerr.New(cip.DecodeStatus(outer.GeneralStatus), "multiple service packet: outer status 0x%02x", outer.GeneralStatus)
	}
	subs, err := cip.ParseMultipleServiceResponse(outer.Data)
	if err != nil {
		return nil, err
	}
	replies := make([]PackedReply, len(subs))
	for i, sub := range subs {
		replies[i] = PackedReply{
			Status: cip.DecodeStatus(sub.Status),
			Body:   sub.ToResponse().Marshal(),
		}
	}
	return replies, nil
}

func (t *ABTransport) MaxPacketSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cipConn != nil && t.ForwardOpenCfg.OTConnectionSize > MaxStandardPacket {
		return MaxExtendedPacket
	}
	return MaxStandardPacket
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
