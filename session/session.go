// Package session owns per-endpoint connection state (spec.md §3
// "Session"): the TCP lifecycle, the EIP session handle or raw Modbus
// socket underneath it, and — for AB-EIP — the optional CIP connected
// Connection a Forward Open establishes. It deliberately knows nothing
// about tags or scheduling; the scheduler package drives a Session's
// Transport from its per-session FIFO queue, and the tag package decides
// what requests to enqueue.
//
// The split mirrors yatesdr-warlogix/eip/client.go's EipClient (session
// handle + mutex-guarded net.Conn + RegisterSession/transactEncap) and
// logix/connected.go's Forward Open orchestration, generalized from a
// single synchronous request-at-a-time client into a Transport interface
// the scheduler can drive asynchronously and uniformly across both
// AB-EIP and Modbus/TCP.
package session

import (
	"sync/atomic"
	"time"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Status mirrors yatesdr-warlogix/plcman/manager.go's ConnectionStatus
// enum: a Session's coarse connection lifecycle state, independent of
// any one request's outcome.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Packet size ceilings spec.md §4.4 assigns to AB-EIP: the standard
// unconnected/504-byte-class connection size, and the large/extended
// size negotiated after an invalid-size Forward Open retry.
const (
	MaxStandardPacket = 508
	MaxExtendedPacket = 4002
)

// Request is one in-flight operation travelling through a Session: the
// wire body an Operation built, the correlation/abort bookkeeping the
// scheduler needs to match it to its reply or give up on it, and the
// callback the tag layer hangs its state-machine transition on.
//
// Grounded on yatesdr-warlogix/eip/client.go's per-call transaction
// shape (send, remember what you're waiting for, match the reply),
// generalized into a standalone value so many Requests can be in flight
// on one Session's queue instead of one synchronous call at a time.
type Request struct {
	ID           uint64
	TagID        int32
	Body         []byte
	AllowPacking bool
	Connected    bool
	Deadline     time.Time

	Status   wireerr.Code
	Response []byte

	onComplete func(*Request)
	aborted    atomic.Bool
}

// NewRequest builds a Request ready to hand to a Session's queue.
func NewRequest(id uint64, tagID int32, body []byte, connected bool, onComplete func(*Request)) *Request {
	return &Request{ID: id, TagID: tagID, Body: body, Connected: connected, onComplete: onComplete}
}

// Abort marks the request as no longer wanted. A Session must still
// drain any reply already in flight for it, but must not report
// Status==OK through onComplete afterward (spec.md §8 property P5).
func (r *Request) Abort() { r.aborted.Store(true) }

// Aborted reports whether Abort was called.
func (r *Request) Aborted() bool { return r.aborted.Load() }

// Complete records the outcome and invokes the completion callback,
// unless the request was aborted and completed successfully — an
// aborted request may still be reported as failed/cancelled, but never
// as a belated success.
func (r *Request) Complete(status wireerr.Code, response []byte) {
	if r.Aborted() && status == wireerr.OK {
		status = wireerr.ErrAbort
	}
	r.Status = status
	r.Response = response
	if r.onComplete != nil {
		r.onComplete(r)
	}
}

// Transport is the per-protocol wire driver a Session wraps: dialing and
// tearing down the connection, turning a Request's body into a wire
// frame, reading frames back off the socket, and correlating a frame to
// the Request it answers. AB-EIP and Modbus/TCP implement this with
// entirely different framing (EIP encapsulation + CPF + CIP vs. raw MBAP
// + PDU) but the scheduler drives both identically through this
// interface — the uniform alternative spec.md §3 calls for instead of
// protocol-specific scheduling code.
type Transport interface {
	// Dial establishes the connection and performs any per-protocol
	// handshake (EIP RegisterSession, optional Forward Open).
	Dial() error
	// Close tears down any protocol-level session (Forward Close,
	// UnRegisterSession) and the underlying socket.
	Close() error
	// Endpoint names the remote device for logging.
	Endpoint() string
	// BuildPacket wraps req.Body in this protocol's framing, returning
	// the bytes ready to write to the socket and the correlation key
	// Correlate will report back for the matching reply.
	BuildPacket(req *Request) (wire []byte, corrKey uint64, err error)
	// WriteFrame writes a frame BuildPacket produced to the socket.
	WriteFrame(wire []byte) error
	// ReadFrame blocks for exactly one complete incoming message.
	ReadFrame() ([]byte, error)
	// Correlate extracts the correlation key and protocol-status-decoded
	// response body from a frame ReadFrame returned.
	Correlate(frame []byte) (corrKey uint64, body []byte, status wireerr.Code, err error)
	// MaxPacketSize reports the negotiated ceiling on one request's wire
	// body, used by the packing policy and by fragmentation decisions.
	MaxPacketSize() int
}

// PackedReply is one sub-reply recovered from a batched packet, in the
// same wire shape Transport.Correlate's body return uses for an
// unpacked reply — so a Session can hand it to the same completion path
// regardless of whether the request travelled alone or packed.
type PackedReply struct {
	Status wireerr.Code
	Body   []byte
}

// Packer is the optional capability a Transport implements when its
// protocol supports batching several Requests into one wire packet
// (spec.md §4.4's packing policy). AB-EIP's Multiple Service Packet is
// the only batching mechanism spec.md defines; Modbus/TCP has no
// equivalent and ModbusTransport does not implement this interface — a
// Session type-asserts for it rather than requiring it of every
// Transport.
type Packer interface {
	// MaxPackable is the most Requests BuildPackedPacket will accept in
	// one call.
	MaxPackable() int
	// BuildPackedPacket batches reqs into one wire frame, in the same
	// sense BuildPacket does for a single Request.
	BuildPackedPacket(reqs []*Request) (wire []byte, corrKey uint64, err error)
	// SplitPackedReply decomposes a packed reply's correlated body (as
	// returned by Transport.Correlate) into one PackedReply per
	// originally-packed Request, in the same order they were batched.
	SplitPackedReply(body []byte) ([]PackedReply, error)
}
