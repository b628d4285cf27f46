package registry

import (
	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
)

// Kind tells the session layer which framing a request body expects:
// a marshaled CIP service request (to be wrapped in UnconnectedSend or
// connected-message framing by the transport) or a raw Modbus PDU (to be
// wrapped only in the MBAP header).
type Kind int

const (
	KindCIP Kind = iota
	KindModbus
)

// ReadResult is a decoded read reply, protocol-independent: the element
// type (a CIP elementary type code for Logix, an inferred width for PCCC
// and Modbus) and the raw value bytes.
type ReadResult struct {
	TypeCode uint16
	Data     []byte
	// Partial is true when the underlying protocol signalled that more
	// data remains past this reply (CIP general status 0x06) and the
	// caller must issue a follow-up fragmented request at an advanced
	// byte offset.
	Partial bool
}

// Operation is the fixed, closed set of per-protocol tag behaviours a Tag
// drives through its state machine: starting a read or write, decoding
// the reply, and the two protocol-specific housekeeping hooks
// (Tickler/Abort) a connected-messaging protocol needs to run between
// requests. One concrete Operation is constructed per tag at creation
// time by NewOperation, dispatching on the endpoint's protocol and CPU
// family the way a vtable would in a C library — Go expresses that as an
// interface with a small, fixed method set instead of a struct of
// function pointers.
type Operation interface {
	Kind() Kind

	// ReadStart builds the wire body for a read of elementCount elements
	// starting at byteOffset (0 for a fresh, non-fragmented read).
	ReadStart(elementCount int, byteOffset int) ([]byte, error)

	// WriteStart builds the wire body for a write of value (already
	// encoded to its wire representation) tagged with typeCode, starting
	// at byteOffset.
	WriteStart(elementCount int, byteOffset int, typeCode uint16, value []byte) ([]byte, error)

	// DecodeReadResult interprets a read reply's body (already stripped
	// of its transport envelope by the session layer).
	DecodeReadResult(raw []byte) (ReadResult, error)

	// DecodeWriteResult interprets a write reply's body, returning an
	// error if the device rejected the write.
	DecodeWriteResult(raw []byte) error

	// SupportsFragmentation reports whether this operation may split a
	// read or write into multiple byte-offset-advancing requests. Some
	// CPU families (Omron NJ/NX) must complete in a single packet.
	SupportsFragmentation() bool

	// DefaultElementSize returns the wire size in bytes of one element
	// of typeCode, used to size a read when the caller didn't specify an
	// explicit byte count.
	DefaultElementSize(typeCode uint16) int

	// Tickler runs any per-request housekeeping needed between send and
	// reply (e.g. PCCC sequence-number bookkeeping); most protocols have
	// nothing to do here.
	Tickler()

	// Abort cancels any operation-local state tied to an in-flight
	// request (e.g. a fragmentation cursor) so a later retry starts
	// clean.
	Abort()
}

// NewOperation constructs the Operation implementation for a, dispatching
// on its Protocol and CPU the way yatesdr-warlogix/driver/registry.go's
// Create(cfg) switches on a driver family string.
func NewOperation(a attr.Attrs) (Operation, error) {
	switch a.Protocol {
	case attr.ProtocolABEIP:
		switch a.CPU {
		case attr.CPUControlLogix, attr.CPUCompactLogix, attr.CPUOmronNJNX:
			return newLogixOperation(a)
		case attr.CPUPLC5, attr.CPUSLC, attr.CPUMicroLogix, attr.CPUMicroLogix800, attr.CPULogixPCCC:
			return newPCCCOperation(a)
		default:
			return nil, wireerr.New(wireerr.ErrBadConfig, "unsupported cpu family %q for protocol %q", a.CPU, a.Protocol)
		}
	case attr.ProtocolModbusTCP:
		return newModbusOperation(a)
	default:
		return nil, wireerr.New(wireerr.ErrBadConfig, "unsupported protocol %q", a.Protocol)
	}
}
