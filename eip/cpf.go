package eip

// Common Packet Format framing per ODVA v1.4, carried inside SendRRData
// and SendUnitData payloads. Grounded directly on yatesdr-warlogix/eip/cpf.go.

import (
	"encoding/binary"

	"github.com/wartag/tagwire/internal/wireerr"
)

// Item type IDs for CPF items (spec.md §4.2).
const (
	ItemTypeNullAddress      uint16 = 0x0000
	ItemTypeListIdentityResp uint16 = 0x000C
	ItemTypeConnectedAddress uint16 = 0x00A1
	ItemTypeConnectedData    uint16 = 0x00B1
	ItemTypeUnconnectedData  uint16 = 0x00B2
	ItemTypeListServicesResp uint16 = 0x0100
	ItemTypeSockAddrOtoT     uint16 = 0x8000
	ItemTypeSockAddrTtoO     uint16 = 0x8001
	ItemTypeSequencedAddress uint16 = 0x8002
)

// Item is one CPF item: a type, its declared length, and its payload.
type Item struct {
	TypeID uint16
	Data   []byte
}

func (it *Item) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, it.TypeID)
	raw = binary.LittleEndian.AppendUint16(raw, uint16(len(it.Data)))
	raw = append(raw, it.Data...)
	return raw
}

// CommonPacket is the ordered list of CPF items.
type CommonPacket struct {
	Items []Item
}

func (p *CommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, it := range p.Items {
		raw = append(raw, it.Bytes()...)
	}
	return raw
}

// ParseCommonPacket decodes a CPF item count and its items from raw.
func ParseCommonPacket(raw []byte) (*CommonPacket, error) {
	if len(raw) < 2 {
		return nil, wireerr.New(wireerr.ErrTooSmall, "cpf needs at least 2 bytes, got %d", len(raw))
	}
	count := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	if count > 0 && len(raw) == 0 {
		return nil, wireerr.New(wireerr.ErrBadData, "cpf item count %d but no bytes remain", count)
	}

	items := make([]Item, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, wireerr.New(wireerr.ErrTooSmall, "cpf item %d: truncated item header, have %d bytes", i, len(raw))
		}
		typeID := binary.LittleEndian.Uint16(raw[0:2])
		length := binary.LittleEndian.Uint16(raw[2:4])
		need := 4 + int(length)
		if len(raw) < need {
			return nil, wireerr.New(wireerr.ErrTooSmall, "cpf item %d: need %d bytes, have %d", i, need, len(raw))
		}
		items = append(items, Item{TypeID: typeID, Data: raw[4 : 4+length]})
		raw = raw[4+length:]
	}
	return &CommonPacket{Items: items}, nil
}

// Find returns the first item with the given type ID, and whether it was
// present — CPF item order within a message is fixed by the command
// (address item always precedes data item) but callers should look up by
// type rather than assume positional indices.
func (p *CommonPacket) Find(typeID uint16) (Item, bool) {
	for _, it := range p.Items {
		if it.TypeID == typeID {
			return it, true
		}
	}
	return Item{}, false
}

// UnconnectedRequest builds the two-item CPF payload for an unconnected
// SendRRData request: a null address item followed by the unconnected
// data item carrying the CIP service request.
func UnconnectedRequest(cipData []byte) *CommonPacket {
	return &CommonPacket{Items: []Item{
		{TypeID: ItemTypeNullAddress, Data: nil},
		{TypeID: ItemTypeUnconnectedData, Data: cipData},
	}}
}

// ConnectedRequest builds the two-item CPF payload for a connected
// SendUnitData request: a connected-address item carrying the O->T
// connection id, followed by the connected data item (itself prefixed
// with the CIP connected-transport sequence number by the session layer).
func ConnectedRequest(connectionID uint32, cipData []byte) *CommonPacket {
	addr := binary.LittleEndian.AppendUint32(nil, connectionID)
	return &CommonPacket{Items: []Item{
		{TypeID: ItemTypeConnectedAddress, Data: addr},
		{TypeID: ItemTypeConnectedData, Data: cipData},
	}}
}
