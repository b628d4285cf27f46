package registry

import (
	"strconv"
	"strings"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/modbus"
	"github.com/wartag/tagwire/udt"
)

// modbusTable identifies which of the four Modbus data tables a tag
// addresses. Grounded on modbus/pdu.go's function-code-per-table split.
type modbusTable int

const (
	tableCoil modbusTable = iota
	tableDiscreteInput
	tableHoldingRegister
	tableInputRegister
)

// modbusOperation drives Modbus/TCP tags. Tag names use a short table
// prefix plus a decimal zero-based address (e.g. "hr100", "co12") rather
// than the PLC-5/SLC file-letter grammar, since plain Modbus has no
// named data-table convention of its own to borrow — this is the
// convention spec.md leaves to the implementation. Grounded on
// modbus/pdu.go's ReadRequest/WriteMultipleRegistersRequest and the
// function-code table in modbus/mbap.go.
type modbusOperation struct {
	table modbusTable
	addr  uint16
}

func newModbusOperation(a attr.Attrs) (Operation, error) {
	name := strings.ToLower(a.Name)
	var table modbusTable
	var rest string
	switch {
	case strings.HasPrefix(name, "hr"):
		table, rest = tableHoldingRegister, name[2:]
	case strings.HasPrefix(name, "ir"):
		table, rest = tableInputRegister, name[2:]
	case strings.HasPrefix(name, "co"):
		table, rest = tableCoil, name[2:]
	case strings.HasPrefix(name, "di"):
		table, rest = tableDiscreteInput, name[2:]
	default:
		return nil, wireerr.New(wireerr.ErrBadParam, "modbus tag name %q must start with hr/ir/co/di", a.Name)
	}
	n, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return nil, wireerr.Wrap(wireerr.ErrBadParam, err, "modbus tag name %q: bad address", a.Name)
	}
	return &modbusOperation{table: table, addr: uint16(n)}, nil
}

func (o *modbusOperation) Kind() Kind { return KindModbus }

// elementStart advances o.addr by byteOffset, treating one register (2
// bytes) or one bit (1 coil/discrete-input slot counted as a full
// "byte" unit for this library's generic fragmentation contract) as the
// unit of offset.
func (o *modbusOperation) elementStart(byteOffset int) uint16 {
	if o.table == tableCoil || o.table == tableDiscreteInput {
		return o.addr + uint16(byteOffset)
	}
	return o.addr + uint16(byteOffset/2)
}

func (o *modbusOperation) ReadStart(elementCount int, byteOffset int) ([]byte, error) {
	start := o.elementStart(byteOffset)
	switch o.table {
	case tableCoil:
		return modbus.ReadRequest(modbus.FuncReadCoils, start, uint16(elementCount))
	case tableDiscreteInput:
		return modbus.ReadRequest(modbus.FuncReadDiscreteInputs, start, uint16(elementCount))
	case tableHoldingRegister:
		return modbus.ReadRequest(modbus.FuncReadHoldingRegisters, start, uint16(elementCount))
	default:
		return modbus.ReadRequest(modbus.FuncReadInputRegisters, start, uint16(elementCount))
	}
}

func (o *modbusOperation) WriteStart(elementCount int, byteOffset int, typeCode uint16, value []byte) ([]byte, error) {
	start := o.elementStart(byteOffset)
	switch o.table {
	case tableCoil:
		bits := make([]bool, 0, len(value)*8)
		for _, b := range value {
			for bit := 0; bit < 8; bit++ {
				bits = append(bits, b&(1<<uint(bit)) != 0)
			}
		}
		if len(bits) > elementCount {
			bits = bits[:elementCount]
		}
		return modbus.WriteMultipleCoilsRequest(start, bits)
	case tableHoldingRegister:
		if len(value)%2 != 0 {
			return nil, wireerr.New(wireerr.ErrBadParam, "modbus register write needs an even byte count, got %d", len(value))
		}
		values := make([]uint16, len(value)/2)
		for i := range values {
			values[i] = uint16(value[2*i])<<8 | uint16(value[2*i+1])
		}
		return modbus.WriteMultipleRegistersRequest(start, values)
	default:
		return nil, wireerr.New(wireerr.ErrNotAllowed, "modbus table is read-only")
	}
}

func (o *modbusOperation) DecodeReadResult(raw []byte) (ReadResult, error) {
	if modbus.IsException(raw) {
		_, code, err := modbus.ParseException(raw)
		if err != nil {
			return ReadResult{}, err
		}
		return ReadResult{}, wireerr.New(wireerr.ErrRemoteErr, "modbus exception 0x%02x", code)
	}
	data, err := modbus.ParseReadResponse(raw)
	if err != nil {
		return ReadResult{}, err
	}
	if o.table == tableCoil || o.table == tableDiscreteInput {
		return ReadResult{TypeCode: udt.TypeBOOL, Data: data}, nil
	}
	return ReadResult{TypeCode: udt.TypeINT, Data: data}, nil
}

func (o *modbusOperation) DecodeWriteResult(raw []byte) error {
	if modbus.IsException(raw) {
		_, code, err := modbus.ParseException(raw)
		if err != nil {
			return err
		}
		return wireerr.New(wireerr.ErrRemoteErr, "modbus exception 0x%02x", code)
	}
	_, _, err := modbus.ParseWriteMultipleResponse(raw)
	return err
}

// SupportsFragmentation is true: a read or write exceeding the
// per-function element maximum (modbus.MaxReadRegisters etc.) can be
// split into successive requests at an advancing register offset.
func (o *modbusOperation) SupportsFragmentation() bool { return true }

func (o *modbusOperation) DefaultElementSize(typeCode uint16) int {
	if o.table == tableCoil || o.table == tableDiscreteInput {
		return 1
	}
	return 2
}

func (o *modbusOperation) Tickler() {}
func (o *modbusOperation) Abort()   {}
