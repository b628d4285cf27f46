package modbussrv

import (
	"encoding/binary"

	"github.com/wartag/tagwire/modbus"
)

// dispatch decodes one Modbus PDU and returns the reply PDU, including
// exception PDUs — it never returns an error, since every malformed or
// out-of-range request still gets a well-formed Modbus answer.
func (s *Server) dispatch(unitID byte, pdu []byte) []byte {
	if len(pdu) == 0 {
		return modbus.ExceptionResponse(0, modbus.ExcIllegalFunction)
	}
	fn := pdu[0]
	if unitID != s.unitID {
		return modbus.ExceptionResponse(fn, modbus.ExcGatewayPathUnavailable)
	}

	switch fn {
	case modbus.FuncReadCoils:
		return s.readBits(fn, pdu, s.coils, modbus.MaxReadBits)
	case modbus.FuncReadDiscreteInputs:
		return s.readBits(fn, pdu, s.discreteInputs, modbus.MaxReadBits)
	case modbus.FuncReadHoldingRegisters:
		return s.readRegisters(fn, pdu, s.holdingRegisters, modbus.MaxReadRegisters)
	case modbus.FuncReadInputRegisters:
		return s.readRegisters(fn, pdu, s.inputRegisters, modbus.MaxReadRegisters)
	case modbus.FuncWriteSingleCoil:
		return s.writeSingleCoil(pdu)
	case modbus.FuncWriteSingleRegister:
		return s.writeSingleRegister(pdu)
	case modbus.FuncWriteMultipleCoils:
		return s.writeMultipleCoils(pdu)
	case modbus.FuncWriteMultipleRegisters:
		return s.writeMultipleRegisters(pdu)
	default:
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalFunction)
	}
}

func (s *Server) readBits(fn byte, pdu []byte, table []bool, maxQty int) []byte {
	if len(pdu) < 5 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty == 0 || int(qty) > maxQty {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	if int(start)+int(qty) > len(table) {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}

	s.tableMu.RLock()
	bits := make([]bool, qty)
	copy(bits, table[start:int(start)+int(qty)])
	s.tableMu.RUnlock()

	return modbus.ReadResponse(fn, modbus.PackBits(bits))
}

func (s *Server) readRegisters(fn byte, pdu []byte, table []uint16, maxQty int) []byte {
	if len(pdu) < 5 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty == 0 || int(qty) > maxQty {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	if int(start)+int(qty) > len(table) {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}

	s.tableMu.RLock()
	data := make([]byte, 0, int(qty)*2)
	for i := uint16(0); i < qty; i++ {
		data = binary.BigEndian.AppendUint16(data, table[start+i])
	}
	s.tableMu.RUnlock()

	return modbus.ReadResponse(fn, data)
}

func (s *Server) writeSingleCoil(pdu []byte) []byte {
	fn := modbus.FuncWriteSingleCoil
	if len(pdu) < 5 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])
	if value != 0x0000 && value != 0xFF00 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}

	s.tableMu.Lock()
	if int(addr) >= len(s.coils) {
		s.tableMu.Unlock()
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}
	s.coils[addr] = value == 0xFF00
	s.tableMu.Unlock()

	echo := make([]byte, len(pdu))
	copy(echo, pdu)
	return echo
}

func (s *Server) writeSingleRegister(pdu []byte) []byte {
	fn := modbus.FuncWriteSingleRegister
	if len(pdu) < 5 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	s.tableMu.Lock()
	if int(addr) >= len(s.holdingRegisters) {
		s.tableMu.Unlock()
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}
	s.holdingRegisters[addr] = value
	s.tableMu.Unlock()

	echo := make([]byte, len(pdu))
	copy(echo, pdu)
	return echo
}

func (s *Server) writeMultipleCoils(pdu []byte) []byte {
	fn := modbus.FuncWriteMultipleCoils
	if len(pdu) < 6 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := pdu[5]
	if qty == 0 || int(qty) > modbus.MaxWriteBits || len(pdu) < 6+int(byteCount) {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	bits := modbus.UnpackBits(pdu[6:6+int(byteCount)], int(qty))

	s.tableMu.Lock()
	if int(start)+int(qty) > len(s.coils) {
		s.tableMu.Unlock()
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}
	copy(s.coils[start:int(start)+int(qty)], bits)
	s.tableMu.Unlock()

	resp := []byte{fn}
	resp = binary.BigEndian.AppendUint16(resp, start)
	resp = binary.BigEndian.AppendUint16(resp, qty)
	return resp
}

func (s *Server) writeMultipleRegisters(pdu []byte) []byte {
	fn := modbus.FuncWriteMultipleRegisters
	if len(pdu) < 6 {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := pdu[5]
	if qty == 0 || int(qty) > modbus.MaxWriteRegisters || int(byteCount) != int(qty)*2 || len(pdu) < 6+int(byteCount) {
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataValue)
	}
	values := pdu[6 : 6+int(byteCount)]

	s.tableMu.Lock()
	if int(start)+int(qty) > len(s.holdingRegisters) {
		s.tableMu.Unlock()
		return modbus.ExceptionResponse(fn, modbus.ExcIllegalDataAddress)
	}
	for i := uint16(0); i < qty; i++ {
		s.holdingRegisters[start+i] = binary.BigEndian.Uint16(values[2*i : 2*i+2])
	}
	s.tableMu.Unlock()

	resp := []byte{fn}
	resp = binary.BigEndian.AppendUint16(resp, start)
	resp = binary.BigEndian.AppendUint16(resp, qty)
	return resp
}
