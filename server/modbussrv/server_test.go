package modbussrv

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/modbus"
)

func startTestServer(t *testing.T, cfg config.ModbusServerConfig) (*Server, net.Conn) {
	t.Helper()
	s := NewServer(cfg)
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)

	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func roundTrip(t *testing.T, conn net.Conn, txID uint16, pdu []byte) []byte {
	return roundTripUnit(t, conn, txID, 1, pdu)
}

func roundTripUnit(t *testing.T, conn net.Conn, txID uint16, unitID byte, pdu []byte) []byte {
	t.Helper()
	req := modbus.Frame{Header: modbus.MBAPHeader{TransactionID: txID, UnitID: unitID}, PDU: pdu}
	if _, err := conn.Write(req.Bytes()); err != nil {
		t.Fatalf("write: %v", err)
	}

	header := make([]byte, modbus.MBAPHeaderLen)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	h, err := modbus.ParseMBAPHeader(header)
	if err != nil {
		t.Fatalf("parse header: %v", err)
	}
	body := make([]byte, int(h.Length)-1)
	if len(body) > 0 {
		if _, err := readFull(conn, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	if h.TransactionID != txID {
		t.Fatalf("transaction id = %d, want %d", h.TransactionID, txID)
	}
	return body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		if err != nil {
			return n, err
		}
		n += m
	}
	return n, nil
}

func TestReadHoldingRegisters(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 10, Coils: 10, DiscreteInputs: 10, InputRegisters: 10, UnitID: 1}
	s, conn := startTestServer(t, cfg)
	s.SeedHoldingRegister(3, 0xBEEF)

	req, _ := modbus.ReadRequest(modbus.FuncReadHoldingRegisters, 3, 1)
	resp := roundTrip(t, conn, 1, req)

	data, err := modbus.ParseReadResponse(resp)
	if err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	if got := binary.BigEndian.Uint16(data); got != 0xBEEF {
		t.Errorf("register = 0x%04x, want 0xBEEF", got)
	}
}

func TestWriteSingleCoilThenReadBack(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 10, Coils: 10, DiscreteInputs: 10, InputRegisters: 10, UnitID: 1}
	_, conn := startTestServer(t, cfg)

	writeReq := modbus.WriteSingleCoilRequest(5, true)
	writeResp := roundTrip(t, conn, 2, writeReq)
	addr, value, err := modbus.ParseWriteSingleResponse(writeResp)
	if err != nil || addr != 5 || value != 0xFF00 {
		t.Fatalf("write single coil reply = addr %d value 0x%04x err %v", addr, value, err)
	}

	readReq, _ := modbus.ReadRequest(modbus.FuncReadCoils, 0, 8)
	readResp := roundTrip(t, conn, 3, readReq)
	data, err := modbus.ParseReadResponse(readResp)
	if err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	bits := modbus.UnpackBits(data, 8)
	if !bits[5] {
		t.Errorf("coil 5 = false, want true")
	}
}

func TestWriteMultipleRegistersRoundTrip(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 10, Coils: 10, DiscreteInputs: 10, InputRegisters: 10, UnitID: 1}
	_, conn := startTestServer(t, cfg)

	values := []uint16{0x0001, 0x0002, 0x0003}
	writeReq, err := modbus.WriteMultipleRegistersRequest(0, values)
	if err != nil {
		t.Fatalf("WriteMultipleRegistersRequest: %v", err)
	}
	writeResp := roundTrip(t, conn, 4, writeReq)
	start, qty, err := modbus.ParseWriteMultipleResponse(writeResp)
	if err != nil || start != 0 || qty != 3 {
		t.Fatalf("write multiple reply = start %d qty %d err %v", start, qty, err)
	}

	readReq, _ := modbus.ReadRequest(modbus.FuncReadHoldingRegisters, 0, 3)
	readResp := roundTrip(t, conn, 5, readReq)
	data, err := modbus.ParseReadResponse(readResp)
	if err != nil {
		t.Fatalf("ParseReadResponse: %v", err)
	}
	for i, want := range values {
		if got := binary.BigEndian.Uint16(data[2*i : 2*i+2]); got != want {
			t.Errorf("register[%d] = 0x%04x, want 0x%04x", i, got, want)
		}
	}
}

func TestReadOutOfRangeReturnsIllegalDataAddress(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 4, Coils: 4, DiscreteInputs: 4, InputRegisters: 4, UnitID: 1}
	_, conn := startTestServer(t, cfg)

	req, _ := modbus.ReadRequest(modbus.FuncReadHoldingRegisters, 2, 10)
	resp := roundTrip(t, conn, 6, req)
	if !modbus.IsException(resp) {
		t.Fatalf("expected exception PDU, got %x", resp)
	}
	fn, code, err := modbus.ParseException(resp)
	if err != nil {
		t.Fatalf("ParseException: %v", err)
	}
	if fn != modbus.FuncReadHoldingRegisters || code != modbus.ExcIllegalDataAddress {
		t.Errorf("exception = fn 0x%02x code 0x%02x, want fn 0x%02x code 0x%02x", fn, code, modbus.FuncReadHoldingRegisters, modbus.ExcIllegalDataAddress)
	}
}

func TestWrongUnitIDReturnsGatewayPathException(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 4, Coils: 4, DiscreteInputs: 4, InputRegisters: 4, UnitID: 7}
	_, conn := startTestServer(t, cfg)

	req, _ := modbus.ReadRequest(modbus.FuncReadHoldingRegisters, 0, 1)
	resp := roundTrip(t, conn, 7, req)
	if !modbus.IsException(resp) {
		t.Fatalf("expected exception PDU, got %x", resp)
	}
	_, code, err := modbus.ParseException(resp)
	if err != nil {
		t.Fatalf("ParseException: %v", err)
	}
	if code != modbus.ExcGatewayPathUnavailable {
		t.Errorf("exception code = 0x%02x, want 0x%02x", code, modbus.ExcGatewayPathUnavailable)
	}
}

func TestUnknownFunctionCodeReturnsIllegalFunction(t *testing.T) {
	cfg := config.ModbusServerConfig{HoldingRegisters: 4, Coils: 4, DiscreteInputs: 4, InputRegisters: 4, UnitID: 1}
	_, conn := startTestServer(t, cfg)

	resp := roundTrip(t, conn, 8, []byte{0x44, 0x00})
	if !modbus.IsException(resp) {
		t.Fatalf("expected exception PDU, got %x", resp)
	}
	_, code, err := modbus.ParseException(resp)
	if err != nil {
		t.Fatalf("ParseException: %v", err)
	}
	if code != modbus.ExcIllegalFunction {
		t.Errorf("exception code = 0x%02x, want 0x%02x", code, modbus.ExcIllegalFunction)
	}
}
