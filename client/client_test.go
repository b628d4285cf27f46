package client

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/modbus"
	"github.com/wartag/tagwire/scheduler"
	"github.com/wartag/tagwire/session"
)

// fakeModbusDevice is the same in-memory session.Transport tag_test.go
// uses: it parses real Modbus PDUs and answers from a tiny in-memory
// register file, so these tests exercise the real codec path end to
// end instead of mocking at the tag/Operation boundary.
type fakeModbusDevice struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	txID      uint32
	inbox     chan []byte
}

func newFakeModbusDevice() *fakeModbusDevice {
	return &fakeModbusDevice{registers: make(map[uint16]uint16), inbox: make(chan []byte, 16)}
}

func (d *fakeModbusDevice) Dial() error      { return nil }
func (d *fakeModbusDevice) Close() error     { return nil }
func (d *fakeModbusDevice) Endpoint() string { return "fake-modbus" }
func (d *fakeModbusDevice) MaxPacketSize() int { return 260 }

func (d *fakeModbusDevice) BuildPacket(req *session.Request) ([]byte, uint64, error) {
	d.mu.Lock()
	d.txID++
	txID := d.txID
	d.mu.Unlock()
	frame := modbus.Frame{Header: modbus.MBAPHeader{TransactionID: uint16(txID)}, PDU: req.Body}
	return frame.Bytes(), uint64(txID), nil
}

func (d *fakeModbusDevice) WriteFrame(wire []byte) error {
	frame, err := modbus.ParseFrame(wire)
	if err != nil {
		return err
	}
	reply := d.respond(frame.PDU)
	out := modbus.Frame{Header: frame.Header, PDU: reply}
	d.inbox <- out.Bytes()
	return nil
}

func (d *fakeModbusDevice) ReadFrame() ([]byte, error) {
	frame, ok := <-d.inbox
	if !ok {
		return nil, wireerr.New(wireerr.ErrClose, "closed")
	}
	return frame, nil
}

func (d *fakeModbusDevice) Correlate(frame []byte) (uint64, []byte, wireerr.Code, error) {
	f, err := modbus.ParseFrame(frame)
	if err != nil {
		return 0, nil, wireerr.ErrBadReply, err
	}
	status := wireerr.OK
	if modbus.IsException(f.PDU) {
		status = wireerr.ErrRemoteErr
	}
	return uint64(f.Header.TransactionID), f.PDU, status, nil
}

func (d *fakeModbusDevice) respond(pdu []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(pdu) < 5 {
		return modbus.ExceptionResponse(pdu[0], modbus.ExcIllegalDataValue)
	}
	switch pdu[0] {
	case modbus.FuncReadHoldingRegisters:
		start := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])
		data := make([]byte, 0, int(qty)*2)
		for i := uint16(0); i < qty; i++ {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], d.registers[start+i])
			data = append(data, b[:]...)
		}
		return modbus.ReadResponse(modbus.FuncReadHoldingRegisters, data)
	case modbus.FuncWriteMultipleRegisters:
		start := binary.BigEndian.Uint16(pdu[1:3])
		qty := binary.BigEndian.Uint16(pdu[3:5])
		values := pdu[6:]
		for i := uint16(0); i < qty; i++ {
			d.registers[start+i] = binary.BigEndian.Uint16(values[2*i : 2*i+2])
		}
		resp := []byte{modbus.FuncWriteMultipleRegisters}
		resp = binary.BigEndian.AppendUint16(resp, start)
		resp = binary.BigEndian.AppendUint16(resp, qty)
		return resp
	default:
		return modbus.ExceptionResponse(pdu[0], modbus.ExcIllegalFunction)
	}
}

func useFakeDevice(t *testing.T, dev session.Transport) {
	t.Helper()
	prev := sched
	sched = scheduler.New()
	sched.SetTransportFactory(func(attr.Attrs) (session.Transport, error) { return dev, nil })
	sched.AddListener(dispatchEvent)
	t.Cleanup(func() { sched = prev })
}

func waitReady(t *testing.T, h Handle) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if Status(h) != statusCode(wireerr.Pending) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("handle %d never left PENDING", h)
}

func attrString(name string) string {
	return "protocol=modbus-tcp&gateway=10.0.0.9&path=1&name=" + name
}

func TestCreateReadWriteRoundTrip(t *testing.T) {
	dev := newFakeModbusDevice()
	dev.registers[0] = 0x00AA
	useFakeDevice(t, dev)

	h := Create(attrString("hr0"), 1000)
	if h < 0 {
		t.Fatalf("Create = %d", h)
	}
	waitReady(t, h)
	defer Destroy(h)

	if code := Read(h, 1000); code != statusCode(wireerr.OK) {
		t.Fatalf("Read = %d", code)
	}
	v, code := GetUint16(h, 0)
	if code < 0 || v != 0x00AA {
		t.Fatalf("GetUint16 = %d, code %d", v, code)
	}

	if code := SetUint16(h, 0, 0x1234); code < 0 {
		t.Fatalf("SetUint16 = %d", code)
	}
	if code := Write(h, 1000); code != statusCode(wireerr.OK) {
		t.Fatalf("Write = %d", code)
	}

	dev.mu.Lock()
	got := dev.registers[0]
	dev.mu.Unlock()
	if got != 0x1234 {
		t.Errorf("register[0] = 0x%04x, want 0x1234", got)
	}
}

func TestCreateBadAttrStringFailsSynchronously(t *testing.T) {
	h := Create("protocol=bogus&gateway=x&name=y", 100)
	if h >= 0 {
		t.Fatalf("Create with bad protocol = %d, want negative", h)
	}
}

func TestDestroyUnknownHandle(t *testing.T) {
	if code := Destroy(Handle(999999)); code >= 0 {
		t.Errorf("Destroy(unknown) = %d, want negative", code)
	}
}

func TestReadUnknownHandle(t *testing.T) {
	if code := Read(Handle(999999), 100); code >= 0 {
		t.Errorf("Read(unknown) = %d, want negative", code)
	}
}

func TestRegisterCallbackReceivesEvents(t *testing.T) {
	dev := newFakeModbusDevice()
	useFakeDevice(t, dev)

	h := Create(attrString("hr1"), 1000)
	waitReady(t, h)
	defer Destroy(h)

	var mu sync.Mutex
	var kinds []scheduler.EventKind
	if code := RegisterCallback(h, func(gotH Handle, kind scheduler.EventKind, ctx interface{}) {
		if gotH != h {
			t.Errorf("callback handle = %d, want %d", gotH, h)
		}
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}, nil); code < 0 {
		t.Fatalf("RegisterCallback = %d", code)
	}

	if code := Read(h, 1000); code != statusCode(wireerr.OK) {
		t.Fatalf("Read = %d", code)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []scheduler.EventKind{scheduler.EventReadStarted, scheduler.EventReadCompleted, scheduler.EventCreated}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestGetSetStringRoundTrip(t *testing.T) {
	dev := newFakeModbusDevice()
	useFakeDevice(t, dev)

	h := Create(attrString("hr2"), 1000)
	waitReady(t, h)
	defer Destroy(h)

	// A holding-register tag's element size (2 bytes) is smaller than
	// the STRING header alone, so GetStringCapacity reports 0 and
	// SetString's bound check is skipped rather than rejecting every
	// write against a non-Logix tag.
	if code := SetString(h, 0, "hi"); code < 0 {
		t.Fatalf("SetString = %d", code)
	}
	got, code := GetString(h, 0)
	if code < 0 || got != "hi" {
		t.Fatalf("GetString = %q, code %d", got, code)
	}
}
