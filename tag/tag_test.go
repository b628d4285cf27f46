package tag

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

// fakeModbusDevice is an in-memory Transport standing in for a real
// Modbus/TCP socket: WriteFrame parses the outgoing PDU, updates or
// reads a tiny holding-register file, and synthesizes the matching reply
// frame using the real modbus codec — so the registry.Operation under
// test round-trips through genuine wire encoding/decoding, only the
// socket itself is faked.
type fakeModbusDevice struct {
	mu        sync.Mutex
	registers map[uint16]uint16
	txID      uint32
	inbox     chan []byte
	closed    bool
}

func newFakeModbusDevice() *fakeModbusDevice {
	return &fakeModbusDevice{registers: make(map[uint16]uint16), inbox: make(chan []byte, 16)}
}

func (d *fakeModbusDevice) Dial() error    { return nil }
func (d *fakeModbusDevice) Close() error   { d.mu.Lock(); defer d.mu.Unlock(); d.closed = true; return nil }
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

func newTestScheduler(dev session.Transport) *scheduler.Scheduler {
	s := scheduler.New()
	s.SetTransportFactory(func(attr.Attrs) (session.Transport, error) {
		return dev, nil
	})
	return s
}

func holdingRegisterAttrs(addr string) attr.Attrs {
	return attr.Attrs{
		Protocol:     attr.ProtocolModbusTCP,
		Gateway:      "10.0.0.9",
		Path:         "1",
		Name:         addr,
		AllowPacking: true,
	}
}

func TestNewTagStartsIdle(t *testing.T) {
	dev := newFakeModbusDevice()
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	tg, err := NewTag(sched, holdingRegisterAttrs("hr0"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if tg.State() != StateIdle {
		t.Errorf("State() = %v, want Idle", tg.State())
	}
}

func TestTagReadFiresStartedCompletedAndCreatedOnce(t *testing.T) {
	dev := newFakeModbusDevice()
	dev.registers[0] = 0x1234
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	var mu sync.Mutex
	var events []scheduler.EventKind
	sched.AddListener(func(ev scheduler.Event) {
		mu.Lock()
		events = append(events, ev.Kind)
		mu.Unlock()
	})

	tg, err := NewTag(sched, holdingRegisterAttrs("hr0"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}

	if err := tg.Read(time.Second); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := tg.GetBytes(); len(got) != 2 || got[0] != 0x12 || got[1] != 0x34 {
		t.Errorf("GetBytes() = % x, want 12 34", got)
	}
	if tg.Status() != wireerr.OK {
		t.Errorf("Status() = %v, want OK", tg.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	want := []scheduler.EventKind{scheduler.EventReadStarted, scheduler.EventReadCompleted, scheduler.EventCreated}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i, k := range want {
		if events[i] != k {
			t.Errorf("events[%d] = %v, want %v", i, events[i], k)
		}
	}
}

func TestTagSecondReadDoesNotRefireCreated(t *testing.T) {
	dev := newFakeModbusDevice()
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	var mu sync.Mutex
	createdCount := 0
	sched.AddListener(func(ev scheduler.Event) {
		if ev.Kind == scheduler.EventCreated {
			mu.Lock()
			createdCount++
			mu.Unlock()
		}
	})

	tg, err := NewTag(sched, holdingRegisterAttrs("hr0"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if err := tg.Read(time.Second); err != nil {
		t.Fatalf("Read #1: %v", err)
	}
	if err := tg.Read(time.Second); err != nil {
		t.Fatalf("Read #2: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if createdCount != 1 {
		t.Errorf("createdCount = %d, want 1", createdCount)
	}
}

func TestTagWriteBeforeAnyReadPerformsPreRead(t *testing.T) {
	dev := newFakeModbusDevice()
	dev.registers[5] = 0x00FF
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	var mu sync.Mutex
	var kinds []scheduler.EventKind
	sched.AddListener(func(ev scheduler.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	tg, err := NewTag(sched, holdingRegisterAttrs("hr5"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if err := tg.SetBytes([]byte{0xAB, 0xCD}); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if err := tg.Write(time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	dev.mu.Lock()
	got := dev.registers[5]
	dev.mu.Unlock()
	if got != 0xABCD {
		t.Errorf("register[5] = 0x%04x, want 0xABCD", got)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []scheduler.EventKind{scheduler.EventReadStarted, scheduler.EventWriteStarted, scheduler.EventWriteCompleted, scheduler.EventCreated}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("events[%d] = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestTagWriteAfterReadSkipsPreRead(t *testing.T) {
	dev := newFakeModbusDevice()
	dev.registers[9] = 0
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	tg, err := NewTag(sched, holdingRegisterAttrs("hr9"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if err := tg.Read(time.Second); err != nil {
		t.Fatalf("Read: %v", err)
	}

	var mu sync.Mutex
	var kinds []scheduler.EventKind
	sched.AddListener(func(ev scheduler.Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	if err := tg.SetBytes([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("SetBytes: %v", err)
	}
	if err := tg.Write(time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != scheduler.EventWriteStarted || kinds[1] != scheduler.EventWriteCompleted {
		t.Errorf("events = %v, want [WRITE_STARTED WRITE_COMPLETED]", kinds)
	}
}

func TestTagDestroyReleasesSharedSession(t *testing.T) {
	dev := newFakeModbusDevice()
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	a := holdingRegisterAttrs("hr0")
	tg1, err := NewTag(sched, a)
	if err != nil {
		t.Fatalf("NewTag #1: %v", err)
	}
	tg2, err := NewTag(sched, a)
	if err != nil {
		t.Fatalf("NewTag #2: %v", err)
	}

	tg1.Destroy()
	if _, err := NewTag(sched, a); err != nil {
		t.Fatalf("NewTag after partial release: %v", err)
	}
	tg2.Destroy()
}

func TestTagWriteWithoutStagedDataFails(t *testing.T) {
	dev := newFakeModbusDevice()
	sched := newTestScheduler(dev)
	defer sched.Shutdown()

	tg, err := NewTag(sched, holdingRegisterAttrs("hr0"))
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	if err := tg.Write(time.Second); wireerr.CodeOf(err) != wireerr.ErrBadParam {
		t.Errorf("code = %v, want ERR_BAD_PARAM", wireerr.CodeOf(err))
	}
}
