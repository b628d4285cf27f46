package tag

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/registry"
	"github.com/wartag/tagwire/scheduler"
	"github.com/wartag/tagwire/session"
)

// writeFrameOverhead is subtracted from a Session's negotiated
// MaxPacketSize to leave room for the CIP/PCCC/Modbus framing a write
// chunk still needs once its payload is sized.
const writeFrameOverhead = 64

var nextTagID int32

// Tag is one caller-visible read/write/abort/destroy state machine,
// spec.md §4.5's description of what libplctag's tag handle actually is:
// one registry.Operation (the protocol-specific wire behaviour) bound to
// one shared scheduler.Session (the connection multiple tags may share),
// serialized by its own mutex so Read/Write/Abort/Destroy never race
// each other even though completions arrive on the scheduler's
// goroutine.
type Tag struct {
	id    int32
	attrs attr.Attrs
	op    registry.Operation
	sched *scheduler.Scheduler
	sess  *scheduler.Session

	mu      sync.Mutex
	state   State
	status  wireerr.Code
	data    []byte
	typeCode uint16
	offset  int // fragmentation read/write cursor

	firstReadCompleted bool
	createdFired       bool

	writeData []byte

	generation uint64
	inFlight   *session.Request
	done       chan struct{}

	stopAutoSync chan struct{}
}

// NewTag resolves a's registry.Operation and dials (or joins) the
// Session for a's endpoint identity, returning a Tag ready for Read and
// Write. Dialing happens synchronously here because scheduler.SessionFor
// itself blocks until the connection is up — there is no asynchronous
// StateInitializing window a caller can observe, matching libplctag's
// own create() which blocks up to its timeout.
func NewTag(sched *scheduler.Scheduler, a attr.Attrs) (*Tag, error) {
	op, err := registry.NewOperation(a)
	if err != nil {
		return nil, err
	}

	t := &Tag{
		id:    atomic.AddInt32(&nextTagID, 1),
		attrs: a,
		op:    op,
		sched: sched,
		state: StateInitializing,
	}

	sess, err := sched.SessionFor(a)
	if err != nil {
		return nil, err
	}
	t.sess = sess
	t.state = StateIdle

	if a.AutoSyncReadMS > 0 || a.AutoSyncWriteMS > 0 {
		t.startAutoSync()
	}
	return t, nil
}

// ID is the tag's process-wide-unique identifier, the value every Event
// this tag causes carries as Event.TagID.
func (t *Tag) ID() int32 { return t.id }

// State reports the tag's current lifecycle state.
func (t *Tag) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Status reports the outcome of the most recently completed operation.
func (t *Tag) Status() wireerr.Code {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// GetBytes returns a copy of the tag's current read buffer.
func (t *Tag) GetBytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.data...)
}

// ElemCount reports the element count a read will request, defaulting
// to 1 when the attribute string left it unset. attrs is fixed at
// creation time, so this needs no lock.
func (t *Tag) ElemCount() int {
	if t.attrs.ElemCount == 0 {
		return 1
	}
	return int(t.attrs.ElemCount)
}

// ElemSize reports the per-element wire size: the attribute string's
// explicit override if given, else the operation's default for the
// tag's currently-known type code (0 until a first read completes).
func (t *Tag) ElemSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attrs.ElemSize != 0 {
		return int(t.attrs.ElemSize)
	}
	return t.op.DefaultElementSize(t.typeCode)
}

// TypeCode reports the CIP elementary type code discovered by the most
// recent successful read, or the attribute string's elem_type override
// if one was given and no read has completed yet.
func (t *Tag) TypeCode() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typeCode != 0 {
		return t.typeCode
	}
	return uint16(t.attrs.ElemType)
}

// SetBytes stages b as the payload the next Write call sends. Write
// fails if called with nothing staged.
func (t *Tag) SetBytes(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateIdle {
		return wireerr.New(wireerr.ErrBusy, "tag is not idle")
	}
	t.writeData = append([]byte(nil), b...)
	return nil
}

// emit reports ev against this tag's Scheduler, with this tag's id.
func (t *Tag) emit(kind scheduler.EventKind) {
	t.sched.Emit(scheduler.Event{Kind: kind, TagID: t.id})
}

// maxChunk is the largest payload size one wire request can carry,
// derived from the shared Session's negotiated packet ceiling.
func (t *Tag) maxChunk() int {
	max := t.sess.Transport.MaxPacketSize() - writeFrameOverhead
	if max < 64 {
		max = 64
	}
	return max
}

// Read issues a read and blocks until it completes, fails, or timeout
// elapses. A timed-out Read aborts the tag exactly as an explicit Abort
// call would.
func (t *Tag) Read(timeout time.Duration) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return wireerr.New(wireerr.ErrBusy, "tag is not idle")
	}
	t.generation++
	gen := t.generation
	t.offset = 0
	t.state = StateReading
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	t.emit(scheduler.EventReadStarted)
	if err := t.enqueueRead(gen, 0); err != nil {
		t.mu.Lock()
		t.state = StateIdle
		t.status = wireerr.CodeOf(err)
		t.mu.Unlock()
		return err
	}
	return t.wait(done, timeout)
}

// Write stages the buffer SetBytes populated and issues a write,
// blocking until it completes, fails, or timeout elapses. If no read
// has completed yet for this tag, the type code a write needs to encode
// isn't known, so Write first performs an implicit read
// (StatePreWriteReading) and synthesizes the write once it completes —
// spec.md §4.5's pre-write-read rule for a tag nobody has read yet.
func (t *Tag) Write(timeout time.Duration) error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return wireerr.New(wireerr.ErrBusy, "tag is not idle")
	}
	if len(t.writeData) == 0 {
		t.mu.Unlock()
		return wireerr.New(wireerr.ErrBadParam, "no data staged for write")
	}
	t.generation++
	gen := t.generation
	done := make(chan struct{})
	t.done = done

	needsPreRead := !t.firstReadCompleted
	if needsPreRead {
		t.state = StatePreWriteReading
		t.offset = 0
	} else {
		t.state = StateWriting
	}
	t.mu.Unlock()

	var err error
	if needsPreRead {
		t.emit(scheduler.EventReadStarted)
		err = t.enqueueRead(gen, 0)
	} else {
		t.emit(scheduler.EventWriteStarted)
		err = t.enqueueWrite(gen, 0)
	}
	if err != nil {
		t.mu.Lock()
		t.state = StateIdle
		t.status = wireerr.CodeOf(err)
		t.mu.Unlock()
		return err
	}
	return t.wait(done, timeout)
}

func (t *Tag) wait(done chan struct{}, timeout time.Duration) error {
	select {
	case <-done:
		t.mu.Lock()
		status := t.status
		t.mu.Unlock()
		if status != wireerr.OK {
			return wireerr.New(status, "operation failed")
		}
		return nil
	case <-time.After(timeout):
		t.Abort()
		return wireerr.New(wireerr.ErrTimeout, "operation timed out")
	}
}

// Abort cancels whatever is in flight, transitioning the tag to Idle
// with status ERR_ABORT immediately — spec.md §4.5 requires this happen
// without waiting for a reply that may never arrive, so Abort bumps the
// generation counter to make any later-arriving completion for the
// aborted operation a no-op instead of resurrecting stale data.
func (t *Tag) Abort() {
	t.mu.Lock()
	if t.state == StateIdle || t.state == StateCreated {
		t.mu.Unlock()
		return
	}
	t.generation++
	if t.inFlight != nil {
		t.inFlight.Abort()
		t.inFlight = nil
	}
	t.op.Abort()
	t.state = StateIdle
	t.status = wireerr.ErrAbort
	done := t.done
	t.done = nil
	t.mu.Unlock()

	t.emit(scheduler.EventAborted)
	if done != nil {
		close(done)
	}
}

// Destroy aborts any in-flight operation, stops auto-sync, fires
// DESTROYED, and releases this tag's reference on its shared Session —
// tearing the Session down if this was the last tag using it (spec.md
// §4.5's destroy() teardown rule).
func (t *Tag) Destroy() {
	t.Abort()
	t.stopAutoSyncLoop()
	t.emit(scheduler.EventDestroyed)
	t.sched.ReleaseSession(t.attrs)
}

func (t *Tag) enqueueRead(gen uint64, byteOffset int) error {
	body, err := t.op.ReadStart(t.ElemCount(), byteOffset)
	if err != nil {
		return err
	}
	req := session.NewRequest(t.sched.NextRequestID(), t.id, body, t.attrs.UseConnectedMsg, func(r *session.Request) {
		t.onReadComplete(gen, r)
	})
	req.AllowPacking = t.attrs.AllowPacking
	t.mu.Lock()
	t.inFlight = req
	t.mu.Unlock()
	return t.sess.Enqueue(req)
}

func (t *Tag) enqueueWrite(gen uint64, byteOffset int) error {
	t.mu.Lock()
	full := t.writeData
	typeCode := t.typeCode
	if typeCode == 0 {
		typeCode = uint16(t.attrs.ElemType)
	}
	end := len(full)
	limit := t.maxChunk()
	if end-byteOffset > limit {
		if !t.op.SupportsFragmentation() {
			t.mu.Unlock()
			return wireerr.New(wireerr.ErrTooLarge, "write of %d bytes exceeds single-packet limit of %d", len(full), limit)
		}
		end = byteOffset + limit
	}
	chunk := append([]byte(nil), full[byteOffset:end]...)
	t.mu.Unlock()

	body, err := t.op.WriteStart(t.ElemCount(), byteOffset, typeCode, chunk)
	if err != nil {
		return err
	}
	req := session.NewRequest(t.sched.NextRequestID(), t.id, body, t.attrs.UseConnectedMsg, func(r *session.Request) {
		t.onWriteComplete(gen, r, end)
	})
	req.AllowPacking = t.attrs.AllowPacking
	t.mu.Lock()
	t.inFlight = req
	t.mu.Unlock()
	return t.sess.Enqueue(req)
}

func (t *Tag) onReadComplete(gen uint64, req *session.Request) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.inFlight = nil
	t.mu.Unlock()

	if req.Status != wireerr.OK && req.Status != wireerr.ErrPartial {
		t.complete(req.Status, t.readEventKind())
		return
	}

	result, err := t.op.DecodeReadResult(req.Response)
	if err != nil {
		t.complete(wireerr.CodeOf(err), t.readEventKind())
		return
	}

	t.mu.Lock()
	if t.offset == 0 {
		t.data = append([]byte(nil), result.Data...)
	} else {
		t.data = append(t.data, result.Data...)
	}
	t.typeCode = result.TypeCode
	partial := result.Partial && t.op.SupportsFragmentation()
	overflow := result.Partial && !t.op.SupportsFragmentation()
	if partial {
		t.offset = len(t.data)
	}
	t.mu.Unlock()

	if overflow {
		t.complete(wireerr.ErrTooLarge, t.readEventKind())
		return
	}
	if partial {
		if err := t.enqueueRead(gen, t.offset); err != nil {
			t.complete(wireerr.CodeOf(err), t.readEventKind())
		}
		return
	}

	t.mu.Lock()
	t.offset = 0
	t.firstReadCompleted = true
	wasPreWrite := t.state == StatePreWriteReading
	t.mu.Unlock()

	if wasPreWrite {
		t.mu.Lock()
		t.state = StateWriting
		t.mu.Unlock()
		t.emit(scheduler.EventWriteStarted)
		if err := t.enqueueWrite(gen, 0); err != nil {
			t.complete(wireerr.CodeOf(err), scheduler.EventWriteCompleted)
		}
		return
	}

	t.complete(wireerr.OK, scheduler.EventReadCompleted)
}

func (t *Tag) onWriteComplete(gen uint64, req *session.Request, sentUpTo int) {
	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.inFlight = nil
	total := len(t.writeData)
	t.mu.Unlock()

	if req.Status != wireerr.OK && req.Status != wireerr.ErrPartial {
		t.complete(req.Status, scheduler.EventWriteCompleted)
		return
	}
	if err := t.op.DecodeWriteResult(req.Response); err != nil {
		t.complete(wireerr.CodeOf(err), scheduler.EventWriteCompleted)
		return
	}
	if req.Status == wireerr.ErrPartial && sentUpTo < total {
		if err := t.enqueueWrite(gen, sentUpTo); err != nil {
			t.complete(wireerr.CodeOf(err), scheduler.EventWriteCompleted)
		}
		return
	}
	t.complete(wireerr.OK, scheduler.EventWriteCompleted)
}

// readEventKind reports whether an in-progress read should be announced
// as READ_COMPLETED or WRITE_COMPLETED — the latter only applies to the
// implicit pre-write read, whose failure must still be reported as the
// write the caller actually asked for failing.
func (t *Tag) readEventKind() scheduler.EventKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StatePreWriteReading {
		return scheduler.EventWriteCompleted
	}
	return scheduler.EventReadCompleted
}

// complete finalizes the in-flight operation: records status, returns
// the tag to Idle, fires kind and — the first time any operation on
// this tag ever succeeds — CREATED, then releases whoever is blocked in
// wait.
func (t *Tag) complete(status wireerr.Code, kind scheduler.EventKind) {
	t.mu.Lock()
	t.status = status
	t.state = StateIdle
	done := t.done
	t.done = nil
	firstSuccess := !t.createdFired && status == wireerr.OK
	if firstSuccess {
		t.createdFired = true
	}
	t.mu.Unlock()

	t.emit(kind)
	if firstSuccess {
		t.emit(scheduler.EventCreated)
	}
	if done != nil {
		close(done)
	}
}
