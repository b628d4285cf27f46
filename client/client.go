// Package client is the process-wide facade spec.md §6 calls the
// public, language-neutral surface: create/destroy/status/read/write/
// abort on an integer handle, backed by one shared scheduler.Scheduler
// and a registry.Table handing out those handles.
//
// Grounded on yatesdr-warlogix/plcman/manager.go's Manager: a
// package-level (there, struct-level) map of long-lived connections
// looked up by callers from multiple goroutines, plus its
// GetStatus/GetError/GetValues family of terse, lock-guarded accessor
// methods — the shape this package's Get*/Status/ElemCount accessors
// copy directly.
package client

import (
	"sync"
	"time"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/internal/wirelog"
	"github.com/wartag/tagwire/registry"
	"github.com/wartag/tagwire/scheduler"
	"github.com/wartag/tagwire/tag"
)

// Library version, reported through CheckLibVersion and the
// version_major/minor/patch attribute accessors.
const (
	VersionMajor = 1
	VersionMinor = 0
	VersionPatch = 0
)

// Handle is the public integer identifier every operation in this
// package takes, standing in for libplctag's tag handle. A live tag's
// Handle is non-negative (the first tag created gets 0); Create returns
// a negative status code instead when it fails.
type Handle int32

// maxTagBytes bounds how large a Set* accessor may grow a tag's local
// buffer, so a runaway offset/value pair can't allocate without limit
// before any read has told us the real element size.
const maxTagBytes = 64 * 1024

var (
	sched = scheduler.New()
	table = registry.New[*tagEntry]()

	idIndexMu sync.Mutex
	idIndex   = make(map[int32]Handle)
)

// tagEntry is what a Handle actually names: the underlying *tag.Tag
// (nil while an async Create is still dialing), the local byte buffer
// the typed Get/Set accessors and Read/Write stage against, and the
// bookkeeping Create's background goroutine needs to report PENDING
// until the dial either finishes or times out.
type tagEntry struct {
	mu        sync.Mutex
	attrs     attr.Attrs
	tg        *tag.Tag
	creating  bool
	timedOut  bool
	createErr error
	buf       []byte
}

// statusCode renders a wireerr.Code the way spec.md §6 requires every
// public operation's return value to look: non-negative for OK/PENDING,
// negative for anything else.
func statusCode(c wireerr.Code) int {
	if c == wireerr.OK || c == wireerr.Pending {
		return int(c)
	}
	return -int(c)
}

func errStatus(err error) int {
	return statusCode(wireerr.CodeOf(err))
}

// CheckLibVersion reports 0 if this library satisfies a caller's minimum
// required version, or a negative ERR_UNSUPPORTED otherwise.
func CheckLibVersion(reqMajor, reqMinor, reqPatch int) int {
	if reqMajor != VersionMajor {
		return statusCode(wireerr.ErrUnsupported)
	}
	if reqMinor > VersionMinor || (reqMinor == VersionMinor && reqPatch > VersionPatch) {
		return statusCode(wireerr.ErrUnsupported)
	}
	return statusCode(wireerr.OK)
}

// SetDebugLevel sets the process-wide log verbosity every tag created
// afterward logs at, mirroring libplctag's single global debug knob —
// this library has one shared Scheduler, so there is only one logger to
// configure, not one per tag.
func SetDebugLevel(level int) {
	sched.Log = wirelog.NewStdout(wirelog.LevelFromAttr(level))
}

func lookup(h Handle) (*tagEntry, bool) {
	return table.Get(registry.Handle(h))
}

// Create parses attrString (spec.md §6's key=value attribute string),
// allocates a Handle immediately, and dials the tag's session in the
// background — matching libplctag's create(), whose caller polls
// Status() for PENDING until the connection either comes up or
// timeoutMs elapses. A malformed attribute string fails synchronously,
// before any Handle is allocated, since no dial could ever succeed.
func Create(attrString string, timeoutMs int) Handle {
	a, err := attr.Parse(attrString)
	if err != nil {
		return Handle(errStatus(err))
	}
	if a.DebugLevel > 0 {
		SetDebugLevel(a.DebugLevel)
	}

	entry := &tagEntry{creating: true, attrs: a}
	h := Handle(table.Insert(entry))

	if timeoutMs > 0 {
		time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			entry.mu.Lock()
			if entry.creating {
				entry.timedOut = true
			}
			entry.mu.Unlock()
		})
	}

	go func() {
		tg, cerr := tag.NewTag(sched, a)
		entry.mu.Lock()
		entry.creating = false
		entry.tg = tg
		entry.createErr = cerr
		entry.mu.Unlock()
		if cerr == nil {
			idIndexMu.Lock()
			idIndex[tg.ID()] = h
			idIndexMu.Unlock()
		}
	}()

	return h
}

// Destroy tears down h's tag and session reference and releases the
// handle back to the table. Destroying an in-progress Create aborts it
// once the dial finishes instead of blocking the caller.
func Destroy(h Handle) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}

	entry.mu.Lock()
	tg := entry.tg
	entry.mu.Unlock()

	if tg != nil {
		tg.Destroy()
		idIndexMu.Lock()
		delete(idIndex, tg.ID())
		idIndexMu.Unlock()
	}
	unregisterCallback(h)
	table.Remove(registry.Handle(h))
	return statusCode(wireerr.OK)
}

// Status reports h's current outcome without blocking: PENDING while an
// async Create is still dialing, the create error if the dial failed,
// else the tag's most recently completed operation status.
func Status(h Handle) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.creating {
		if entry.timedOut {
			return statusCode(wireerr.ErrTimeout)
		}
		return statusCode(wireerr.Pending)
	}
	if entry.createErr != nil {
		return errStatus(entry.createErr)
	}
	return statusCode(entry.tg.Status())
}

func readyTag(entry *tagEntry) (*tag.Tag, int) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.creating {
		if entry.timedOut {
			return nil, statusCode(wireerr.ErrTimeout)
		}
		return nil, statusCode(wireerr.Pending)
	}
	if entry.createErr != nil {
		return nil, errStatus(entry.createErr)
	}
	return entry.tg, statusCode(wireerr.OK)
}

// Read blocks until h's tag completes a read or timeoutMs elapses, then
// refreshes the local buffer the typed accessors read from.
func Read(h Handle, timeoutMs int) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}
	tg, code := readyTag(entry)
	if tg == nil {
		return code
	}
	if err := tg.Read(time.Duration(timeoutMs) * time.Millisecond); err != nil {
		return errStatus(err)
	}
	entry.mu.Lock()
	entry.buf = tg.GetBytes()
	entry.mu.Unlock()
	return statusCode(wireerr.OK)
}

// Write stages the local buffer the typed Set* accessors built up and
// blocks until h's tag's write completes or timeoutMs elapses.
func Write(h Handle, timeoutMs int) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}
	tg, code := readyTag(entry)
	if tg == nil {
		return code
	}
	entry.mu.Lock()
	buf := append([]byte(nil), entry.buf...)
	entry.mu.Unlock()
	if err := tg.SetBytes(buf); err != nil {
		return errStatus(err)
	}
	if err := tg.Write(time.Duration(timeoutMs) * time.Millisecond); err != nil {
		return errStatus(err)
	}
	return statusCode(wireerr.OK)
}

// Abort cancels whatever h's tag currently has in flight.
func Abort(h Handle) int {
	entry, ok := lookup(h)
	if !ok {
		return statusCode(wireerr.ErrNotFound)
	}
	tg, code := readyTag(entry)
	if tg == nil {
		return code
	}
	tg.Abort()
	return statusCode(wireerr.OK)
}

// Size reports the local buffer's current length in bytes.
func Size(h Handle) (int, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.buf), statusCode(wireerr.OK)
}

// ElemSize reports h's per-element wire size.
func ElemSize(h Handle) (int, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	tg, code := readyTag(entry)
	if tg == nil {
		return 0, code
	}
	return tg.ElemSize(), statusCode(wireerr.OK)
}

// ElemCount reports h's configured element count.
func ElemCount(h Handle) (int, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	tg, code := readyTag(entry)
	if tg == nil {
		return 0, code
	}
	return tg.ElemCount(), statusCode(wireerr.OK)
}

// ConnectionGroupID reports the connection_group_id h's attribute
// string set, fixed at create time.
func ConnectionGroupID(h Handle) (int32, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	return entry.attrs.ConnectionGroup, statusCode(wireerr.OK)
}

// AutoSyncReadMS reports h's auto_sync_read_ms attribute, fixed at
// create time.
func AutoSyncReadMS(h Handle) (int, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	return entry.attrs.AutoSyncReadMS, statusCode(wireerr.OK)
}

// AutoSyncWriteMS reports h's auto_sync_write_ms attribute, fixed at
// create time.
func AutoSyncWriteMS(h Handle) (int, int) {
	entry, ok := lookup(h)
	if !ok {
		return 0, statusCode(wireerr.ErrNotFound)
	}
	return entry.attrs.AutoSyncWriteMS, statusCode(wireerr.OK)
}
