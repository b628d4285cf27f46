package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/wartag/tagwire/attr"
	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/internal/wirelog"
	"github.com/wartag/tagwire/session"
)

// Scheduler is the process-wide registry of live Sessions, keyed by the
// attr.EndpointIdentity tuple two tags must agree on to share one
// connection (spec.md §3). It owns the listener fanout every tag
// subscribes to and the monotonic request-id counter every enqueued
// Request needs.
//
// Grounded on yatesdr-warlogix/plcman/manager.go's top-level Manager:
// a mutex-guarded map of live connections, lazily dialed on first use
// and torn down together on Shutdown.
type Scheduler struct {
	Log *wirelog.Logger

	mu       sync.Mutex
	sessions map[attr.EndpointIdentity]*Session
	refs     map[attr.EndpointIdentity]int
	dial     singleflight.Group

	// transportFactory builds the Transport for a new Session; overridden
	// in tests to substitute an in-memory Transport for a real socket.
	transportFactory func(attr.Attrs) (session.Transport, error)

	listenersMu sync.Mutex
	listeners   []Listener

	nextReqID uint64
}

// New returns an empty Scheduler ready to vend Sessions.
func New() *Scheduler {
	return &Scheduler{
		Log:              wirelog.Nop(),
		sessions:         make(map[attr.EndpointIdentity]*Session),
		refs:             make(map[attr.EndpointIdentity]int),
		transportFactory: newTransport,
	}
}

// SetTransportFactory overrides how SessionFor builds a new Session's
// Transport. Production callers never need this — newTransport already
// dispatches on attr.Attrs.Protocol — but the tag and client packages'
// tests use it to substitute an in-memory Transport for a real socket.
func (s *Scheduler) SetTransportFactory(f func(attr.Attrs) (session.Transport, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportFactory = f
}

// NextRequestID returns a process-wide-unique, monotonically increasing
// request id for a new session.Request.
func (s *Scheduler) NextRequestID() uint64 {
	return atomic.AddUint64(&s.nextReqID, 1)
}

// AddListener registers fn to receive every Event this Scheduler's
// Sessions emit, across all endpoints.
func (s *Scheduler) AddListener(fn Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Emit fans an Event out to every registered Listener. Tags call this
// (indirectly, through the Scheduler they were created against) to
// report their own state-machine transitions; the Scheduler itself
// never originates Events, since only a Tag knows which TagID an
// in-flight Request belongs to.
func (s *Scheduler) Emit(ev Event) {
	s.listenersMu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// SessionFor returns the live Session for a's endpoint identity, dialing
// and starting a new one on first use, and counts the caller (a Tag) as
// a reference against that identity — paired with a later ReleaseSession
// call so the session can be torn down once its last tag is gone
// (spec.md §4.5's destroy() teardown rule). Concurrent callers asking
// for the same identity are deduplicated through a singleflight.Group
// keyed on the identity tuple, so two tags racing to be first never
// dial two sockets to the same endpoint — the loser simply receives the
// winner's Session instead of starting (and then discarding) its own.
func (s *Scheduler) SessionFor(a attr.Attrs) (*Session, error) {
	identity := a.Identity()

	s.mu.Lock()
	if existing, ok := s.sessions[identity]; ok {
		s.refs[identity]++
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	key := identityKey(identity)
	v, err, _ := s.dial.Do(key, func() (interface{}, error) {
		s.mu.Lock()
		if existing, ok := s.sessions[identity]; ok {
			s.mu.Unlock()
			return existing, nil
		}
		s.mu.Unlock()

		transport, err := s.transportFactory(a)
		if err != nil {
			return nil, err
		}
		sess := NewSession(transport)
		sess.Log = s.Log
		if err := sess.Start(); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.sessions[identity] = sess
		s.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.refs[identity]++
	s.mu.Unlock()
	return v.(*Session), nil
}

// ReleaseSession drops one tag's reference on a's endpoint identity.
// When the count reaches zero the Session is removed and stopped —
// Forward Close→UnRegisterSession→close socket, driven
// by Session.Stop — so a tag's destroy() doesn't leak a live connection
// nobody references anymore.
func (s *Scheduler) ReleaseSession(a attr.Attrs) {
	identity := a.Identity()

	s.mu.Lock()
	s.refs[identity]--
	var sess *Session
	if s.refs[identity] <= 0 {
		delete(s.refs, identity)
		sess = s.sessions[identity]
		delete(s.sessions, identity)
	}
	s.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
}

// identityKey renders an EndpointIdentity as a singleflight key. Distinct
// identities must never collide, so every field is included with an
// explicit separator.
func identityKey(id attr.EndpointIdentity) string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", id.Protocol, id.Gateway, id.Path, id.CPU, id.ConnectionGroup)
}

// Shutdown stops and closes every live Session.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Stop()
		}(sess)
	}
	wg.Wait()
}

// newTransport builds the session.Transport matching a's protocol,
// wiring attr.Attrs' Gateway/Path/CPU/UseConnectedMsg/ConnectionGroup
// fields into the protocol-specific constructor.
func newTransport(a attr.Attrs) (session.Transport, error) {
	switch a.Protocol {
	case attr.ProtocolABEIP:
		return newABTransport(a)
	case attr.ProtocolModbusTCP:
		return newModbusTransport(a)
	default:
		return nil, wireerr.New(wireerr.ErrBadConfig, "unknown protocol %q", a.Protocol)
	}
}

func newABTransport(a attr.Attrs) (session.Transport, error) {
	route, err := parseRoute(a.Path)
	if err != nil {
		return nil, err
	}
	var slot byte
	if len(route) == 2 && route[0] == 0x01 {
		slot = route[1]
	}
	tr := session.NewABTransport(a.Gateway, slot)
	if len(route) > 0 {
		tr.ConnectionPath = route
	}
	tr.UseConnectedMsg = a.UseConnectedMsg
	return tr, nil
}

func newModbusTransport(a attr.Attrs) (session.Transport, error) {
	unit, err := strconv.ParseUint(strings.TrimSpace(a.Path), 10, 8)
	if err != nil {
		return nil, wireerr.Wrap(wireerr.ErrBadParam, err, "modbus path %q is not a unit id", a.Path)
	}
	return session.NewModbusTransport(a.Gateway, byte(unit)), nil
}

// parseRoute decodes a CIP route path string ("1,0") into its raw byte
// segments, matching yatesdr-warlogix/logix/connected.go's
// buildConnectionPath route-path convention.
func parseRoute(path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, ",")
	route := make([]byte, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, wireerr.Wrap(wireerr.ErrBadParam, err, "route segment %q", p)
		}
		route = append(route, byte(n))
	}
	return route, nil
}
