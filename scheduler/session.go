package scheduler

import (
	"sync"
	"time"

	"github.com/wartag/tagwire/internal/wireerr"
	"github.com/wartag/tagwire/internal/wirelog"
	"github.com/wartag/tagwire/session"
)

// pendingTTL bounds how long a sent request waits for its correlated
// reply before the sweep loop times it out — a stuck device or a reply
// lost to a TCP reset must not leak a pending slot forever.
const pendingTTL = 10 * time.Second

// pendingEntry pairs the request(s) riding on one correlation key with
// the deadline the sweep loop checks. reqs holds more than one Request
// when the send loop packed them into a single Multiple Service Packet;
// they're recorded in the order they were packed, matching the order
// Transport.(session.Packer).SplitPackedReply returns sub-replies in.
type pendingEntry struct {
	reqs    []*session.Request
	expires time.Time
}

// Session pumps one session.Transport's FIFO request queue: a send loop
// drains the queue onto the wire — batching consecutive packable
// requests into one Multiple Service Packet when the Transport supports
// it (spec.md §4.4's packing policy, scoped to this session's own FIFO,
// not a global one) — and a receive loop reads frames back and resolves
// them, single or fanned-out, against the pending-by-correlation-key map.
//
// Grounded on yatesdr-warlogix/plcman/manager.go's goroutine-per-worker
// shape: a context-free but channel-gated stop signal, a WaitGroup the
// owner joins on Stop, and (via sweepLoop) a ticker doing periodic
// housekeeping the same way batchedUpdateLoop's ticker branch does.
type Session struct {
	Transport session.Transport
	Log       *wirelog.Logger

	queue chan *session.Request
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	pending map[uint64]*pendingEntry
	status  session.Status
}

// NewSession wraps t in a Session with an unstarted pump; call Start to
// dial and spawn its goroutines.
func NewSession(t session.Transport) *Session {
	return &Session{
		Transport: t,
		Log:       wirelog.Nop(),
		queue:     make(chan *session.Request, 256),
		stop:      make(chan struct{}),
		pending:   make(map[uint64]*pendingEntry),
	}
}

// Start dials the transport and spawns the send/receive/sweep loops.
func (s *Session) Start() error {
	if err := s.Transport.Dial(); err != nil {
		return err
	}
	s.mu.Lock()
	s.status = session.StatusConnected
	s.mu.Unlock()

	s.wg.Add(3)
	go s.sendLoop()
	go s.recvLoop()
	go s.sweepLoop()
	return nil
}

// Enqueue pushes req onto the session's FIFO send queue. It never
// blocks the caller on network I/O — only on the (large, buffered)
// queue itself being full, which signals a session that has stopped
// draining.
func (s *Session) Enqueue(req *session.Request) error {
	select {
	case <-s.stop:
		return wireerr.New(wireerr.ErrClose, "session %s is stopped", s.Transport.Endpoint())
	default:
	}
	select {
	case s.queue <- req:
		return nil
	case <-s.stop:
		return wireerr.New(wireerr.ErrClose, "session %s is stopped", s.Transport.Endpoint())
	}
}

// Stop signals the loops to exit and blocks, up to 500ms, for them to
// drain — the same bounded-shutdown pattern
// yatesdr-warlogix/plcman/manager.go uses so one stuck session can't
// hang a process-wide shutdown.
func (s *Session) Stop() {
	close(s.stop)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		s.Log.Warnf("session", "shutdown of %s timed out waiting for loops to exit", s.Transport.Endpoint())
	}
	s.Transport.Close()
}

// sendLoop drains the queue one request at a time, except it looks
// ahead for more packable work before committing to the wire: once it
// has a head request ready to send, if the Transport implements
// session.Packer and the head allows packing, it drains the queue
// non-blockingly for further packable requests (up to MaxPackable) and
// sends them together. A request that turns up non-packable during that
// lookahead can't be put back on the channel, so it's held in leftover
// and becomes next iteration's head instead.
func (s *Session) sendLoop() {
	defer s.wg.Done()
	packer, packable := s.Transport.(session.Packer)

	var leftover *session.Request
	for {
		var head *session.Request
		if leftover != nil {
			head = leftover
			leftover = nil
		} else {
			select {
			case <-s.stop:
				return
			case req := <-s.queue:
				head = req
			}
		}

		if head.Aborted() {
			head.Complete(wireerr.ErrAbort, nil)
			continue
		}

		batch := []*session.Request{head}
		if packable && head.AllowPacking {
		drain:
			for len(batch) < packer.MaxPackable() {
				select {
				case req := <-s.queue:
					if req.Aborted() {
						req.Complete(wireerr.ErrAbort, nil)
						continue
					}
					if !req.AllowPacking {
						leftover = req
						break drain
					}
					batch = append(batch, req)
				default:
					break drain
				}
			}
		}

		s.send(batch, packer, packable)
	}
}

// send dispatches a single request or a packed batch, registering the
// pending entry before writing so a reply racing the write can never
// find the map empty.
func (s *Session) send(batch []*session.Request, packer session.Packer, packable bool) {
	var wire []byte
	var corrKey uint64
	var err error
	if len(batch) > 1 && packable {
		wire, corrKey, err = packer.BuildPackedPacket(batch)
	} else {
		wire, corrKey, err = s.Transport.BuildPacket(batch[0])
	}
	if err != nil {
		completeAll(batch, wireerr.CodeOf(err), nil)
		return
	}

	s.mu.Lock()
	s.pending[corrKey] = &pendingEntry{reqs: batch, expires: time.Now().Add(pendingTTL)}
	s.mu.Unlock()

	if err := s.Transport.WriteFrame(wire); err != nil {
		s.mu.Lock()
		delete(s.pending, corrKey)
		s.mu.Unlock()
		completeAll(batch, wireerr.CodeOf(err), nil)
	}
}

func completeAll(batch []*session.Request, status wireerr.Code, response []byte) {
	for _, req := range batch {
		req.Complete(status, response)
	}
}

func (s *Session) recvLoop() {
	defer s.wg.Done()
	packer, packable := s.Transport.(session.Packer)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		frame, err := s.Transport.ReadFrame()
		if err != nil {
			s.Log.Warnf("session", "%s: read frame: %v", s.Transport.Endpoint(), err)
			continue
		}
		corrKey, body, status, cerr := s.Transport.Correlate(frame)
		s.mu.Lock()
		entry, ok := s.pending[corrKey]
		if ok {
			delete(s.pending, corrKey)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		if cerr != nil {
			completeAll(entry.reqs, wireerr.CodeOf(cerr), nil)
			continue
		}
		if len(entry.reqs) == 1 {
			entry.reqs[0].Complete(status, body)
			continue
		}
		if !packable {
			completeAll(entry.reqs, wireerr.ErrBadReply, nil)
			continue
		}
		replies, serr := packer.SplitPackedReply(body)
		if serr != nil {
			completeAll(entry.reqs, wireerr.CodeOf(serr), nil)
			continue
		}
		if len(replies) != len(entry.reqs) {
			completeAll(entry.reqs, wireerr.ErrBadReply, nil)
			continue
		}
		for i, req := range entry.reqs {
			req.Complete(replies[i].Status, replies[i].Body)
		}
	}
}

// sweepLoop times out pending requests whose replies never arrived.
// Grounded on plcman/manager.go's batchedUpdateLoop ticker shape.
func (s *Session) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pendingTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.pending {
				if now.After(entry.expires) {
					delete(s.pending, key)
					go completeAll(entry.reqs, wireerr.ErrTimeout, nil)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Session) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
