// Package modbussrv implements the Modbus/TCP golden-reference test
// server spec.md §4.8 calls for: a listener serving FC 0x01/0x02/0x03/
// 0x04/0x05/0x06/0x0F/0x10 against a synthetic register file sized from
// config.ModbusServerConfig, bit-exact with the modbus package's own
// wire codec (spec.md §9's "the test servers and the client share no
// code, only the wire format" constraint — this package only imports
// modbus for framing, never the client-side session/scheduler/tag
// stack).
//
// Grounded on yatesdr-warlogix/warcry/server.go's TCP server shape: a
// net.Listener behind a Start/Stop pair, an accept loop spawning one
// goroutine per connection, and a sync.WaitGroup so Stop doesn't return
// until every connection goroutine has actually exited.
package modbussrv

import (
	"io"
	"net"
	"sync"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/modbus"
)

// Server is a Modbus/TCP request/response server over one synthetic
// register file.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
	logFn    func(string, ...any)

	unitID byte

	tableMu          sync.RWMutex
	coils            []bool
	discreteInputs   []bool
	holdingRegisters []uint16
	inputRegisters   []uint16
}

// NewServer builds a Server with register tables sized from cfg, not yet
// listening.
func NewServer(cfg config.ModbusServerConfig) *Server {
	return &Server{
		stopChan:         make(chan struct{}),
		logFn:            func(string, ...any) {},
		unitID:           cfg.UnitID,
		coils:            make([]bool, cfg.Coils),
		discreteInputs:   make([]bool, cfg.DiscreteInputs),
		holdingRegisters: make([]uint16, cfg.HoldingRegisters),
		inputRegisters:   make([]uint16, cfg.InputRegisters),
	}
}

// SetLogFunc installs a logging callback; the default discards everything.
func (s *Server) SetLogFunc(fn func(string, ...any)) {
	s.logFn = fn
}

// SeedHoldingRegister sets one holding register's initial value, for test
// setup before Start.
func (s *Server) SeedHoldingRegister(addr uint16, value uint16) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	if int(addr) < len(s.holdingRegisters) {
		s.holdingRegisters[addr] = value
	}
}

// SeedCoil sets one coil's initial value, for test setup before Start.
func (s *Server) SeedCoil(addr uint16, on bool) {
	s.tableMu.Lock()
	defer s.tableMu.Unlock()
	if int(addr) < len(s.coils) {
		s.coils[addr] = on
	}
}

// Start begins accepting connections on listenAddr.
func (s *Server) Start(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	s.logFn("modbus test server listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr reports the listener's bound address, useful when Start was
// given port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and waits for every connection goroutine to
// exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.listener.Close()
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logFn("modbus test server accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		header := make([]byte, modbus.MBAPHeaderLen)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		h, err := modbus.ParseMBAPHeader(header)
		if err != nil {
			return
		}
		if h.Length < 1 {
			return
		}
		pdu := make([]byte, int(h.Length)-1)
		if len(pdu) > 0 {
			if _, err := io.ReadFull(conn, pdu); err != nil {
				return
			}
		}

		reply := s.dispatch(h.UnitID, pdu)
		out := modbus.Frame{Header: h, PDU: reply}
		if _, err := conn.Write(out.Bytes()); err != nil {
			return
		}
	}
}
