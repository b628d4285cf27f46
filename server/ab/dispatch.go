package ab

import (
	"io"
	"net"
	"sync"

	"github.com/wartag/tagwire/cip"
	"github.com/wartag/tagwire/eip"
)

// connState tracks one connection's registered session and any CIP
// connections (from Forward Open) opened on it.
type connState struct {
	mu            sync.Mutex
	sessionHandle uint32
	registered    bool
	conns         map[uint32]*cip.Connection // keyed by the O->T connection id this server assigned
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	cs := &connState{conns: make(map[uint32]*cip.Connection)}

	for {
		header := make([]byte, eip.HeaderLen)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		h, err := eip.ParseHeader(header)
		if err != nil {
			return
		}
		body := make([]byte, h.Length)
		if len(body) > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
		}

		reply := s.dispatchEncap(cs, h, body)
		if reply == nil {
			continue
		}
		if _, err := conn.Write(reply.Bytes()); err != nil {
			return
		}
	}
}

// dispatchEncap handles one encapsulation message and returns the reply
// to send, or nil for a command that gets no reply: UnRegisterSession is
// the one such command, since the client closes the connection after it
// rather than waiting on one.
func (s *Server) dispatchEncap(cs *connState, h eip.Header, body []byte) *eip.Message {
	switch h.Command {
	case eip.CommandRegisterSession:
		return s.handleRegisterSession(cs, h, body)
	case eip.CommandUnRegisterSess:
		cs.mu.Lock()
		cs.registered = false
		cs.mu.Unlock()
		return nil
	case eip.CommandSendRRData:
		return s.handleSendRRData(cs, h, body)
	case eip.CommandSendUnitData:
		return s.handleSendUnitData(cs, h, body)
	default:
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusInvalidCommand, Context: h.Context}}
	}
}

func (s *Server) handleRegisterSession(cs *connState, h eip.Header, body []byte) *eip.Message {
	data, err := eip.ParseRegisterSessionData(body)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, Status: eip.StatusIncorrectData, Context: h.Context}}
	}

	handle := s.allocateSessionHandle()
	cs.mu.Lock()
	cs.sessionHandle = handle
	cs.registered = true
	cs.mu.Unlock()

	return &eip.Message{
		Header: eip.Header{Command: h.Command, SessionHandle: handle, Context: h.Context},
		Data:   data.Bytes(),
	}
}

func (s *Server) handleSendRRData(cs *connState, h eip.Header, body []byte) *eip.Message {
	cmdData, err := eip.ParseCommandData(body)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	cpf, err := eip.ParseCommonPacket(cmdData.Packet)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	item, ok := cpf.Find(eip.ItemTypeUnconnectedData)
	if !ok {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}

	respData := s.handleCIPRequest(cs, item.Data)
	replyCPF := &eip.CommonPacket{Items: []eip.Item{
		{TypeID: eip.ItemTypeNullAddress, Data: nil},
		{TypeID: eip.ItemTypeUnconnectedData, Data: respData},
	}}
	replyCmdData := &eip.CommandData{InterfaceHandle: cmdData.InterfaceHandle, Timeout: cmdData.Timeout, Packet: replyCPF.Bytes()}
	return &eip.Message{
		Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Context: h.Context},
		Data:   replyCmdData.Bytes(),
	}
}

func (s *Server) handleSendUnitData(cs *connState, h eip.Header, body []byte) *eip.Message {
	cmdData, err := eip.ParseCommandData(body)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	cpf, err := eip.ParseCommonPacket(cmdData.Packet)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	addrItem, ok := cpf.Find(eip.ItemTypeConnectedAddress)
	if !ok {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	dataItem, ok := cpf.Find(eip.ItemTypeConnectedData)
	if !ok {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}

	connID := leUint32(addrItem.Data)
	cs.mu.Lock()
	connection := cs.conns[connID]
	cs.mu.Unlock()
	if connection == nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}

	_, cipPayload, err := cip.UnwrapConnected(dataItem.Data)
	if err != nil {
		return &eip.Message{Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Status: eip.StatusIncorrectData, Context: h.Context}}
	}
	respData := s.handleCIPRequest(cs, cipPayload)
	wrapped := connection.WrapConnected(respData)

	replyCPF := &eip.CommonPacket{Items: []eip.Item{
		{TypeID: eip.ItemTypeConnectedAddress, Data: addrItem.Data},
		{TypeID: eip.ItemTypeConnectedData, Data: wrapped},
	}}
	replyCmdData := &eip.CommandData{InterfaceHandle: cmdData.InterfaceHandle, Timeout: cmdData.Timeout, Packet: replyCPF.Bytes()}
	return &eip.Message{
		Header: eip.Header{Command: h.Command, SessionHandle: h.SessionHandle, Context: h.Context},
		Data:   replyCmdData.Bytes(),
	}
}

func leUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
