// Package transport runs the single UDP socket each keydir process owns:
// a receive loop that parses envelopes, a kind-keyed dispatch table, and
// the send path every component shares.
//
// The receive loop stays short: it reads a datagram into a fresh buffer,
// parses the envelope inline, and hands the handler body to the worker
// pool. Replies target the envelope's declared sender, not the datagram's
// UDP source; forwarded requests carry the original requester inside the
// payload precisely so the final responder can answer the client directly.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/metrics"
	"github.com/dreamware/keydir/internal/wire"
)

// Handler processes one message of a given kind. It runs on the worker
// pool, never on the receive loop. data holds the unread payload portion
// of the datagram (the envelope is already consumed).
//
// A non-nil response buffer is sent to the envelope's sender. A non-nil
// error produces a MSG_RECEIVED reply of StatusParseErr and bumps the
// process error counter. Handlers that reply to an address carried inside
// the payload send it themselves via SendTo and return (nil, nil).
type Handler func(msg wire.Msg, data *wire.Buffer) (*wire.Buffer, error)

// Server owns the process's UDP socket and dispatch table.
type Server struct {
	log  *zap.Logger
	conn *net.UDPConn
	pool *dolist.Pool
	met  *metrics.Metrics
	self wire.NetAddress

	mu       sync.RWMutex
	handlers map[uint16]Handler

	errCount atomic.Int64
}

// NewServer binds the UDP socket for self and returns the server. A bind
// failure is fatal to the process: the caller exits non-zero.
func NewServer(self wire.NetAddress, pool *dolist.Pool, met *metrics.Metrics, log *zap.Logger) (*Server, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(self.Host, strconv.Itoa(int(self.Port))))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", self, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", self, err)
	}
	if self.Port == 0 {
		// Ephemeral bind: advertise the port the kernel picked.
		self.Port = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	}
	return &Server{
		log:      log,
		conn:     conn,
		pool:     pool,
		met:      met,
		self:     self,
		handlers: make(map[uint16]Handler),
	}, nil
}

// Self returns the address the server is bound to.
func (s *Server) Self() wire.NetAddress { return s.self }

// ErrCount returns the number of parse errors and unknown kinds seen.
func (s *Server) ErrCount() int64 { return s.errCount.Load() }

// Handle installs the handler for a message kind. Kinds without a handler
// are answered with a parse-error reply; a role simply does not install
// handlers for the kinds it never serves.
func (s *Server) Handle(kind uint16, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

func (s *Server) handler(kind uint16) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[kind]
	return h, ok
}

// Run reads datagrams until ctx is canceled or the socket fails. Each
// datagram gets a fresh buffer; nothing is shared between reads.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()
	for {
		raw := make([]byte, wire.MaxMsgSize)
		n, src, err := s.conn.ReadFromUDP(raw)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		s.met.DatagramsReceived.Inc()
		s.dispatch(raw[:n], src)
	}
}

// dispatch parses the envelope and hands the payload to the kind's
// handler on the pool. Runs on the receive loop; must not block.
func (s *Server) dispatch(raw []byte, src *net.UDPAddr) {
	data := wire.NewBufferFromBytes(raw)
	msg, err := wire.ParseMsg(data)
	if err != nil {
		// The envelope itself is garbled, so the declared sender is
		// unknown; answer the datagram source.
		s.noteError()
		s.log.Error("garbled envelope", zap.Error(err), zap.Stringer("src", src))
		reply, berr := BuildMsgReceived(s.self, msg, wire.StatusParseErr, err.Error())
		if berr == nil {
			s.sendRaw(reply.Bytes(), src.IP.String(), uint16(src.Port))
		}
		return
	}

	h, ok := s.handler(msg.Kind)
	if !ok {
		s.noteError()
		s.log.Error("unknown message kind",
			zap.Uint16("kind", msg.Kind), zap.Stringer("msg", msg))
		s.replyError(msg, "unknown message kind "+wire.KindName(msg.Kind))
		return
	}

	s.pool.Enqueue(dolist.CommandFunc(func() {
		resp, err := h(msg, data)
		if err != nil {
			s.noteError()
			s.log.Error("handler failed", zap.Stringer("msg", msg), zap.Error(err))
			s.replyError(msg, err.Error())
			return
		}
		if resp != nil {
			if err := s.SendTo(msg.Sender(), resp); err != nil {
				s.log.Warn("reply send failed", zap.Stringer("to", msg.Sender()), zap.Error(err))
			}
		}
	}))
}

func (s *Server) noteError() {
	s.errCount.Add(1)
	s.met.ParseErrors.Inc()
}

// replyError sends a MSG_RECEIVED/StatusParseErr for msg to its declared
// sender.
func (s *Server) replyError(msg wire.Msg, errMsg string) {
	reply, err := BuildMsgReceived(s.self, msg, wire.StatusParseErr, errMsg)
	if err != nil {
		s.log.Error("build error reply", zap.Error(err))
		return
	}
	if err := s.SendTo(msg.Sender(), reply); err != nil {
		s.log.Warn("error reply send failed", zap.Stringer("to", msg.Sender()), zap.Error(err))
	}
}

// SendTo writes buf as one datagram to addr. Failures are returned for
// logging only; the sender's do-list item stays armed and re-fires.
func (s *Server) SendTo(addr wire.NetAddress, buf *wire.Buffer) error {
	return s.sendRaw(buf.Bytes(), addr.Host, addr.Port)
}

func (s *Server) sendRaw(b []byte, host string, port uint16) error {
	if len(b) > wire.MaxMsgSize {
		return fmt.Errorf("transport: datagram %d bytes exceeds max %d", len(b), wire.MaxMsgSize)
	}
	dst, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("transport: resolve %s:%d: %w", host, port, err)
	}
	if _, err := s.conn.WriteToUDP(b, dst); err != nil {
		return fmt.Errorf("transport: send to %s: %w", dst, err)
	}
	s.met.DatagramsSent.Inc()
	return nil
}

// BuildMsgReceived serializes a MSG_RECEIVED reply acknowledging inMsg
// with the given status. Extra payloads (the stored mapping on a
// duplicate-key reply) follow the MsgReceived body.
func BuildMsgReceived(self wire.NetAddress, inMsg wire.Msg, status uint16, errMsg string, extra ...wire.Payload) (*wire.Buffer, error) {
	out := wire.NewBuffer(wire.MaxMsgSize)
	env := wire.NewMsg(wire.KindMsgReceived, inMsg.ID, self)
	if err := env.SerializeTo(out); err != nil {
		return nil, err
	}
	body := wire.MsgReceived{
		OriginalID:   inMsg.ID,
		OriginalKind: inMsg.Kind,
		Status:       status,
		ErrMsg:       errMsg,
	}
	if err := wire.AppendPayload(out, &body); err != nil {
		return nil, err
	}
	for _, p := range extra {
		if err := wire.AppendPayload(out, p); err != nil {
			return nil, err
		}
	}
	return out, nil
}
