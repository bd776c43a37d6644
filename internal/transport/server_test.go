package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/keydir/internal/dolist"
	"github.com/dreamware/keydir/internal/metrics"
	"github.com/dreamware/keydir/internal/wire"
)

// startServer binds a server on an ephemeral loopback port and runs its
// receive loop for the duration of the test.
func startServer(t *testing.T) *Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	pool := dolist.NewPool(2, 0, log)
	met := metrics.New(prometheus.NewRegistry())

	s, err := NewServer(wire.NetAddress{Host: "127.0.0.1", Port: 0}, pool, met, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		pool.Shutdown()
	})
	return s
}

// listener is a plain UDP endpoint playing the role of a client: it is the
// declared envelope sender and collects whatever the server sends back.
type listener struct {
	conn *net.UDPConn
	addr wire.NetAddress
}

func newListener(t *testing.T) *listener {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	port := uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	return &listener{conn: conn, addr: wire.NetAddress{Host: "127.0.0.1", Port: port}}
}

// recv reads one datagram with a deadline and parses the envelope.
func (l *listener) recv(t *testing.T) (wire.Msg, *wire.Buffer) {
	t.Helper()
	require.NoError(t, l.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	raw := make([]byte, wire.MaxMsgSize)
	n, _, err := l.conn.ReadFromUDP(raw)
	require.NoError(t, err)
	buf := wire.NewBufferFromBytes(raw[:n])
	msg, err := wire.ParseMsg(buf)
	require.NoError(t, err)
	return msg, buf
}

// sendFrom fires buf at dst from a throwaway socket, distinct from the
// envelope's declared sender.
func sendFrom(t *testing.T, dst wire.NetAddress, buf *wire.Buffer) {
	t.Helper()
	conn, err := net.Dial("udp", net.JoinHostPort(dst.Host, strconv.Itoa(int(dst.Port))))
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(buf.Bytes())
	require.NoError(t, err)
}

func buildEnvelope(t *testing.T, kind uint16, id uint64, sender wire.NetAddress, payloads ...wire.Payload) *wire.Buffer {
	t.Helper()
	buf := wire.NewBuffer(wire.MaxMsgSize)
	require.NoError(t, wire.NewMsg(kind, id, sender).SerializeTo(buf))
	for _, p := range payloads {
		require.NoError(t, wire.AppendPayload(buf, p))
	}
	return buf
}

// TestUnknownKindRepliesParseErr is the malformed-datagram scenario: an
// envelope with kind 60200 gets a MSG_RECEIVED/PARSE_ERR reply and bumps
// the error counter exactly once.
func TestUnknownKindRepliesParseErr(t *testing.T) {
	s := startServer(t)
	client := newListener(t)

	require.Zero(t, s.ErrCount())
	sendFrom(t, s.Self(), buildEnvelope(t, 60200, 31, client.addr))

	msg, data := client.recv(t)
	assert.Equal(t, wire.KindMsgReceived, msg.Kind)

	var body wire.MsgReceived
	require.NoError(t, wire.RetrievePayload(data, &body))
	assert.Equal(t, wire.StatusParseErr, body.Status)
	assert.Equal(t, uint64(31), body.OriginalID)
	assert.Equal(t, uint16(60200), body.OriginalKind)

	assert.Equal(t, int64(1), s.ErrCount(), "exactly one error counted")
}

// TestRepliesGoToDeclaredSender pins invariant I4: the reply targets the
// envelope's sender address even though the datagram came from elsewhere.
func TestRepliesGoToDeclaredSender(t *testing.T) {
	s := startServer(t)
	s.Handle(wire.KindMastInfoReq, func(msg wire.Msg, _ *wire.Buffer) (*wire.Buffer, error) {
		return BuildMsgReceived(s.Self(), msg, wire.StatusSuccess, "")
	})

	client := newListener(t)
	// Sent from a throwaway socket; only the envelope names the client.
	sendFrom(t, s.Self(), buildEnvelope(t, wire.KindMastInfoReq, 7, client.addr))

	msg, data := client.recv(t)
	assert.Equal(t, wire.KindMsgReceived, msg.Kind)
	var body wire.MsgReceived
	require.NoError(t, wire.RetrievePayload(data, &body))
	assert.Equal(t, wire.StatusSuccess, body.Status)
	assert.Equal(t, uint64(7), body.OriginalID)
}

// TestGarbledEnvelope sends junk bytes: the server answers the datagram
// source, since the declared sender is unparseable, and counts the error.
func TestGarbledEnvelope(t *testing.T) {
	s := startServer(t)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(s.Self().Port)}
	_, err = conn.WriteToUDP([]byte{0xde, 0xad, 0xbe, 0xef}, dst)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	raw := make([]byte, wire.MaxMsgSize)
	n, _, err := conn.ReadFromUDP(raw)
	require.NoError(t, err)

	buf := wire.NewBufferFromBytes(raw[:n])
	msg, err := wire.ParseMsg(buf)
	require.NoError(t, err)
	assert.Equal(t, wire.KindMsgReceived, msg.Kind)
	var body wire.MsgReceived
	require.NoError(t, wire.RetrievePayload(buf, &body))
	assert.Equal(t, wire.StatusParseErr, body.Status)
	assert.Equal(t, int64(1), s.ErrCount())
}

// TestHandlerErrorCountsAndReplies exercises a payload the handler cannot
// parse.
func TestHandlerErrorCountsAndReplies(t *testing.T) {
	s := startServer(t)
	s.Handle(wire.KindKeyInfoReq, func(_ wire.Msg, data *wire.Buffer) (*wire.Buffer, error) {
		var req wire.KeyLookup
		if err := wire.RetrievePayload(data, &req); err != nil {
			return nil, err
		}
		t.Error("payload should not have parsed")
		return nil, nil
	})

	client := newListener(t)
	// No payload at all: the handler's parse fails.
	sendFrom(t, s.Self(), buildEnvelope(t, wire.KindKeyInfoReq, 9, client.addr))

	msg, data := client.recv(t)
	assert.Equal(t, wire.KindMsgReceived, msg.Kind)
	var body wire.MsgReceived
	require.NoError(t, wire.RetrievePayload(data, &body))
	assert.Equal(t, wire.StatusParseErr, body.Status)
	assert.Equal(t, int64(1), s.ErrCount())
}

// TestOversizeSendRejected: SendTo must refuse datagrams past the
// 6000-byte bound.
func TestOversizeSendRejected(t *testing.T) {
	s := startServer(t)
	big := wire.NewBufferFromBytes(make([]byte, wire.MaxMsgSize+1))
	err := s.SendTo(wire.NetAddress{Host: "127.0.0.1", Port: 9}, big)
	require.Error(t, err)
}
