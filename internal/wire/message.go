package wire

import (
	"fmt"
)

// Message kinds. The receiver dispatches on this value; kinds outside the
// closed set, or kinds a role does not serve, are answered with a
// KindMsgReceived reply of StatusParseErr.
const (
	// KindMsgReceived acknowledges any message, carrying a status and the
	// original message's id and kind.
	KindMsgReceived uint16 = 100

	// KindMastInfoReq asks the master for its stats; KindMastInfo replies.
	KindMastInfoReq uint16 = 200
	KindMastInfo    uint16 = 201

	// KindMastWorkerAddReq registers the sending worker with the master.
	KindMastWorkerAddReq uint16 = 210

	// KindMastWorkerListReq asks the master for the worker list;
	// KindMastWorkerList carries it, whether requested or pushed.
	KindMastWorkerListReq uint16 = 211
	KindMastWorkerList    uint16 = 212

	// KindMastWorkerInfoReq asks the master for one worker's full record;
	// KindMastWorkerInfo carries name, address, and range.
	KindMastWorkerInfoReq uint16 = 213
	KindMastWorkerInfo    uint16 = 214

	// KindWorkerInsertKeyReq inserts a key at a worker, forwarded between
	// workers as needed. KindKeyInsertComplete acknowledges to the client.
	KindWorkerInsertKeyReq uint16 = 300
	KindKeyInsertComplete  uint16 = 301

	// KindKeyInfoReq looks a key up at a worker; KindKeyInfo replies.
	KindKeyInfoReq uint16 = 302
	KindKeyInfo    uint16 = 303
)

// KindName returns a readable name for a message kind, for logs.
func KindName(kind uint16) string {
	switch kind {
	case KindMsgReceived:
		return "MSG_RECEIVED"
	case KindMastInfoReq:
		return "MAST_INFO_REQ"
	case KindMastInfo:
		return "MAST_INFO"
	case KindMastWorkerAddReq:
		return "MAST_WORKER_ADD_REQ"
	case KindMastWorkerListReq:
		return "MAST_WORKER_LIST_REQ"
	case KindMastWorkerList:
		return "MAST_WORKER_LIST"
	case KindMastWorkerInfoReq:
		return "MAST_WORKER_INFO_REQ"
	case KindMastWorkerInfo:
		return "MAST_WORKER_INFO"
	case KindWorkerInsertKeyReq:
		return "WORKER_INSERT_KEY_REQ"
	case KindKeyInsertComplete:
		return "KEY_INSERT_COMPLETE"
	case KindKeyInfoReq:
		return "KEY_INFO_REQ"
	case KindKeyInfo:
		return "KEY_INFO"
	}
	return fmt.Sprintf("KIND_%d", kind)
}

// Status codes carried in MsgReceived replies.
const (
	StatusSuccess      uint16 = 0
	StatusParseErr     uint16 = 1
	StatusDuplicateKey uint16 = 2
	StatusOutOfRange   uint16 = 3
)

// NetAddress is a UDP endpoint: host string plus port. It is an immutable
// value and is comparable, so it can key maps directly.
type NetAddress struct {
	Host string
	Port uint16
}

// String formats the address as host:port.
func (a NetAddress) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// IsZero reports whether the address is the zero value.
func (a NetAddress) IsZero() bool { return a.Host == "" && a.Port == 0 }

// Msg is the message envelope present at the start of every datagram:
// kind, id, and the logical sender address. The sender address identifies
// the origin independently of the datagram's UDP source endpoint; replies
// go to it, not to the socket peer.
type Msg struct {
	SenderHost string
	ID         uint64
	Kind       uint16
	SenderPort uint16
}

// NewMsg builds an envelope for a message of the given kind and id,
// originated by sender.
func NewMsg(kind uint16, id uint64, sender NetAddress) Msg {
	return Msg{Kind: kind, ID: id, SenderHost: sender.Host, SenderPort: sender.Port}
}

// Sender returns the envelope's logical origin address.
func (m Msg) Sender() NetAddress { return NetAddress{Host: m.SenderHost, Port: m.SenderPort} }

// String formats the envelope for logs.
func (m Msg) String() string {
	return fmt.Sprintf("msg{kind=%s id=%d sender=%s:%d}", KindName(m.Kind), m.ID, m.SenderHost, m.SenderPort)
}

// SerializeTo appends the envelope's four elements to b. On failure the
// buffer may hold a prefix of the envelope; callers serialize envelopes
// into fresh buffers.
func (m Msg) SerializeTo(b *Buffer) error {
	if err := U16(m.Kind).AppendTo(b); err != nil {
		return fmt.Errorf("envelope kind: %w", err)
	}
	if err := U64(m.ID).AppendTo(b); err != nil {
		return fmt.Errorf("envelope id: %w", err)
	}
	if err := Str(m.SenderHost).AppendTo(b); err != nil {
		return fmt.Errorf("envelope sender host: %w", err)
	}
	if err := U16(m.SenderPort).AppendTo(b); err != nil {
		return fmt.Errorf("envelope sender port: %w", err)
	}
	return nil
}

// ParseMsg reads an envelope from b's read cursor. On failure the read
// cursor is rolled back to where it started.
func ParseMsg(b *Buffer) (Msg, error) {
	m := b.mark()
	kind, err := retrieveU16(b, "envelope kind")
	if err != nil {
		return Msg{}, err
	}
	id, err := retrieveU64(b, "envelope id")
	if err != nil {
		b.resetTo(m)
		return Msg{}, err
	}
	host, err := retrieveStr(b, "envelope sender host")
	if err != nil {
		b.resetTo(m)
		return Msg{}, err
	}
	port, err := retrieveU16(b, "envelope sender port")
	if err != nil {
		b.resetTo(m)
		return Msg{}, err
	}
	return Msg{Kind: kind, ID: id, SenderHost: host, SenderPort: port}, nil
}
