package wire

import (
	"fmt"
	"math"
)

// Payload is a message body that knows how to serialize itself as a
// sequence of elements. On the wire every payload is nested inside a single
// string element, so its length is self-describing and a reader can skip it
// without understanding the inner layout.
type Payload interface {
	appendTo(b *Buffer) error
	parseFrom(b *Buffer) error
}

// AppendPayload serializes p into b as one string element.
func AppendPayload(b *Buffer, p Payload) error {
	inner := NewBuffer(MaxMsgSize)
	if err := p.appendTo(inner); err != nil {
		return fmt.Errorf("payload serialize: %w", err)
	}
	return Str(string(inner.Bytes())).AppendTo(b)
}

// RetrievePayload reads one string element from b and parses p out of it.
// The outer read cursor is unchanged on failure.
func RetrievePayload(b *Buffer, p Payload) error {
	m := b.mark()
	raw, err := retrieveStr(b, "payload")
	if err != nil {
		return err
	}
	inner := NewBufferFromBytes([]byte(raw))
	if err := p.parseFrom(inner); err != nil {
		b.resetTo(m)
		return err
	}
	return nil
}

// appendBool writes a bool as a u16 0/1 element.
func appendBool(b *Buffer, v bool) error {
	var u uint16
	if v {
		u = 1
	}
	return U16(u).AppendTo(b)
}

// retrieveBool reads a u16 0/1 element back into a bool. Any nonzero value
// reads as true.
func retrieveBool(b *Buffer, what string) (bool, error) {
	v, err := retrieveU16(b, what)
	return v != 0, err
}

// appendI32 writes a signed 32-bit value as its two's-complement u32
// element; retrieveI32 reverses it. Chunk numbers travel this way.
func appendI32(b *Buffer, v int32) error { return U32(uint32(v)).AppendTo(b) }

func retrieveI32(b *Buffer, what string) (int32, error) {
	v, err := retrieveU32(b, what)
	return int32(v), err
}

// appendTo serializes the address as host then port.
func (a *NetAddress) appendTo(b *Buffer) error {
	if err := Str(a.Host).AppendTo(b); err != nil {
		return err
	}
	return U16(a.Port).AppendTo(b)
}

func (a *NetAddress) parseFrom(b *Buffer) error {
	host, err := retrieveStr(b, "address host")
	if err != nil {
		return err
	}
	port, err := retrieveU16(b, "address port")
	if err != nil {
		return err
	}
	a.Host, a.Port = host, port
	return nil
}

// MsgReceived is the body of a KindMsgReceived reply: which message is
// being acknowledged and with what status. ErrMsg is empty on success.
type MsgReceived struct {
	ErrMsg       string
	OriginalID   uint64
	OriginalKind uint16
	Status       uint16
}

func (p *MsgReceived) appendTo(b *Buffer) error {
	if err := U64(p.OriginalID).AppendTo(b); err != nil {
		return err
	}
	if err := U16(p.OriginalKind).AppendTo(b); err != nil {
		return err
	}
	if err := U16(p.Status).AppendTo(b); err != nil {
		return err
	}
	return Str(p.ErrMsg).AppendTo(b)
}

func (p *MsgReceived) parseFrom(b *Buffer) error {
	var err error
	if p.OriginalID, err = retrieveU64(b, "original id"); err != nil {
		return err
	}
	if p.OriginalKind, err = retrieveU16(b, "original kind"); err != nil {
		return err
	}
	if p.Status, err = retrieveU16(b, "status"); err != nil {
		return err
	}
	p.ErrMsg, err = retrieveStr(b, "errmsg")
	return err
}

// RangeSpec is the wire form of a worker's string range. Valid is false for
// a worker that has not been assigned a range yet; Unlimited marks a range
// with no upper bound.
type RangeSpec struct {
	Min       string
	Max       string
	Unlimited bool
	Valid     bool
}

func (p *RangeSpec) appendTo(b *Buffer) error {
	if err := appendBool(b, p.Valid); err != nil {
		return err
	}
	if err := Str(p.Min).AppendTo(b); err != nil {
		return err
	}
	if err := Str(p.Max).AppendTo(b); err != nil {
		return err
	}
	return appendBool(b, p.Unlimited)
}

func (p *RangeSpec) parseFrom(b *Buffer) error {
	var err error
	if p.Valid, err = retrieveBool(b, "range valid"); err != nil {
		return err
	}
	if p.Min, err = retrieveStr(b, "range min"); err != nil {
		return err
	}
	if p.Max, err = retrieveStr(b, "range max"); err != nil {
		return err
	}
	p.Unlimited, err = retrieveBool(b, "range unlimited")
	return err
}

// WorkerList is the body of KindMastWorkerList: the total count the master
// knows plus the names in this message. Count can exceed len(Names) when a
// future version splits the list across datagrams; today they match.
type WorkerList struct {
	Names []uint32
	Count uint32
}

func (p *WorkerList) appendTo(b *Buffer) error {
	if len(p.Names) > math.MaxUint16 {
		return fmt.Errorf("%w: worker list too long (%d)", ErrBufferFull, len(p.Names))
	}
	if err := U32(p.Count).AppendTo(b); err != nil {
		return err
	}
	if err := U16(uint16(len(p.Names))).AppendTo(b); err != nil {
		return err
	}
	for _, name := range p.Names {
		if err := U32(name).AppendTo(b); err != nil {
			return err
		}
	}
	return nil
}

func (p *WorkerList) parseFrom(b *Buffer) error {
	var err error
	if p.Count, err = retrieveU32(b, "worker count"); err != nil {
		return err
	}
	n, err := retrieveU16(b, "name count")
	if err != nil {
		return err
	}
	p.Names = make([]uint32, 0, n)
	for i := 0; i < int(n); i++ {
		name, err := retrieveU32(b, "worker name")
		if err != nil {
			return err
		}
		p.Names = append(p.Names, name)
	}
	return nil
}

// WorkerInfoReq is the body of KindMastWorkerInfoReq: who is asking and
// which worker name they want the record for.
type WorkerInfoReq struct {
	Requester NetAddress
	Name      uint32
}

func (p *WorkerInfoReq) appendTo(b *Buffer) error {
	if err := p.Requester.appendTo(b); err != nil {
		return err
	}
	return U32(p.Name).AppendTo(b)
}

func (p *WorkerInfoReq) parseFrom(b *Buffer) error {
	if err := p.Requester.parseFrom(b); err != nil {
		return err
	}
	var err error
	p.Name, err = retrieveU32(b, "worker name")
	return err
}

// WorkerInfo is the full record for one worker: master-assigned name,
// network address, and owned range. Carried by KindMastWorkerInfo.
type WorkerInfo struct {
	Address NetAddress
	Range   RangeSpec
	Name    uint32
}

func (p *WorkerInfo) appendTo(b *Buffer) error {
	if err := U32(p.Name).AppendTo(b); err != nil {
		return err
	}
	if err := p.Address.appendTo(b); err != nil {
		return err
	}
	return p.Range.appendTo(b)
}

func (p *WorkerInfo) parseFrom(b *Buffer) error {
	var err error
	if p.Name, err = retrieveU32(b, "worker name"); err != nil {
		return err
	}
	if err = p.Address.parseFrom(b); err != nil {
		return err
	}
	return p.Range.parseFrom(b)
}

// KeyInsert is the body of KindWorkerInsertKeyReq. Requester is the client
// endpoint the final responder replies to, preserved verbatim when the
// request is forwarded between workers.
type KeyInsert struct {
	Key       string
	Requester NetAddress
	Chunk     int32
	Subchunk  int32
}

func (p *KeyInsert) appendTo(b *Buffer) error {
	if err := p.Requester.appendTo(b); err != nil {
		return err
	}
	if err := Str(p.Key).AppendTo(b); err != nil {
		return err
	}
	if err := appendI32(b, p.Chunk); err != nil {
		return err
	}
	return appendI32(b, p.Subchunk)
}

func (p *KeyInsert) parseFrom(b *Buffer) error {
	if err := p.Requester.parseFrom(b); err != nil {
		return err
	}
	var err error
	if p.Key, err = retrieveStr(b, "key"); err != nil {
		return err
	}
	if p.Chunk, err = retrieveI32(b, "chunk"); err != nil {
		return err
	}
	p.Subchunk, err = retrieveI32(b, "subchunk")
	return err
}

// KeyLookup is the body of KindKeyInfoReq: the requester endpoint and the
// key to look up. Forwarded verbatim like KeyInsert.
type KeyLookup struct {
	Key       string
	Requester NetAddress
}

func (p *KeyLookup) appendTo(b *Buffer) error {
	if err := p.Requester.appendTo(b); err != nil {
		return err
	}
	return Str(p.Key).AppendTo(b)
}

func (p *KeyLookup) parseFrom(b *Buffer) error {
	if err := p.Requester.parseFrom(b); err != nil {
		return err
	}
	var err error
	p.Key, err = retrieveStr(b, "key")
	return err
}

// KeyInfo carries a key's stored mapping. For lookups Success=false means
// not found, with Chunk and Subchunk zeroed. It is also the body of
// KindKeyInsertComplete and trails duplicate-key replies with the mapping
// already stored.
type KeyInfo struct {
	Key      string
	Chunk    int32
	Subchunk int32
	Success  bool
}

func (p *KeyInfo) appendTo(b *Buffer) error {
	if err := Str(p.Key).AppendTo(b); err != nil {
		return err
	}
	if err := appendI32(b, p.Chunk); err != nil {
		return err
	}
	if err := appendI32(b, p.Subchunk); err != nil {
		return err
	}
	return appendBool(b, p.Success)
}

func (p *KeyInfo) parseFrom(b *Buffer) error {
	var err error
	if p.Key, err = retrieveStr(b, "key"); err != nil {
		return err
	}
	if p.Chunk, err = retrieveI32(b, "chunk"); err != nil {
		return err
	}
	if p.Subchunk, err = retrieveI32(b, "subchunk"); err != nil {
		return err
	}
	p.Success, err = retrieveBool(b, "success")
	return err
}

// MasterStats is the body of KindMastInfo: coarse liveness numbers about
// the master process.
type MasterStats struct {
	WorkerCount uint32
	UptimeSec   uint32
	ErrCount    uint32
}

func (p *MasterStats) appendTo(b *Buffer) error {
	if err := U32(p.WorkerCount).AppendTo(b); err != nil {
		return err
	}
	if err := U32(p.UptimeSec).AppendTo(b); err != nil {
		return err
	}
	return U32(p.ErrCount).AppendTo(b)
}

func (p *MasterStats) parseFrom(b *Buffer) error {
	var err error
	if p.WorkerCount, err = retrieveU32(b, "worker count"); err != nil {
		return err
	}
	if p.UptimeSec, err = retrieveU32(b, "uptime"); err != nil {
		return err
	}
	p.ErrCount, err = retrieveU32(b, "err count")
	return err
}
