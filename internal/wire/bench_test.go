package wire

import (
	"testing"
)

func BenchmarkEnvelopeSerialize(b *testing.B) {
	msg := NewMsg(KindWorkerInsertKeyReq, 42, NetAddress{Host: "127.0.0.1", Port: 10043})
	for i := 0; i < b.N; i++ {
		buf := NewBuffer(MaxMsgSize)
		if err := msg.SerializeTo(buf); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEnvelopeParse(b *testing.B) {
	msg := NewMsg(KindWorkerInsertKeyReq, 42, NetAddress{Host: "127.0.0.1", Port: 10043})
	buf := NewBuffer(MaxMsgSize)
	if err := msg.SerializeTo(buf); err != nil {
		b.Fatal(err)
	}
	raw := buf.Bytes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseMsg(NewBufferFromBytes(raw)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkKeyInsertRoundTrip(b *testing.B) {
	p := &KeyInsert{
		Requester: NetAddress{Host: "127.0.0.1", Port: 10050},
		Key:       "object42",
		Chunk:     7,
		Subchunk:  3,
	}
	for i := 0; i < b.N; i++ {
		buf := NewBuffer(MaxMsgSize)
		if err := AppendPayload(buf, p); err != nil {
			b.Fatal(err)
		}
		var out KeyInsert
		if err := RetrievePayload(buf, &out); err != nil {
			b.Fatal(err)
		}
	}
}
