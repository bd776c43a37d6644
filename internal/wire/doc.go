// Package wire implements the framed message codec used by every keydir
// process.
//
// A datagram is a sequence of typed elements written into a bounded buffer.
// Every element starts with a one-byte type tag followed by its payload:
//
//	┌─────┬──────────────────────────────┐
//	│ tag │ payload                      │
//	├─────┼──────────────────────────────┤
//	│  1  │ u16, big-endian              │
//	│  2  │ u32, big-endian              │
//	│  3  │ u64, big-endian              │
//	│  4  │ u16 length, then that many   │
//	│     │ bytes, no terminator         │
//	└─────┴──────────────────────────────┘
//
// A message envelope is the concatenation of four elements: kind (u16),
// id (u64), sender host (string), sender port (u16). Payload structs follow
// the envelope, each serialized as its own element sequence nested inside a
// single string element so that readers can always skip a payload they do
// not understand without over-running the buffer.
//
// The encoding is fixed big-endian and never depends on host byte order.
// Serialization and parsing are pure functions over a Buffer; a failed
// retrieve never advances the read cursor, and a failed append never writes
// partial data.
package wire
