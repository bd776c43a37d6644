package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tag identifies the type of a serialized element. The set is closed; any
// other value on the wire is a parse error.
type Tag byte

const (
	// TagU16 is a 16-bit unsigned integer element.
	TagU16 Tag = 1
	// TagU32 is a 32-bit unsigned integer element.
	TagU32 Tag = 2
	// TagU64 is a 64-bit unsigned integer element.
	TagU64 Tag = 3
	// TagString is a length-prefixed byte string element.
	TagString Tag = 4
)

// String returns a human-readable name for the tag.
func (t Tag) String() string {
	switch t {
	case TagU16:
		return "u16"
	case TagU32:
		return "u32"
	case TagU64:
		return "u64"
	case TagString:
		return "string"
	}
	return fmt.Sprintf("tag(%d)", byte(t))
}

// Element is a tagged variant over the wire's four payload types. Exactly
// one of the value fields is meaningful, selected by Tag. Elements are
// immutable values; construct them with U16, U32, U64, or Str.
type Element struct {
	Str string // Valid when Tag == TagString
	V64 uint64 // Valid when Tag == TagU64
	V32 uint32 // Valid when Tag == TagU32
	V16 uint16 // Valid when Tag == TagU16
	Tag Tag
}

// U16 returns a u16 element.
func U16(v uint16) Element { return Element{Tag: TagU16, V16: v} }

// U32 returns a u32 element.
func U32(v uint32) Element { return Element{Tag: TagU32, V32: v} }

// U64 returns a u64 element.
func U64(v uint64) Element { return Element{Tag: TagU64, V64: v} }

// Str returns a string element. The string may hold arbitrary bytes; its
// serialized length must fit in a u16.
func Str(s string) Element { return Element{Tag: TagString, Str: s} }

// WireSize returns the number of bytes the element occupies on the wire,
// including the type tag.
func (e Element) WireSize() int {
	switch e.Tag {
	case TagU16:
		return 1 + 2
	case TagU32:
		return 1 + 4
	case TagU64:
		return 1 + 8
	case TagString:
		return 1 + 2 + len(e.Str)
	}
	return 1
}

// AppendTo serializes the element at b's write cursor. It writes either the
// whole element or nothing: ErrBufferFull when the element does not fit,
// ErrParse when a string exceeds the u16 length prefix.
func (e Element) AppendTo(b *Buffer) error {
	if e.Tag == TagString && len(e.Str) > math.MaxUint16 {
		return fmt.Errorf("%w: string element length %d exceeds u16", ErrParse, len(e.Str))
	}
	if !b.appendSafe(e.WireSize()) {
		return fmt.Errorf("%w: %s element needs %d bytes, %d free",
			ErrBufferFull, e.Tag, e.WireSize(), b.Capacity()-b.WriteLen())
	}
	var scratch [9]byte
	scratch[0] = byte(e.Tag)
	switch e.Tag {
	case TagU16:
		binary.BigEndian.PutUint16(scratch[1:], e.V16)
		return b.AppendRaw(scratch[:3])
	case TagU32:
		binary.BigEndian.PutUint32(scratch[1:], e.V32)
		return b.AppendRaw(scratch[:5])
	case TagU64:
		binary.BigEndian.PutUint64(scratch[1:], e.V64)
		return b.AppendRaw(scratch[:9])
	case TagString:
		binary.BigEndian.PutUint16(scratch[1:], uint16(len(e.Str)))
		if err := b.AppendRaw(scratch[:3]); err != nil {
			return err
		}
		return b.AppendRaw([]byte(e.Str))
	}
	return fmt.Errorf("%w: unknown element tag %d", ErrParse, byte(e.Tag))
}

// RetrieveElement reads one element from b's read cursor. On any failure
// (truncated input, unknown tag, string length past the write cursor) the
// read cursor is left where it was.
func RetrieveElement(b *Buffer) (Element, error) {
	m := b.mark()
	tagByte, err := b.retrieveRaw(1)
	if err != nil {
		return Element{}, err
	}
	tag := Tag(tagByte[0])
	var e Element
	switch tag {
	case TagU16:
		p, err := b.retrieveRaw(2)
		if err != nil {
			b.resetTo(m)
			return Element{}, fmt.Errorf("truncated u16: %w", err)
		}
		e = U16(binary.BigEndian.Uint16(p))
	case TagU32:
		p, err := b.retrieveRaw(4)
		if err != nil {
			b.resetTo(m)
			return Element{}, fmt.Errorf("truncated u32: %w", err)
		}
		e = U32(binary.BigEndian.Uint32(p))
	case TagU64:
		p, err := b.retrieveRaw(8)
		if err != nil {
			b.resetTo(m)
			return Element{}, fmt.Errorf("truncated u64: %w", err)
		}
		e = U64(binary.BigEndian.Uint64(p))
	case TagString:
		p, err := b.retrieveRaw(2)
		if err != nil {
			b.resetTo(m)
			return Element{}, fmt.Errorf("truncated string length: %w", err)
		}
		n := int(binary.BigEndian.Uint16(p))
		s, err := b.retrieveRaw(n)
		if err != nil {
			b.resetTo(m)
			return Element{}, fmt.Errorf("string length %d: %w", n, err)
		}
		e = Str(string(s))
	default:
		b.resetTo(m)
		return Element{}, fmt.Errorf("%w: unknown element tag %d", ErrParse, tagByte[0])
	}
	return e, nil
}

// retrieveU16 reads one element and requires it to be a u16. The read
// cursor is unchanged on failure, including a tag mismatch.
func retrieveU16(b *Buffer, what string) (uint16, error) {
	m := b.mark()
	e, err := RetrieveElement(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	if e.Tag != TagU16 {
		b.resetTo(m)
		return 0, fmt.Errorf("%w: %s: want u16, got %s", ErrParse, what, e.Tag)
	}
	return e.V16, nil
}

// retrieveU32 reads one element and requires it to be a u32.
func retrieveU32(b *Buffer, what string) (uint32, error) {
	m := b.mark()
	e, err := RetrieveElement(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	if e.Tag != TagU32 {
		b.resetTo(m)
		return 0, fmt.Errorf("%w: %s: want u32, got %s", ErrParse, what, e.Tag)
	}
	return e.V32, nil
}

// retrieveU64 reads one element and requires it to be a u64.
func retrieveU64(b *Buffer, what string) (uint64, error) {
	m := b.mark()
	e, err := RetrieveElement(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	if e.Tag != TagU64 {
		b.resetTo(m)
		return 0, fmt.Errorf("%w: %s: want u64, got %s", ErrParse, what, e.Tag)
	}
	return e.V64, nil
}

// retrieveStr reads one element and requires it to be a string.
func retrieveStr(b *Buffer, what string) (string, error) {
	m := b.mark()
	e, err := RetrieveElement(b)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	if e.Tag != TagString {
		b.resetTo(m)
		return "", fmt.Errorf("%w: %s: want string, got %s", ErrParse, what, e.Tag)
	}
	return e.Str, nil
}
