package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestElementRoundTrip drives the codec's original self-test vector: a mix
// of strings (including empty and binary-ish) and all three integer widths
// written to one buffer and read back element-wise.
func TestElementRoundTrip(t *testing.T) {
	elements := []Element{
		Str("Simple"),
		Str(""),
		Str(" :lakjserhrfjb;iouha93219876$%#@#\n$%^ #$#%R@##$@@@@$kjhdghrnfgh  "),
		U16(25027),
		U32(338999),
		U64(1234567),
		Str("One last string."),
	}

	buf := NewBuffer(MaxMsgSize)
	for _, e := range elements {
		require.NoError(t, e.AppendTo(buf))
	}

	for i, want := range elements {
		got, err := RetrieveElement(buf)
		require.NoError(t, err, "element %d", i)
		assert.Equal(t, want, got, "element %d", i)
	}
	assert.Zero(t, buf.Unread(), "buffer should be fully consumed")
}

// TestElementBigEndian pins the byte layout: the encoding must not depend
// on host byte order.
func TestElementBigEndian(t *testing.T) {
	buf := NewBuffer(16)
	require.NoError(t, U16(0x0102).AppendTo(buf))
	assert.Equal(t, []byte{byte(TagU16), 0x01, 0x02}, buf.Bytes())

	buf = NewBuffer(16)
	require.NoError(t, U32(0x01020304).AppendTo(buf))
	assert.Equal(t, []byte{byte(TagU32), 0x01, 0x02, 0x03, 0x04}, buf.Bytes())

	buf = NewBuffer(16)
	require.NoError(t, U64(0x0102030405060708).AppendTo(buf))
	assert.Equal(t, []byte{byte(TagU64), 1, 2, 3, 4, 5, 6, 7, 8}, buf.Bytes())

	buf = NewBuffer(16)
	require.NoError(t, Str("hi").AppendTo(buf))
	assert.Equal(t, []byte{byte(TagString), 0x00, 0x02, 'h', 'i'}, buf.Bytes())
}

func TestAppendBufferFull(t *testing.T) {
	buf := NewBuffer(4) // room for the tag and length, not the body
	err := Str("this will not fit").AppendTo(buf)
	require.ErrorIs(t, err, ErrBufferFull)
	assert.Zero(t, buf.WriteLen(), "failed append must not write partially")

	// A smaller element still fits afterwards.
	require.NoError(t, U16(7).AppendTo(buf))
}

func TestRetrieveTruncated(t *testing.T) {
	full := NewBuffer(32)
	require.NoError(t, U32(99).AppendTo(full))

	// Chop the payload short.
	trunc := NewBufferFromBytes(full.Bytes()[:3])
	_, err := RetrieveElement(trunc)
	require.ErrorIs(t, err, ErrParse)
	assert.Zero(t, trunc.ReadLen(), "failed parse must not advance the read cursor")
}

func TestRetrieveUnknownTag(t *testing.T) {
	buf := NewBufferFromBytes([]byte{0x7f, 0x00})
	_, err := RetrieveElement(buf)
	require.ErrorIs(t, err, ErrParse)
	assert.Zero(t, buf.ReadLen())
}

func TestRetrieveStringLengthOverrun(t *testing.T) {
	// Claims 100 bytes, provides 3.
	buf := NewBufferFromBytes([]byte{byte(TagString), 0x00, 100, 'a', 'b', 'c'})
	_, err := RetrieveElement(buf)
	require.ErrorIs(t, err, ErrParse)
	assert.Zero(t, buf.ReadLen())

	// Nothing was consumed, so retrying on the same buffer fails the same
	// way at the same place.
	_, err = RetrieveElement(buf)
	require.ErrorIs(t, err, ErrParse)
}

func TestRetrievePastWriteCursor(t *testing.T) {
	buf := NewBuffer(64)
	require.NoError(t, U16(1).AppendTo(buf))
	_, err := RetrieveElement(buf)
	require.NoError(t, err)
	_, err = RetrieveElement(buf)
	require.ErrorIs(t, err, ErrParse, "reading past the write cursor must fail")
}

func TestEmptyStringElement(t *testing.T) {
	buf := NewBuffer(8)
	require.NoError(t, Str("").AppendTo(buf))
	got, err := RetrieveElement(buf)
	require.NoError(t, err)
	assert.Equal(t, Str(""), got)
}
