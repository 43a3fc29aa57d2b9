package pktline_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnmac/pktline"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestEncodeLayout checks the exact byte layout of an encoded packet.
func TestEncodeLayout(t *testing.T) {
	t.Parallel()

	value := []byte("we used our secret key")
	pkt, err := pktline.Encode(nil, "identifier", value)
	require.NoError(t, err)

	// 4 + len("identifier") + len(value) + 2 = 4 + 10 + 22 + 2 = 38.
	require.Equal(t, "0026identifier we used our secret key\n", string(pkt))
	require.Equal(t, len(pkt), pktline.Len("identifier", value))
}

// TestEncodeAppends makes sure packets are appended to the passed buffer.
func TestEncodeAppends(t *testing.T) {
	t.Parallel()

	buf, err := pktline.Encode(nil, "cid", []byte("a = b"))
	require.NoError(t, err)
	buf, err = pktline.Encode(buf, "cl", nil)
	require.NoError(t, err)

	require.Equal(t, "000ecid a = b\n0008cl \n", string(buf))
}

// TestEncodeTooLarge asserts that oversized packets are rejected instead of
// being truncated.
func TestEncodeTooLarge(t *testing.T) {
	t.Parallel()

	field := "vid"
	maxValue := pktline.MaxPacketLen - pktline.Len(field, nil)

	buf, err := pktline.Encode(nil, field, make([]byte, maxValue))
	require.NoError(t, err)
	require.Len(t, buf, pktline.MaxPacketLen)
	require.Equal(t, "ffff", string(buf[:4]))

	prev := []byte("keep")
	buf, err = pktline.Encode(prev, field, make([]byte, maxValue+1))
	require.ErrorIs(t, err, pktline.ErrPacketTooLarge)
	require.Equal(t, prev, buf)
}

// TestDecode tests decoding of well formed packets at different offsets.
func TestDecode(t *testing.T) {
	t.Parallel()

	var buf []byte
	buf, err := pktline.Encode(buf, "location", []byte("http://mybank/"))
	require.NoError(t, err)
	buf, err = pktline.Encode(buf, "cid", []byte("has space = yes"))
	require.NoError(t, err)
	buf, err = pktline.Encode(buf, "cl", nil)
	require.NoError(t, err)

	first, err := pktline.Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "location", first.Field)
	require.Equal(t, []byte("http://mybank/"), first.Value)

	second, err := pktline.Decode(buf, first.Len)
	require.NoError(t, err)
	require.Equal(t, "cid", second.Field)
	require.Equal(t, []byte("has space = yes"), second.Value)

	third, err := pktline.Decode(buf, first.Len+second.Len)
	require.NoError(t, err)
	require.Equal(t, "cl", third.Field)
	require.Empty(t, third.Value)
	require.Equal(t, len(buf), first.Len+second.Len+third.Len)
}

// TestDecodeUppercaseHex makes sure the length prefix is parsed as hex
// regardless of letter case.
func TestDecodeUppercaseHex(t *testing.T) {
	t.Parallel()

	value := strings.Repeat("x", 0x1a-4-len("cid")-2)
	pkt, err := pktline.Decode([]byte("001Acid "+value+"\n"), 0)
	require.NoError(t, err)
	require.Equal(t, 0x1a, pkt.Len)
	require.Equal(t, value, string(pkt.Value))
}

// TestDecodeErrors tests that every framing violation is rejected with its
// own error.
func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		buf    string
		offset int
		err    error
	}{
		{
			name: "truncated prefix",
			buf:  "00",
			err:  pktline.ErrPacketLength,
		},
		{
			name: "non hex prefix",
			buf:  "00zzcid a\n",
			err:  pktline.ErrPacketLength,
		},
		{
			name: "signed prefix",
			buf:  "+00acid a\n",
			err:  pktline.ErrPacketLength,
		},
		{
			name: "length past buffer end",
			buf:  "00ffcid a\n",
			err:  pktline.ErrPacketLength,
		},
		{
			name: "length shorter than prefix",
			buf:  "0002",
			err:  pktline.ErrPacketLength,
		},
		{
			name:   "offset past buffer end",
			buf:    "000acid a\n",
			offset: 11,
			err:    pktline.ErrPacketLength,
		},
		{
			name: "missing space",
			buf:  "000acidxa\n",
			err:  pktline.ErrMalformedPacket,
		},
		{
			name: "empty body",
			buf:  "0004",
			err:  pktline.ErrMalformedPacket,
		},
		{
			name: "missing newline",
			buf:  "000acid ab",
			err:  pktline.ErrMalformedPacket,
		},
		{
			name: "space is last byte",
			buf:  "0008cid ",
			err:  pktline.ErrMalformedPacket,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := pktline.Decode([]byte(tc.buf), tc.offset)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestDecodeCopiesValue asserts that decoded values don't alias the input.
func TestDecodeCopiesValue(t *testing.T) {
	t.Parallel()

	buf, err := pktline.Encode(nil, "cid", []byte("abc"))
	require.NoError(t, err)

	pkt, err := pktline.Decode(buf, 0)
	require.NoError(t, err)

	buf[len(buf)-2] = 'z'
	require.Equal(t, []byte("abc"), pkt.Value)
}

// TestPacketRoundTrip is a property test asserting that every encodable
// field/value pair decodes to itself.
func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		field := rapid.StringMatching(`[a-z]{1,12}`).Draw(t, "field")
		value := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "value")
		prefix := rapid.SliceOfN(rapid.Byte(), 0, 16).Draw(t, "prefix")

		buf, err := pktline.Encode(bytes.Clone(prefix), field, value)
		require.NoError(t, err)

		pkt, err := pktline.Decode(buf, len(prefix))
		require.NoError(t, err)
		require.Equal(t, field, pkt.Field)
		require.True(t, bytes.Equal(value, pkt.Value))
		require.Equal(t, len(buf)-len(prefix), pkt.Len)
	})
}
