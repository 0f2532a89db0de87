package tlv

import (
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tcpCodec = Codec{LengthIsTotal: true, SkipTypes: []uint8{0, 1}}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestDecodeValueLength(t *testing.T) {
	buf := mustHex(t, "0104aaaaaaaa0202bbbb")
	var c Codec
	opts := c.DecodeAll(buf)
	require.Len(t, opts, 2)
	assert.Equal(t, Option{Type: 1, Length: 4, Value: mustHex(t, "aaaaaaaa")}, opts[0])
	assert.Equal(t, Option{Type: 2, Length: 2, Value: mustHex(t, "bbbb")}, opts[1])

	enc, err := c.Encode(nil, opts)
	require.NoError(t, err)
	assert.Len(t, enc, 12)
	assert.Equal(t, append(buf, 0, 0), enc)
	assert.Equal(t, 12, c.EncodedLength(opts))
}

func TestDecodeTCPOptions(t *testing.T) {
	buf := mustHex(t, "0101080a52d3c650dd04cdd6")
	opts := tcpCodec.DecodeAll(buf)
	require.Equal(t, []Option{
		{Type: 1},
		{Type: 1},
		{Type: 8, Length: 10, Value: mustHex(t, "52d3c650dd04cdd6")},
	}, opts)
	enc, err := tcpCodec.Encode(nil, opts)
	require.NoError(t, err)
	assert.Equal(t, buf, enc)
}

func TestIPv4OptionsGrowHeader(t *testing.T) {
	var c Codec
	opts := []Option{
		{Type: 1, Length: 4, Value: []byte{0xaa, 0xaa, 0xaa, 0xaa}},
		{Type: 2, Length: 2, Value: []byte{0xbb, 0xbb}},
		{Type: 0, Length: 0, Value: []byte{}},
	}
	assert.Equal(t, 12, c.EncodedLength(opts))
	enc, err := c.Encode(nil, opts)
	require.NoError(t, err)
	got := c.DecodeAll(enc)
	require.Len(t, got, 3)
	for i := range opts {
		assert.Equal(t, opts[i].Type, got[i].Type)
		assert.Equal(t, opts[i].Length, got[i].Length)
		assert.Equal(t, len(opts[i].Value), len(got[i].Value))
	}
}

func TestEmptyEncodesToNothing(t *testing.T) {
	enc, err := tcpCodec.Encode(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, enc)
	assert.Zero(t, tcpCodec.EncodedLength(nil))
}

func TestTruncatedRecordStops(t *testing.T) {
	full := mustHex(t, "0104aaaaaaaa0202bbbb")
	var c Codec
	for cut := 0; cut <= len(full); cut++ {
		opts := c.DecodeAll(full[:cut])
		want := 0
		if cut >= 6 {
			want = 1
		}
		if cut >= 10 {
			want = 2
		}
		assert.Len(t, opts, want, "cut at %d", cut)
	}
	// A total-length record declaring less than its own header is malformed.
	assert.Empty(t, tcpCodec.DecodeAll([]byte{8, 1, 0, 0}))
}

func TestDecodeNeverOverruns(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	backing := make([]byte, 64)
	for i := 0; i < 2000; i++ {
		n := rng.Intn(len(backing))
		rng.Read(backing)
		buf := backing[:n:n]
		for _, c := range []Codec{{}, tcpCodec} {
			total := 0
			for opt := range c.Decode(buf) {
				total += c.recordLen(opt)
				require.LessOrEqual(t, total, n)
				if !c.IsSkip(opt.Type) {
					require.Equal(t, cap(opt.Value), len(opt.Value))
				}
			}
		}
	}
}

func TestDecodeRestartable(t *testing.T) {
	seq := tcpCodec.Decode(mustHex(t, "0101080a52d3c650dd04cdd6"))
	count := func() (n int) {
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count())
	for range seq {
		break // Early stop must not panic.
	}
}

func TestEncodeMisuse(t *testing.T) {
	_, err := tcpCodec.Encode(nil, []Option{{Type: 1, Value: []byte{1}}})
	assert.ErrorIs(t, err, errSkipValue)
	_, err = tcpCodec.Encode(nil, []Option{{Type: 9, Value: make([]byte, 254)}})
	assert.ErrorIs(t, err, errValueTooLong)
	var c Codec
	_, err = c.Encode(nil, []Option{{Type: 9, Value: make([]byte, 255)}})
	assert.NoError(t, err)
}

func TestPutInPlace(t *testing.T) {
	dst := make([]byte, 12)
	opts := []Option{{Type: 1}, {Type: 1}, {Type: 8, Value: mustHex(t, "52d3c650dd04cdd6")}}
	n, err := tcpCodec.Put(dst, opts)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, mustHex(t, "0101080a52d3c650dd04cdd6"), dst)
	_, err = tcpCodec.Put(dst[:8], opts)
	assert.Error(t, err)
}

func TestEncodeIgnoresLength(t *testing.T) {
	value := mustHex(t, "05b4")
	want, err := tcpCodec.Encode(nil, []Option{{Type: 2, Value: value}})
	require.NoError(t, err)
	for _, length := range []uint8{0, 2, 200} {
		got, err := tcpCodec.Encode(nil, []Option{{Type: 2, Length: length, Value: value}})
		require.NoError(t, err)
		assert.Equal(t, want, got, "Length=%d", length)
	}
	assert.Equal(t, mustHex(t, "020405b4"), want)

	opts := tcpCodec.DecodeAll(want)
	require.Len(t, opts, 1)
	assert.EqualValues(t, 4, opts[0].Length)
}
