package wire_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskpar/tpar/internal/wire"
)

type sample struct {
	Name     string
	Priority int
	Args     []string
}

func TestFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("hi\n"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, payload := range cases {
		buf := &bytes.Buffer{}
		require.NoError(t, wire.WriteFrame(buf, payload))
		got, err := wire.ReadFrame(buf)
		require.NoError(t, err)
		if len(payload) == 0 {
			require.Empty(t, got)
		} else {
			require.Equal(t, payload, got)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	in := sample{Name: "a", Priority: 5, Args: []string{"hi", "there"}}

	buf := &bytes.Buffer{}
	require.NoError(t, wire.WriteMessage(buf, 7, in))

	tag, body, err := wire.ReadMessage(buf)
	require.NoError(t, err)
	require.Equal(t, byte(7), tag)

	var out sample
	require.NoError(t, wire.Decode(body, &out))
	require.Equal(t, in, out)
}

func TestReadFrameBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	_, err := wire.ReadFrame(buf)
	require.ErrorIs(t, err, wire.ErrBadFrame)
}

func TestReadFrameTruncated(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, wire.WriteFrame(buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := wire.ReadFrame(truncated)
	require.ErrorIs(t, err, wire.ErrTruncated)
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := wire.ReadFrame(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}
