package protocol

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerSmallPayloadUncompressed(t *testing.T) {
	f := NewFramer(DefaultCompressThreshold, 0)
	payload := []byte{1, 2, 3}

	frame, err := f.Pack(payload)
	require.NoError(t, err)
	assert.Len(t, frame, frameHeaderSize+len(payload))
	assert.Zero(t, frame[4]&frameCompressed)

	got, err := f.Unpack(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFramerCompressesLargePayload(t *testing.T) {
	f := NewFramer(64, 0)
	payload := []byte(strings.Repeat("spawn", 1000))

	frame, err := f.Pack(payload)
	require.NoError(t, err)
	assert.NotZero(t, frame[4]&frameCompressed)
	assert.Less(t, len(frame), len(payload))

	got, err := f.Unpack(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFramerReadsConsecutiveFrames(t *testing.T) {
	f := NewFramer(64, 0)
	var stream bytes.Buffer
	payloads := [][]byte{{1}, []byte(strings.Repeat("a", 4096)), {2, 3}}
	for _, p := range payloads {
		frame, err := f.Pack(p)
		require.NoError(t, err)
		stream.Write(frame)
	}

	r := bufio.NewReader(&stream)
	for _, want := range payloads {
		got, err := f.ReadFrame(r)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFramerLimits(t *testing.T) {
	f := NewFramer(0, 8)
	_, err := f.Pack(make([]byte, 9))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	big := NewFramer(0, 0)
	frame, err := big.Pack(make([]byte, 9))
	require.NoError(t, err)
	_, err = f.ReadFrame(bufio.NewReader(bytes.NewReader(frame)))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	_, err = f.Unpack(frame[:3])
	assert.ErrorIs(t, err, ErrShortBuffer)

	frame[4] = 0x40
	_, err = big.Unpack(frame)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandshakePayloads(t *testing.T) {
	require.NoError(t, CheckPreface(Preface()))
	assert.ErrorIs(t, CheckPreface([]byte("HTTP/1")), ErrHandshake)

	bad := Preface()
	bad[4]++
	assert.ErrorIs(t, CheckPreface(bad), ErrHandshake)

	peer, host, err := ParseAssignment(Assignment(7, HostPeerID))
	require.NoError(t, err)
	assert.EqualValues(t, 7, peer)
	assert.Equal(t, HostPeerID, host)

	_, _, err = ParseAssignment(Assignment(0, HostPeerID))
	assert.ErrorIs(t, err, ErrHandshake)
}
