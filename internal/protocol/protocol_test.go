package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg *Message) *Message {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, msg))

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	require.Zero(t, buf.Len(), "decode left trailing bytes")
	return decoded
}

func TestRoundTripEmptyKinds(t *testing.T) {
	for _, kind := range []Kind{KindOk, KindPing, KindStop, KindRelease} {
		decoded := roundTrip(t, &Message{Kind: kind})
		assert.Equal(t, kind, decoded.Kind)
	}
}

func TestRoundTripError(t *testing.T) {
	decoded := roundTrip(t, &Message{Kind: KindError, Errno: 22})
	assert.Equal(t, KindError, decoded.Kind)
	assert.Equal(t, uint32(22), decoded.Errno)
}

func TestRoundTripRequestOk(t *testing.T) {
	decoded := roundTrip(t, &Message{Kind: KindRequestOk, ReqName: "req-1a2b3c4d"})
	assert.Equal(t, KindRequestOk, decoded.Kind)
	assert.Equal(t, "req-1a2b3c4d", decoded.ReqName)
}

func TestRoundTripRequest(t *testing.T) {
	msg := &Message{
		Kind: KindRequest,
		Request: Request{
			ChipPath:  "/dev/gpiochip0",
			Offsets:   []uint32{4, 7, 21},
			Values:    []int{1, 0, 1},
			ActiveLow: true,
			Output:    true,
			Consumer:  "blinker",
		},
	}

	decoded := roundTrip(t, msg)
	require.Equal(t, KindRequest, decoded.Kind)
	assert.Equal(t, msg.Request, decoded.Request)
}

func TestRoundTripRequestInput(t *testing.T) {
	msg := &Message{
		Kind: KindRequest,
		Request: Request{
			ChipPath: "/dev/gpiochip1",
			Offsets:  []uint32{0},
		},
	}

	decoded := roundTrip(t, msg)
	require.Equal(t, KindRequest, decoded.Kind)
	assert.Equal(t, msg.Request.ChipPath, decoded.Request.ChipPath)
	assert.Equal(t, msg.Request.Offsets, decoded.Request.Offsets)
	assert.Equal(t, []int{0}, decoded.Request.Values)
	assert.False(t, decoded.Request.ActiveLow)
	assert.False(t, decoded.Request.Output)
	assert.Empty(t, decoded.Request.Consumer)
}

func TestEncodeRejectsLimitViolations(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "too many offsets",
			msg:  Message{Kind: KindRequest, Request: Request{ChipPath: "/dev/gpiochip0", Offsets: make([]uint32, MaxReqLines+1)}},
		},
		{
			name: "chip path too long",
			msg:  Message{Kind: KindRequest, Request: Request{ChipPath: string(make([]byte, MaxChipPath+1)), Offsets: []uint32{0}}},
		},
		{
			name: "misaligned values",
			msg:  Message{Kind: KindRequest, Request: Request{ChipPath: "/dev/gpiochip0", Offsets: []uint32{0, 1}, Values: []int{1}}},
		},
		{
			name: "handle name too long",
			msg:  Message{Kind: KindRequestOk, ReqName: string(make([]byte, MaxReqName+1))},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Encode(io.Discard, &tt.msg)
			assert.ErrorIs(t, err, ErrProtocol)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	frame := []byte{'g', 'c', Version, byte(numKinds), 0, 0, 0, 0}

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	frame := []byte{'x', 'y', Version, byte(KindPing), 0, 0, 0, 0}

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	frame := []byte{'g', 'c', Version + 1, byte(KindPing), 0, 0, 0, 0}

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsUnexpectedBody(t *testing.T) {
	frame := []byte{'g', 'c', Version, byte(KindPing), 0, 0, 0, 1, 0xff}

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	frame := make([]byte, headerSize)
	frame[0], frame[1], frame[2], frame[3] = 'g', 'c', Version, byte(KindRequest)
	binary.BigEndian.PutUint32(frame[4:8], 1<<20)

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeRejectsTruncatedRequestBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Message{
		Kind:    KindRequest,
		Request: Request{ChipPath: "/dev/gpiochip0", Offsets: []uint32{1, 2}},
	}))

	frame := buf.Bytes()
	// Shrink the body but keep the advertised length consistent, so the
	// failure is a malformed body rather than a short read.
	frame = frame[:len(frame)-4]
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(frame)-headerSize))

	_, err := Decode(bytes.NewReader(frame))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeHangupIsNotAViolation(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrProtocol)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "ping", KindPing.String())
	assert.Equal(t, "request-ok", KindRequestOk.String())
	assert.Equal(t, "kind(200)", Kind(200).String())
}
