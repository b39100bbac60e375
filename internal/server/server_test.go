package server

import (
	"io"
	"net"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwctl/gpioctl/internal/gpio"
	"github.com/hwctl/gpioctl/internal/protocol"
)

// A line service that records every request and never touches hardware.
type fakeLines struct {
	mu     sync.Mutex
	specs  []gpio.RequestSpec
	err    error
	closed int
}

func (f *fakeLines) RequestLines(spec gpio.RequestSpec) (gpio.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.specs = append(f.specs, spec)
	return &fakeHeld{lines: f}, nil
}

func (f *fakeLines) requested() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

type fakeHeld struct {
	lines *fakeLines
}

func (h *fakeHeld) Close() error {
	h.lines.mu.Lock()
	defer h.lines.mu.Unlock()
	h.lines.closed++
	return nil
}

// Starts a broker on a socket under t.TempDir and runs its loop in the
// background. The returned channel closes when Run returns.
func startTestServer(t *testing.T, lines gpio.Requester) (string, <-chan struct{}) {
	t.Helper()

	addr := filepath.Join(t.TempDir(), "broker.sock")
	srv, err := New(Config{
		Addr:         addr,
		Lines:        lines,
		Logger:       discardLogger(),
		IdleTimeout:  time.Hour,
		WakeInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run()
	}()

	t.Cleanup(func() {
		select {
		case <-done:
			return
		default:
		}
		if conn, err := net.Dial("unix", addr); err == nil {
			protocol.Encode(conn, &protocol.Message{Kind: protocol.KindStop})
			protocol.Decode(conn)
			conn.Close()
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("broker did not stop")
		}
	})

	return addr, done
}

func exchange(t *testing.T, conn net.Conn, msg *protocol.Message) *protocol.Message {
	t.Helper()

	require.NoError(t, protocol.Encode(conn, msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	resp, err := protocol.Decode(conn)
	require.NoError(t, err)
	return resp
}

func TestPingRoundTrip(t *testing.T) {
	addr, _ := startTestServer(t, &fakeLines{})

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := exchange(t, conn, &protocol.Message{Kind: protocol.KindPing})
	assert.Equal(t, protocol.KindOk, resp.Kind)
}

func TestStopShutsDownGracefully(t *testing.T) {
	addr, done := startTestServer(t, &fakeLines{})

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := exchange(t, conn, &protocol.Message{Kind: protocol.KindStop})
	assert.Equal(t, protocol.KindOk, resp.Kind)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not stop")
	}

	_, err = net.Dial("unix", addr)
	assert.Error(t, err, "stopped broker must not accept connections")
}

func TestRequestGrantsAndHoldsLines(t *testing.T) {
	lines := &fakeLines{}
	addr, done := startTestServer(t, lines)

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)

	resp := exchange(t, conn, &protocol.Message{
		Kind: protocol.KindRequest,
		Request: protocol.Request{
			ChipPath:  "/dev/gpiochip0",
			Offsets:   []uint32{3, 5},
			Values:    []int{1, 0},
			ActiveLow: true,
			Output:    true,
			Consumer:  "blinker",
		},
	})
	require.Equal(t, protocol.KindRequestOk, resp.Kind)
	assert.True(t, len(resp.ReqName) > 0 && len(resp.ReqName) <= protocol.MaxReqName)

	// The request must survive the client that created it.
	conn.Close()

	conn, err = net.Dial("unix", addr)
	require.NoError(t, err)
	resp = exchange(t, conn, &protocol.Message{Kind: protocol.KindPing})
	require.Equal(t, protocol.KindOk, resp.Kind)

	exchange(t, conn, &protocol.Message{Kind: protocol.KindStop})
	conn.Close()
	<-done

	require.Equal(t, 1, lines.requested())
	spec := lines.specs[0]
	assert.Equal(t, "/dev/gpiochip0", spec.ChipPath)
	assert.Equal(t, []uint32{3, 5}, spec.Offsets)
	assert.True(t, spec.ActiveLow)
	assert.True(t, spec.Output)
	assert.Equal(t, "blinker", spec.Consumer)
	assert.Equal(t, 1, lines.closed, "held request must be released on shutdown")
}

func TestRequestDefaultsConsumerTag(t *testing.T) {
	lines := &fakeLines{}
	addr, done := startTestServer(t, lines)

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)

	resp := exchange(t, conn, &protocol.Message{
		Kind:    protocol.KindRequest,
		Request: protocol.Request{ChipPath: "/dev/gpiochip0", Offsets: []uint32{0}},
	})
	require.Equal(t, protocol.KindRequestOk, resp.Kind)

	exchange(t, conn, &protocol.Message{Kind: protocol.KindStop})
	conn.Close()
	<-done

	require.Equal(t, 1, lines.requested())
	assert.Equal(t, "gpioctl", lines.specs[0].Consumer)
}

func TestRequestWithNoOffsetsReturnsEINVAL(t *testing.T) {
	lines := &fakeLines{}
	addr, _ := startTestServer(t, lines)

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := exchange(t, conn, &protocol.Message{
		Kind:    protocol.KindRequest,
		Request: protocol.Request{ChipPath: "/dev/gpiochip0"},
	})
	require.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, uint32(syscall.EINVAL), resp.Errno)
	assert.Zero(t, lines.requested())
}

func TestRequestFailureReturnsErrno(t *testing.T) {
	lines := &fakeLines{err: syscall.EBUSY}
	addr, _ := startTestServer(t, lines)

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	resp := exchange(t, conn, &protocol.Message{
		Kind:    protocol.KindRequest,
		Request: protocol.Request{ChipPath: "/dev/gpiochip0", Offsets: []uint32{1}},
	})
	require.Equal(t, protocol.KindError, resp.Kind)
	assert.Equal(t, uint32(syscall.EBUSY), resp.Errno)
}

func TestUnexpectedKindDropsOnlyThatClient(t *testing.T) {
	addr, _ := startTestServer(t, &fakeLines{})

	bystander, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer bystander.Close()

	offender, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer offender.Close()

	// Release is reserved: the broker treats it as a protocol violation.
	require.NoError(t, protocol.Encode(offender, &protocol.Message{Kind: protocol.KindRelease}))
	require.NoError(t, offender.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = protocol.Decode(offender)
	assert.ErrorIs(t, err, io.EOF, "offending client must be dropped")

	resp := exchange(t, bystander, &protocol.Message{Kind: protocol.KindPing})
	assert.Equal(t, protocol.KindOk, resp.Kind, "other clients must keep working")
}

func TestGarbageOnTheWireDropsClient(t *testing.T) {
	addr, _ := startTestServer(t, &fakeLines{})

	conn, err := net.Dial("unix", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = protocol.Decode(conn)
	assert.ErrorIs(t, err, io.EOF)
}

func TestIdleExpiryShutsDown(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "broker.sock")
	srv, err := New(Config{
		Addr:         addr,
		Lines:        &fakeLines{},
		Logger:       discardLogger(),
		IdleTimeout:  20 * time.Millisecond,
		WakeInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle broker did not exit")
	}

	assert.Empty(t, srv.clients)
	assert.Empty(t, srv.requests)
}
