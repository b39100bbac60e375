package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes identifying a gpioctl frame, followed by the protocol version.
// The version is bumped whenever the encoding changes so that a client and a
// long-running broker from different builds reject each other cleanly.
const (
	magic0  byte = 'g'
	magic1  byte = 'c'
	Version byte = 0x01

	headerSize = 8 // 2 (magic) + 1 (version) + 1 (kind) + 4 (bodyLen)
)

// Limits enforced on both sides of the socket.
const (
	MaxReqLines = 64  // Maximum number of lines in a single request.
	MaxChipPath = 128 // Maximum length of a chip path.
	MaxReqName  = 32  // Maximum length of a request handle name.
)

// Kind identifies a message within the protocol's closed message set.
type Kind uint8

const (
	KindOk        Kind = iota // Generic positive acknowledgment. Empty body.
	KindError                 // Request failed; body carries an errno.
	KindPing                  // Liveness probe. Empty body.
	KindStop                  // Ask the broker to exit. Empty body.
	KindRequest               // Request a set of lines; body is a Request.
	KindRequestOk             // Lines granted; body carries the handle name.
	KindRelease               // Reserved. The broker does not handle it yet.

	numKinds
)

// Returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindError:
		return "error"
	case KindPing:
		return "ping"
	case KindStop:
		return "stop"
	case KindRequest:
		return "request"
	case KindRequestOk:
		return "request-ok"
	case KindRelease:
		return "release"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Describes a set of lines on a single chip that the broker should hold
// open. All offsets must belong to the chip at ChipPath; fanning a request
// out over several chips is done by sending several messages.
type Request struct {
	ChipPath  string   // Path to the GPIO chip device.
	Offsets   []uint32 // Line offsets on the chip, at most MaxReqLines.
	Values    []int    // Initial output values, aligned with Offsets. May be nil.
	ActiveLow bool     // Treat the lines as active-low.
	Output    bool     // Request the lines as outputs driven to Values.
	Consumer  string   // Consumer tag recorded against the lines. May be empty.
}

// A single protocol message. Exactly one payload field is meaningful,
// selected by Kind; the others are zero.
type Message struct {
	Kind    Kind
	Errno   uint32  // KindError: the failing operation's errno.
	Request Request // KindRequest: the line request.
	ReqName string  // KindRequestOk: the granted handle name.
}

// Writes one message to w as a single framed write.
//
// Returns an error if the message violates a protocol limit or if the write
// fails. The frame is assembled in memory first so the peer observes exactly
// one send per message.
func Encode(w io.Writer, msg *Message) error {
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}

	frame := make([]byte, headerSize, headerSize+len(body))
	frame[0] = magic0
	frame[1] = magic1
	frame[2] = Version
	frame[3] = byte(msg.Kind)
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	frame = append(frame, body...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Reads one message from r.
//
// Transport failures (including EOF on hangup) are returned as-is; malformed
// frames are reported as errors wrapping ErrProtocol so the caller can tell
// a protocol violation from a closed connection.
func Decode(r io.Reader) (*Message, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != magic0 || header[1] != magic1 {
		return nil, fmt.Errorf("%w: bad magic %x", ErrProtocol, header[0:2])
	}
	if header[2] != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrProtocol, header[2])
	}

	kind := Kind(header[3])
	if kind >= numKinds {
		return nil, fmt.Errorf("%w: %w: %d", ErrProtocol, ErrUnknownKind, header[3])
	}

	bodyLen := binary.BigEndian.Uint32(header[4:8])
	if bodyLen > maxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds maximum", ErrProtocol, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	msg := &Message{Kind: kind}
	if err := decodeBody(msg, body); err != nil {
		return nil, err
	}
	return msg, nil
}

// Upper bound on any legal body: a full Request with the longest path,
// consumer tag, and MaxReqLines offsets and values.
const maxBodySize = 2 + MaxChipPath + 1 + MaxReqName + 2 + MaxReqLines*4 + MaxReqLines + 1

// Request flag bits.
const (
	flagActiveLow = 1 << 0
	flagOutput    = 1 << 1
)

func encodeBody(msg *Message) ([]byte, error) {
	switch msg.Kind {
	case KindOk, KindPing, KindStop, KindRelease:
		return nil, nil

	case KindError:
		body := make([]byte, 4)
		binary.BigEndian.PutUint32(body, msg.Errno)
		return body, nil

	case KindRequestOk:
		if len(msg.ReqName) > MaxReqName {
			return nil, fmt.Errorf("%w: handle name of %d bytes exceeds maximum", ErrProtocol, len(msg.ReqName))
		}
		body := make([]byte, 0, 1+len(msg.ReqName))
		body = append(body, byte(len(msg.ReqName)))
		return append(body, msg.ReqName...), nil

	case KindRequest:
		return encodeRequest(&msg.Request)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
}

func encodeRequest(req *Request) ([]byte, error) {
	if len(req.ChipPath) > MaxChipPath {
		return nil, fmt.Errorf("%w: chip path of %d bytes exceeds maximum", ErrProtocol, len(req.ChipPath))
	}
	if len(req.Consumer) > MaxReqName {
		return nil, fmt.Errorf("%w: consumer tag of %d bytes exceeds maximum", ErrProtocol, len(req.Consumer))
	}
	if len(req.Offsets) > MaxReqLines {
		return nil, fmt.Errorf("%w: %d offsets exceed maximum of %d", ErrProtocol, len(req.Offsets), MaxReqLines)
	}
	if req.Values != nil && len(req.Values) != len(req.Offsets) {
		return nil, fmt.Errorf("%w: %d values for %d offsets", ErrProtocol, len(req.Values), len(req.Offsets))
	}

	body := make([]byte, 0, maxBodySize)

	body = binary.BigEndian.AppendUint16(body, uint16(len(req.ChipPath)))
	body = append(body, req.ChipPath...)

	body = append(body, byte(len(req.Consumer)))
	body = append(body, req.Consumer...)

	body = binary.BigEndian.AppendUint16(body, uint16(len(req.Offsets)))
	for _, off := range req.Offsets {
		body = binary.BigEndian.AppendUint32(body, off)
	}
	for i := range req.Offsets {
		var v byte
		if req.Values != nil && req.Values[i] != 0 {
			v = 1
		}
		body = append(body, v)
	}

	var flags byte
	if req.ActiveLow {
		flags |= flagActiveLow
	}
	if req.Output {
		flags |= flagOutput
	}
	body = append(body, flags)

	return body, nil
}

func decodeBody(msg *Message, body []byte) error {
	switch msg.Kind {
	case KindOk, KindPing, KindStop, KindRelease:
		if len(body) != 0 {
			return fmt.Errorf("%w: unexpected body for %s", ErrProtocol, msg.Kind)
		}
		return nil

	case KindError:
		if len(body) != 4 {
			return fmt.Errorf("%w: error body of %d bytes", ErrProtocol, len(body))
		}
		msg.Errno = binary.BigEndian.Uint32(body)
		return nil

	case KindRequestOk:
		if len(body) < 1 {
			return fmt.Errorf("%w: truncated handle name", ErrProtocol)
		}
		n := int(body[0])
		if n > MaxReqName || len(body) != 1+n {
			return fmt.Errorf("%w: malformed handle name", ErrProtocol)
		}
		msg.ReqName = string(body[1 : 1+n])
		return nil

	case KindRequest:
		return decodeRequest(&msg.Request, body)
	}

	return fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
}

func decodeRequest(req *Request, body []byte) error {
	rd := reader{buf: body}

	pathLen := rd.uint16()
	if pathLen > MaxChipPath {
		return fmt.Errorf("%w: chip path of %d bytes exceeds maximum", ErrProtocol, pathLen)
	}
	req.ChipPath = string(rd.bytes(int(pathLen)))

	consumerLen := rd.uint8()
	if consumerLen > MaxReqName {
		return fmt.Errorf("%w: consumer tag of %d bytes exceeds maximum", ErrProtocol, consumerLen)
	}
	req.Consumer = string(rd.bytes(int(consumerLen)))

	numOffsets := rd.uint16()
	if numOffsets > MaxReqLines {
		return fmt.Errorf("%w: %d offsets exceed maximum of %d", ErrProtocol, numOffsets, MaxReqLines)
	}
	req.Offsets = make([]uint32, 0, numOffsets)
	for i := 0; i < int(numOffsets); i++ {
		req.Offsets = append(req.Offsets, rd.uint32())
	}
	req.Values = make([]int, 0, numOffsets)
	for i := 0; i < int(numOffsets); i++ {
		req.Values = append(req.Values, int(rd.uint8()))
	}

	flags := rd.uint8()
	req.ActiveLow = flags&flagActiveLow != 0
	req.Output = flags&flagOutput != 0

	if rd.failed || len(rd.buf) != 0 {
		return fmt.Errorf("%w: malformed request body", ErrProtocol)
	}
	return nil
}

// A cursor over a body slice. Reads past the end set the failed flag instead
// of panicking; the caller checks it once at the end.
type reader struct {
	buf    []byte
	failed bool
}

func (r *reader) bytes(n int) []byte {
	if len(r.buf) < n {
		r.failed = true
		r.buf = nil
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *reader) uint8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
