package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/hwctl/gpioctl/internal/protocol"
)

// How long the client waits for the broker to respond before giving up.
// A variable so tests can shorten it.
var responseTimeout = 10 * time.Second

// Performs one request/response round trip.
//
// The response must arrive within the response timeout; a timeout or any
// transport failure is an error, which every subcommand treats as fatal.
func Exchange(conn net.Conn, msg *protocol.Message) (*protocol.Message, error) {
	if err := protocol.Encode(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send request to broker: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(responseTimeout)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	resp, err := protocol.Decode(conn)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to receive response from broker: %w", err)
	}
	return resp, nil
}

// Checks a broker response against the kind the caller expects.
//
// An Error response carries only an errno; its description is rendered
// here, locally, so the wording never depends on the broker's runtime.
func ValidateResponse(msg *protocol.Message, want protocol.Kind) error {
	if msg.Kind == protocol.KindError {
		return fmt.Errorf("broker error: %s", syscall.Errno(msg.Errno).Error())
	}
	if msg.Kind != want {
		return fmt.Errorf("%w: got %s, want %s", ErrResponse, msg.Kind, want)
	}
	return nil
}
