package server

import (
	"errors"
	"syscall"

	"github.com/google/uuid"

	"github.com/hwctl/gpioctl/internal"
	"github.com/hwctl/gpioctl/internal/gpio"
	"github.com/hwctl/gpioctl/internal/protocol"
)

// Handles one decoded client message.
//
// The client may have been dropped while the message sat in the event
// channel; such messages are discarded.
func (s *Server) handleMessage(id uint64, msg *protocol.Message) {
	cli, ok := s.clients[id]
	if !ok {
		return
	}

	switch msg.Kind {
	case protocol.KindPing:
		s.log.Debug("ping received", "pid", cli.pid)
		s.reply(cli, &protocol.Message{Kind: protocol.KindOk})

	case protocol.KindStop:
		s.log.Info("stop request received, exiting", "pid", cli.pid)
		s.reply(cli, &protocol.Message{Kind: protocol.KindOk})
		s.stop = true

	case protocol.KindRequest:
		s.handleRequest(cli, &msg.Request)

	default:
		// Includes KindRelease, which is reserved but not handled yet.
		s.log.Warn("unexpected message kind from client", "pid", cli.pid, "kind", msg.Kind.String())
		s.dropClient(cli)
	}
}

// Validates a line request and forwards it to the line service.
//
// On success the granted request is stored under a generated handle name
// and the lines stay held for the broker's lifetime, independent of the
// client that asked for them. On failure only an errno crosses the wire;
// the client renders the description locally.
func (s *Server) handleRequest(cli *client, req *protocol.Request) {
	s.log.Info("handling line request",
		"pid", cli.pid,
		"chip", req.ChipPath,
		"lines", len(req.Offsets),
	)

	if len(req.Offsets) == 0 || len(req.Offsets) > protocol.MaxReqLines {
		s.sendErrno(cli, syscall.EINVAL)
		return
	}

	consumer := req.Consumer
	if consumer == "" {
		consumer = internal.Name
	}

	held, err := s.lines.RequestLines(gpio.RequestSpec{
		ChipPath:  req.ChipPath,
		Offsets:   req.Offsets,
		Values:    req.Values,
		ActiveLow: req.ActiveLow,
		Output:    req.Output,
		Consumer:  consumer,
	})
	if err != nil {
		s.log.Warn("line request failed, sending back error response",
			"pid", cli.pid,
			"chip", req.ChipPath,
			"error", err,
		)
		s.sendErrno(cli, errnoOf(err))
		return
	}

	name := newRequestName()
	s.requests[name] = &lineRequest{name: name, held: held}

	s.log.Info("lines requested", "name", name, "chip", req.ChipPath)

	s.reply(cli, &protocol.Message{Kind: protocol.KindRequestOk, ReqName: name})
}

// Sends a response to a client. A failed send drops the client; whatever
// the response was about has already taken effect on the broker side.
func (s *Server) reply(cli *client, msg *protocol.Message) {
	if err := protocol.Encode(cli.conn, msg); err != nil {
		s.log.Warn("failed to send response to client", "pid", cli.pid, "error", err)
		s.dropClient(cli)
	}
}

func (s *Server) sendErrno(cli *client, errno syscall.Errno) {
	s.reply(cli, &protocol.Message{Kind: protocol.KindError, Errno: uint32(errno)})
}

// Extracts the system errno from a line service error. Errors that carry no
// errno are reported as EIO.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

// Generates a handle name for a granted request.
func newRequestName() string {
	return "req-" + uuid.NewString()[:8]
}
