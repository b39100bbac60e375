package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/hwctl/gpioctl/internal/gpio"
	"github.com/hwctl/gpioctl/internal/protocol"
)

const (

	// How long the broker may sit with no clients and no held requests
	// before it exits.
	DefaultIdleTimeout = 60 * time.Second

	// Coarse upper bound on one blocking wait in the event loop. The loop
	// reevaluates the idle timer at least this often even when nothing
	// happens.
	defaultWakeInterval = 60 * time.Second

	// Capacity of the event channel. Producers block once it is full,
	// which is fine: the loop drains it on every iteration.
	eventBacklog = 16
)

// Holds broker configuration.
type Config struct {
	Addr         string            // Socket address to bind. Ignored when Listener is set.
	Listener     *net.UnixListener // Pre-bound listener inherited from the bootstrap. Optional.
	Lines        gpio.Requester    // Line service used to satisfy requests.
	Logger       *slog.Logger      // Destination for broker logs. Defaults to slog.Default.
	IdleTimeout  time.Duration     // Idle period before the broker exits. Defaults to DefaultIdleTimeout.
	WakeInterval time.Duration     // Maximum time between loop iterations. Defaults to 60s.

	// Reads the peer credentials of an accepted connection. Defaults to
	// SO_PEERCRED; tests substitute a fake.
	Credentials func(*net.UnixConn) (Creds, error)
}

// The broker: a single-goroutine event loop multiplexing the acceptor,
// connected clients, signals, and the idle timer.
type Server struct {
	ln    *net.UnixListener
	lines gpio.Requester
	log   *slog.Logger
	creds func(*net.UnixConn) (Creds, error)

	events  chan event
	signals chan os.Signal
	done    chan struct{}
	idle    *idleTimer
	wake    time.Duration

	clients  map[uint64]*client
	requests map[string]*lineRequest
	nextID   uint64
	stop     bool
}

// One connected peer.
type client struct {
	id   uint64
	conn *net.UnixConn
	pid  int32
	user string
}

// One granted line request, held open for the broker's lifetime.
type lineRequest struct {
	name string
	held gpio.Request
}

// An event delivered to the loop by one of its sources.
type event struct {
	kind   eventKind
	conn   *net.UnixConn     // evAccept: the freshly accepted connection.
	client uint64            // evMessage, evHangup: the originating client.
	msg    *protocol.Message // evMessage: the decoded message.
	err    error             // evHangup: what ended the connection.
}

type eventKind int

const (
	evAccept eventKind = iota
	evMessage
	evHangup
)

// Creates a broker listening on the configured address.
//
// When cfg.Listener is set the broker serves on it directly; this is how a
// bootstrap-spawned process inherits the socket its parent already bound.
func New(cfg Config) (*Server, error) {
	ln := cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Addr, Net: "unix"})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to bind to %s: %w", ErrServer, cfg.Addr, err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}

	wake := cfg.WakeInterval
	if wake == 0 {
		wake = defaultWakeInterval
	}

	creds := cfg.Credentials
	if creds == nil {
		creds = peerCredentials
	}

	return &Server{
		ln:       ln,
		lines:    cfg.Lines,
		log:      logger,
		creds:    creds,
		events:   make(chan event, eventBacklog),
		signals:  make(chan os.Signal, 1),
		done:     make(chan struct{}),
		idle:     newIdleTimer(idleTimeout),
		wake:     wake,
		clients:  make(map[uint64]*client),
		requests: make(map[string]*lineRequest),
	}, nil
}

// Runs the event loop until a stop request, a termination signal, or idle
// expiry. Always returns nil so the process exits 0 on a graceful stop.
func (s *Server) Run() error {
	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(s.signals)

	go s.acceptLoop()

	s.log.Info("broker started", "addr", s.ln.Addr().String(), "pid", os.Getpid())

	for !s.stop {
		// The idle timer is reevaluated exactly once per iteration,
		// before blocking, never from inside a handler.
		s.idle.sync(s.useCount(), s.log)

		select {
		case ev := <-s.events:
			s.dispatch(ev)
		case sig := <-s.signals:
			s.log.Info("signal received, exiting", "signal", sig.String())
			s.stop = true
		case <-s.idle.expired():
			s.log.Info("idle timer expired, exiting")
			s.stop = true
		case <-time.After(s.wake):
			// Periodic wake-up.
		}
	}

	s.shutdown()
	return nil
}

// The number of live resources: connected clients plus held line requests.
// The broker may only exit on idle when this is zero.
func (s *Server) useCount() int {
	return len(s.clients) + len(s.requests)
}

// Routes one event. The closed set of event variants replaces the
// per-receiver callbacks of a classic readiness loop.
func (s *Server) dispatch(ev event) {
	switch ev.kind {
	case evAccept:
		s.acceptClient(ev.conn)
	case evMessage:
		s.handleMessage(ev.client, ev.msg)
	case evHangup:
		s.handleHangup(ev.client, ev.err)
	}
}

// Accepts connections and feeds them to the loop until the listener closes.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Non-fatal: keep serving the clients we have.
			s.log.Warn("failed to accept client connection", "error", err)
			continue
		}

		select {
		case s.events <- event{kind: evAccept, conn: conn}:
		case <-s.done:
			conn.Close()
			return
		}
	}
}

// Registers a freshly accepted connection as a client.
//
// The peer is identified by its socket credentials; a connection whose
// credentials cannot be retrieved, or whose uid does not resolve to a user,
// is discarded without a client entry ever existing.
func (s *Server) acceptClient(conn *net.UnixConn) {
	creds, err := s.creds(conn)
	if err != nil {
		conn.Close()
		return
	}

	pwd, err := user.LookupId(strconv.FormatUint(uint64(creds.UID), 10))
	if err != nil {
		s.log.Warn("failed to identify connected client", "uid", creds.UID, "error", err)
		conn.Close()
		return
	}

	s.nextID++
	cli := &client{
		id:   s.nextID,
		conn: conn,
		pid:  creds.PID,
		user: pwd.Username,
	}
	s.clients[cli.id] = cli

	go s.readLoop(cli)

	s.log.Info("accepted connection", "pid", cli.pid, "user", cli.user)
}

// Reads messages from one client and feeds them to the loop. Exits on the
// first decode failure, which covers both hangups and garbage on the wire;
// the loop decides which one it was.
func (s *Server) readLoop(cli *client) {
	for {
		msg, err := protocol.Decode(cli.conn)
		if err != nil {
			select {
			case s.events <- event{kind: evHangup, client: cli.id, err: err}:
			case <-s.done:
			}
			return
		}

		select {
		case s.events <- event{kind: evMessage, client: cli.id, msg: msg}:
		case <-s.done:
			return
		}
	}
}

// Handles the end of a client connection, whether a clean hangup or a
// protocol violation. Dropping an already-dropped client is a no-op: the
// reader may deliver a trailing hangup after the loop closed the socket.
func (s *Server) handleHangup(id uint64, err error) {
	cli, ok := s.clients[id]
	if !ok {
		return
	}

	if errors.Is(err, protocol.ErrProtocol) {
		s.log.Warn("protocol violation from client", "pid", cli.pid, "error", err)
	} else {
		s.log.Info("client hung up", "pid", cli.pid)
	}
	s.dropClient(cli)
}

// Removes a client and closes its connection. Held line requests are not
// affected: they belong to the broker, not to the client that created them.
func (s *Server) dropClient(cli *client) {
	delete(s.clients, cli.id)
	cli.conn.Close()
}

// Drops every client, releases held requests, and closes the listener.
func (s *Server) shutdown() {
	s.log.Info("broker exiting")

	close(s.done)

	for _, cli := range s.clients {
		s.dropClient(cli)
	}
	for name, req := range s.requests {
		if err := req.held.Close(); err != nil {
			s.log.Warn("failed to release line request", "name", name, "error", err)
		}
		delete(s.requests, name)
	}

	s.ln.Close()
}
