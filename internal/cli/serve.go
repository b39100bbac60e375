package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/hwctl/gpioctl/internal/gpio"
	"github.com/hwctl/gpioctl/internal/paths"
	"github.com/hwctl/gpioctl/internal/server"
)

// Represents the 'gpioctl debug' command.
type DebugCmd struct{}

// Executes the debug command: the broker runs in the foreground of the
// invoking terminal with debug logging on stderr, instead of detaching.
func (c *DebugCmd) Run() error {
	slog.SetDefault(stderrLogger(slog.LevelDebug))

	srv, err := server.New(server.Config{
		Addr:  socketAddr(),
		Lines: gpio.Device{},
	})
	if err != nil {
		return err
	}
	return srv.Run()
}

// Represents the hidden 'gpioctl serve' command: the process the bootstrap
// re-executes to run the detached broker.
type ServeCmd struct {
	ListenFD int `name:"listen-fd" hidden:"" default:"-1" help:"Inherited descriptor of the pre-bound listening socket."`
}

// Executes the serve command.
//
// When spawned by the bootstrap the listening socket arrives pre-bound on
// an inherited descriptor; otherwise the broker binds the address itself.
// Stdio points at the null device, so logs go to a file under the state
// directory.
func (c *ServeCmd) Run() error {
	logger := fileLogger()
	slog.SetDefault(logger)

	var ln *net.UnixListener
	if c.ListenFD >= 0 {
		f := os.NewFile(uintptr(c.ListenFD), "listener")
		l, err := net.FileListener(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to adopt the inherited listener: %w", err)
		}
		var ok bool
		ln, ok = l.(*net.UnixListener)
		if !ok {
			l.Close()
			return fmt.Errorf("inherited listener is not a unix socket")
		}
	}

	srv, err := server.New(server.Config{
		Addr:     socketAddr(),
		Listener: ln,
		Lines:    gpio.Device{},
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	return srv.Run()
}

// Creates the detached broker's logger, writing to the log file under the
// state directory. If the file cannot be opened the broker runs silently.
func fileLogger() *slog.Logger {
	var w io.Writer = io.Discard
	if err := os.MkdirAll(paths.State(), paths.DefaultDirMode); err == nil {
		f, err := os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, paths.DefaultFileMode)
		if err == nil {
			w = f
		}
	}
	return slog.New(slog.NewTextHandler(w, nil))
}
