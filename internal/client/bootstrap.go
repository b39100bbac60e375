package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Descriptor the inherited listener lands on in the spawned broker: the
// first slot after stdio.
const listenerFD = 3

// Returns a connected socket to the per-user broker, spawning one first if
// none is reachable.
//
// The contract mirrors a connect-or-start bootstrap: dial; if that fails
// because no broker exists yet, start exactly one detached broker and retry
// the dial once. A second failure, or any dial error other than "no broker
// yet", is returned to the caller.
func Connect(addr string) (*net.UnixConn, error) {
	conn, err := dial(addr)
	if err == nil {
		return conn, nil
	}
	if !isNoServer(err) {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if err := startServer(addr); err != nil {
		return nil, err
	}

	conn, err = dial(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	return conn, nil
}

func dial(addr string) (*net.UnixConn, error) {
	return net.DialUnix("unix", nil, &net.UnixAddr{Name: addr, Net: "unix"})
}

// Whether a dial error means "nothing is listening yet" as opposed to a
// real transport failure. The socket address may not exist at all, or may
// linger with no broker behind it.
func isNoServer(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED)
}

// Starts one detached broker process serving addr.
//
// The listening socket is bound here, in the client, and passed to the
// spawned broker as an inherited descriptor. bind is the arbiter when two
// clients race to start a broker: the loser's bind fails, its broker is
// never spawned, and its retry connects to the winner instead. The spawned
// process gets its own session and the null device on stdio, so it survives
// this process and its terminal.
func startServer(addr string) error {
	ln, err := bindListener(addr)
	if err != nil {
		// Lost the bind race; the winner's broker takes the retry.
		return nil
	}
	// The child holds its own duplicate of the socket; closing ours must
	// not unlink a filesystem address.
	ln.SetUnlinkOnClose(false)
	defer ln.Close()

	f, err := ln.File()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	defer f.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	defer devnull.Close()

	cmd := exec.Command(exe, "--socket", addr, "serve", fmt.Sprintf("--listen-fd=%d", listenerFD))
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.ExtraFiles = []*os.File{f}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return cmd.Process.Release()
}

// Binds the broker's listening socket.
//
// A broker that dies without unlinking its filesystem socket leaves a file
// that refuses the dial which got us here but still blocks the bind. Such
// a stale socket is removed and the bind retried; an address that is in
// use by a live broker means the race was genuinely lost and the bind
// error is returned. Abstract addresses cannot go stale; the kernel
// reclaims them with the owning process.
func bindListener(addr string) (*net.UnixListener, error) {
	laddr := &net.UnixAddr{Name: addr, Net: "unix"}

	ln, err := net.ListenUnix("unix", laddr)
	if err == nil || strings.HasPrefix(addr, "@") || !errors.Is(err, syscall.EADDRINUSE) {
		return ln, err
	}

	if conn, derr := dial(addr); derr == nil {
		conn.Close()
		return nil, err
	} else if !isNoServer(derr) {
		return nil, err
	}

	if rmErr := os.Remove(addr); rmErr != nil {
		return nil, err
	}
	return net.ListenUnix("unix", laddr)
}
