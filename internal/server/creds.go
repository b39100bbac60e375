package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// OS-supplied identity of the process on the other end of a Unix-domain
// connection. Obtained from the kernel, never from anything the peer sends.
type Creds struct {
	UID uint32
	PID int32
}

// Reads the peer credentials of a connected socket via SO_PEERCRED.
func peerCredentials(conn *net.UnixConn) (Creds, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Creds{}, fmt.Errorf("failed to access client socket: %w", err)
	}

	var (
		ucred   *unix.Ucred
		sockErr error
	)
	err = raw.Control(func(fd uintptr) {
		ucred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return Creds{}, fmt.Errorf("failed to access client socket: %w", err)
	}
	if sockErr != nil {
		return Creds{}, fmt.Errorf("failed to get credentials from connected client: %w", sockErr)
	}

	return Creds{UID: ucred.Uid, PID: ucred.Pid}, nil
}
