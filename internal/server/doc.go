// Package server implements the gpioctl broker.
//
// The broker listens on a per-user Unix-domain socket and holds GPIO line
// requests open on behalf of short-lived CLI invocations, so that requested
// lines outlive the invocation that asked for them. Clients connect, send
// framed protocol messages, and receive one response per message.
//
// One goroutine owns all broker state and runs the event loop. Everything
// else only produces events: the acceptor goroutine delivers new
// connections, a per-client reader goroutine delivers decoded messages and
// hangups, the signal channel delivers termination signals, and the idle
// timer fires when the broker has had no clients and no held requests for
// the idle period. The loop dispatches each event through a single switch,
// so client messages are handled strictly in arrival order and no locking
// is needed.
//
// Example usage:
//
//	srv, err := server.New(server.Config{
//	    Addr:  "@gpioctl-1000",
//	    Lines: gpio.Device{},
//	})
//	if err != nil {
//	    return err
//	}
//
//	return srv.Run()
//
// Run returns nil after a stop request, a termination signal, or idle
// expiry; the caller exits 0.
package server
