// Package client implements the CLI side of the broker protocol: obtaining
// a connection (spawning a detached broker if none is reachable) and the
// single request/response exchange every subcommand performs.
package client
