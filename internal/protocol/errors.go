package protocol

import "errors"

var (
	ErrProtocol    = errors.New("protocol violation")
	ErrUnknownKind = errors.New("unknown message kind")
)
