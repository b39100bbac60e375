package client

import "errors"

var (
	ErrConnect  = errors.New("failed to connect to broker")
	ErrSpawn    = errors.New("failed to spawn the broker process")
	ErrTimeout  = errors.New("timeout while waiting for the broker to respond")
	ErrResponse = errors.New("unexpected response from broker")
)
