package cli

import (
	"github.com/hwctl/gpioctl/internal/client"
	"github.com/hwctl/gpioctl/internal/protocol"
)

// Represents the 'gpioctl ping' command.
type PingCmd struct{}

// Executes the ping command: one round trip expecting an Ok.
func (c *PingCmd) Run() error {
	return roundTrip(&protocol.Message{Kind: protocol.KindPing}, protocol.KindOk)
}

// Represents the 'gpioctl stop' command.
type StopCmd struct{}

// Executes the stop command, asking the broker to exit gracefully.
func (c *StopCmd) Run() error {
	return roundTrip(&protocol.Message{Kind: protocol.KindStop}, protocol.KindOk)
}

// Connects to the broker (spawning one if needed), performs one exchange,
// and validates the response kind.
func roundTrip(msg *protocol.Message, want protocol.Kind) error {
	conn, err := client.Connect(socketAddr())
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := client.Exchange(conn, msg)
	if err != nil {
		return err
	}
	return client.ValidateResponse(resp, want)
}
