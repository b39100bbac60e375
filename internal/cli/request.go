package cli

import (
	"fmt"
	"strings"

	"github.com/hwctl/gpioctl/internal/client"
	"github.com/hwctl/gpioctl/internal/gpio"
	"github.com/hwctl/gpioctl/internal/protocol"
)

// Represents the 'gpioctl request' command.
type RequestCmd struct {
	Lines []string `arg:"" name:"line" help:"Lines to request, by name or offset. Append =0 or =1 to every line to drive the set as outputs."`
}

// Executes the request command.
//
// Line identifiers are resolved locally first; requests spanning more than
// one chip, or violating the line-count limits, die here before any socket
// I/O happens. On success the broker's handle name for the granted request
// is printed.
func (c *RequestCmd) Run() error {
	ids, values, output, err := parseLineValues(c.Lines)
	if err != nil {
		return err
	}

	resolved, err := gpio.Resolve(gpio.Device{}, gpio.ResolveConfig{
		Chip:   RootCmd.Chip,
		ByName: RootCmd.ByName,
		Strict: RootCmd.Strict,
	}, ids)
	if err != nil {
		return err
	}

	msg := &protocol.Message{
		Kind: protocol.KindRequest,
		Request: protocol.Request{
			ChipPath:  resolved.ChipPath,
			Offsets:   resolved.Offsets,
			Values:    values,
			ActiveLow: RootCmd.ActiveLow,
			Output:    output,
			Consumer:  RootCmd.Consumer,
		},
	}

	conn, err := client.Connect(socketAddr())
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := client.Exchange(conn, msg)
	if err != nil {
		return err
	}
	if err := client.ValidateResponse(resp, protocol.KindRequestOk); err != nil {
		return err
	}

	fmt.Println(resp.ReqName)
	return nil
}

// Splits "<line>=<value>" arguments into identifiers and output values.
//
// Values are all-or-nothing: either every line carries one, in which case
// the set is requested as outputs, or none does and the set is requested as
// inputs.
func parseLineValues(args []string) (ids []string, values []int, output bool, err error) {
	for _, arg := range args {
		id, value, found := strings.Cut(arg, "=")
		if id == "" {
			return nil, nil, false, fmt.Errorf("invalid line identifier: %q", arg)
		}
		ids = append(ids, id)
		if !found {
			continue
		}
		switch value {
		case "0":
			values = append(values, 0)
		case "1":
			values = append(values, 1)
		default:
			return nil, nil, false, fmt.Errorf("invalid output value for line %s: %q", id, value)
		}
	}

	if values == nil {
		return ids, nil, false, nil
	}
	if len(values) != len(ids) {
		return nil, nil, false, fmt.Errorf("either all lines or none must carry an output value")
	}
	return ids, values, true, nil
}
