package cli

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/hwctl/gpioctl/internal"
	"github.com/hwctl/gpioctl/internal/paths"
)

// Represents the root command for gpioctl.
var RootCmd struct {
	Version   kong.VersionFlag `short:"v" help:"Output version information and exit."`
	ActiveLow bool             `short:"l" help:"Treat the lines as active-low."`
	Chip      string           `short:"c" help:"Restrict line lookup to a single chip." placeholder:"CHIP"`
	Strict    bool             `short:"s" help:"Require line names to be unique."`
	Consumer  string           `short:"C" help:"Consumer tag recorded against requested lines." placeholder:"NAME"`
	ByName    bool             `short:"B" help:"Treat line identifiers as names even when numeric."`
	Socket    string           `help:"Override the unix-domain socket address." placeholder:"ADDR"`

	Debug   DebugCmd   `cmd:"" help:"Run the broker in the foreground with debug logging."`
	Ping    PingCmd    `cmd:"" help:"Check that the broker is reachable."`
	Stop    StopCmd    `cmd:"" help:"Ask the broker to exit."`
	Request RequestCmd `cmd:"" help:"Request a set of GPIO lines."`
	Release ReleaseCmd `cmd:"" help:"Release a set of requested GPIO lines."`
	Serve   ServeCmd   `cmd:"" hidden:""`
}

// Parses arguments and runs the selected subcommand.
func Execute() error {
	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Simple swiss-army knife for controlling GPIOs with persistence support.\n\n"+
			"Line requests are held open by a per-user broker that outlives the invocation creating them."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
	)

	return kongCtx.Run()
}

// The socket address to use: the override flag if given, otherwise the
// per-user default.
func socketAddr() string {
	if RootCmd.Socket != "" {
		return RootCmd.Socket
	}
	return paths.SocketAddr()
}

// Replaces the default logger with a stderr logger at the given level. The
// debug subcommand uses it to surface broker logs in the foreground.
func stderrLogger(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler).WithGroup(internal.Name)
}
