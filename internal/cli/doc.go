// Parses flags and dispatches the gpioctl subcommands.
//
// Global options:
//
//	-l, --active-low   Treat the lines as active-low.
//	-c, --chip         Restrict line lookup to one chip.
//	-s, --strict       Require line names to be unique.
//	-C, --consumer     Consumer tag recorded against requested lines.
//	-B, --by-name      Treat line identifiers as names even when numeric.
//	    --socket       Override the derived socket address.
//	-v, --version      Output version information and exit.
//
// Subcommands: ping, stop, request, release, debug, plus the hidden serve
// command that a bootstrap-spawned broker process starts under.
package cli
