package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/hwctl/gpioctl/internal"
)

const (

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Default address of the per-user broker socket, in the abstract
// Unix-domain namespace: "@gpioctl-<uid>".
//
// The address is keyed by the real uid so each user talks to their own
// broker; nothing is created on the filesystem.
func SocketAddr() string {
	return fmt.Sprintf("@%s-%d", internal.Name, os.Getuid())
}

// Path to the directory for broker state files.
//
//	Linux: $XDG_STATE_HOME/gpioctl or ~/.local/state/gpioctl
func State() string {
	return filepath.Join(xdg.StateHome, internal.Name)
}

// Path to the detached broker's log file.
//
// The broker runs with stdio on the null device, so this file is the only
// place its logs go.
func LogFile() string {
	return filepath.Join(State(), internal.Name+".log")
}
