package gpio

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// Describes one GPIO chip visible on the system.
type ChipInfo struct {
	Name     string // Device name, e.g. "gpiochip0".
	Path     string // Device path, e.g. "/dev/gpiochip0".
	Label    string // Hardware label reported by the driver.
	NumLines int    // Number of lines the chip exposes.
}

// Describes one line on a chip.
type LineInfo struct {
	Offset uint32 // Zero-based index of the line on its chip.
	Name   string // Line name reported by the driver. May be empty.
}

// Lists chips and their lines. Used by the line resolver.
type Enumerator interface {
	Chips() ([]ChipInfo, error)
	Lines(chipPath string) ([]LineInfo, error)
}

// Describes a line request to be held open.
type RequestSpec struct {
	ChipPath  string   // Path to the chip device.
	Offsets   []uint32 // Line offsets on the chip.
	Values    []int    // Initial output values, aligned with Offsets. May be nil.
	ActiveLow bool     // Treat the lines as active-low.
	Output    bool     // Request the lines as outputs driven to Values.
	Consumer  string   // Consumer tag recorded against the lines.
}

// A granted line request. The lines stay held until Close is called or the
// owning process exits.
type Request = io.Closer

// Performs line requests against the hardware.
type Requester interface {
	RequestLines(spec RequestSpec) (Request, error)
}

// The production line service, backed by the GPIO character device.
type Device struct{}

var (
	_ Enumerator = Device{}
	_ Requester  = Device{}
)

// Lists the GPIO chips present on the system.
func (Device) Chips() ([]ChipInfo, error) {
	var infos []ChipInfo
	for _, name := range gpiocdev.Chips() {
		c, err := gpiocdev.NewChip(name)
		if err != nil {
			return nil, fmt.Errorf("failed to open chip %s: %w", name, err)
		}
		infos = append(infos, ChipInfo{
			Name:     c.Name,
			Path:     chipPath(c.Name),
			Label:    c.Label,
			NumLines: c.Lines(),
		})
		c.Close()
	}
	return infos, nil
}

// Lists the lines of the chip at the given path.
func (Device) Lines(path string) ([]LineInfo, error) {
	c, err := gpiocdev.NewChip(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrChipNotFound, path, err)
	}
	defer c.Close()

	lines := make([]LineInfo, 0, c.Lines())
	for off := 0; off < c.Lines(); off++ {
		info, err := c.LineInfo(off)
		if err != nil {
			return nil, fmt.Errorf("failed to read info for line %d of %s: %w", off, path, err)
		}
		lines = append(lines, LineInfo{Offset: uint32(off), Name: info.Name})
	}
	return lines, nil
}

// Requests the described lines and holds them open.
//
// The chip is only needed while the request ioctl is performed; the granted
// lines carry their own descriptor and survive the chip being closed.
func (Device) RequestLines(spec RequestSpec) (Request, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.WithConsumer(spec.Consumer)}
	if spec.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	if spec.Output {
		values := make([]int, len(spec.Offsets))
		for i := range spec.Offsets {
			if spec.Values != nil && spec.Values[i] != 0 {
				values[i] = 1
			}
		}
		opts = append(opts, gpiocdev.AsOutput(values...))
	} else {
		opts = append(opts, gpiocdev.AsInput)
	}

	offsets := make([]int, len(spec.Offsets))
	for i, off := range spec.Offsets {
		offsets[i] = int(off)
	}

	c, err := gpiocdev.NewChip(spec.ChipPath)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	return c.RequestLines(offsets, opts...)
}

// Returns the device path for a chip name, leaving full paths untouched.
func chipPath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return filepath.Join("/dev", name)
}
