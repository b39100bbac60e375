package gpio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hwctl/gpioctl/internal/protocol"
)

// Controls how line identifiers are interpreted.
type ResolveConfig struct {
	Chip   string // Restrict lookup to this chip (name, path, or number). Empty searches all chips.
	ByName bool   // Treat identifiers as names even when they look numeric.
	Strict bool   // Require names to be unique within the searched chips.
}

// The outcome of resolving a set of line identifiers: a single chip and the
// offsets of every requested line on it, in argument order.
type ResolvedLines struct {
	ChipPath string
	Offsets  []uint32
}

// Maps command-line line identifiers onto concrete offsets of one chip.
//
// An identifier is a line name, or an offset when a chip is given and the
// identifier is numeric (unless ByName forces name interpretation). Names
// are searched across all chips when no chip is given; with Strict a name
// matching more than one line is an error, otherwise the first match wins.
//
// All resolved lines must live on the same chip and number between 1 and
// the per-request line limit; violations are reported before any message
// is built or sent.
func Resolve(enum Enumerator, cfg ResolveConfig, ids []string) (*ResolvedLines, error) {
	if len(ids) == 0 {
		return nil, ErrNoLines
	}
	if len(ids) > protocol.MaxReqLines {
		return nil, fmt.Errorf("%w: can only handle up to %d lines", ErrTooManyLines, protocol.MaxReqLines)
	}

	chips, err := enum.Chips()
	if err != nil {
		return nil, err
	}

	scope := chips
	if cfg.Chip != "" {
		chip := findChip(chips, cfg.Chip)
		if chip == nil {
			return nil, fmt.Errorf("%w: %s", ErrChipNotFound, cfg.Chip)
		}
		scope = []ChipInfo{*chip}
	}

	r := resolver{enum: enum, scope: scope, lines: make(map[string][]LineInfo)}

	resolved := &ResolvedLines{}
	for _, id := range ids {
		chipPath, offset, err := r.resolve(cfg, id)
		if err != nil {
			return nil, err
		}
		if resolved.ChipPath == "" {
			resolved.ChipPath = chipPath
		} else if resolved.ChipPath != chipPath {
			return nil, fmt.Errorf("%w: %s spans %s and %s", ErrMultiChip, id, resolved.ChipPath, chipPath)
		}
		resolved.Offsets = append(resolved.Offsets, offset)
	}

	return resolved, nil
}

// Resolves a single identifier within the configured scope.
type resolver struct {
	enum  Enumerator
	scope []ChipInfo
	lines map[string][]LineInfo // Per-chip line info, fetched lazily.
}

func (r *resolver) resolve(cfg ResolveConfig, id string) (string, uint32, error) {
	// A numeric identifier is an offset, but only when the chip is
	// unambiguous and names are not forced.
	if cfg.Chip != "" && !cfg.ByName {
		if offset, err := strconv.ParseUint(id, 10, 32); err == nil {
			chip := r.scope[0]
			if offset >= uint64(chip.NumLines) {
				return "", 0, fmt.Errorf("%w: offset %d is out of range for %s", ErrLineNotFound, offset, chip.Name)
			}
			return chip.Path, uint32(offset), nil
		}
	}

	return r.resolveName(cfg, id)
}

func (r *resolver) resolveName(cfg ResolveConfig, name string) (string, uint32, error) {
	var (
		found    bool
		chipPath string
		offset   uint32
		numFound int
	)

	for _, chip := range r.scope {
		lines, err := r.chipLines(chip.Path)
		if err != nil {
			return "", 0, err
		}
		for _, line := range lines {
			if line.Name != name {
				continue
			}
			numFound++
			if !found {
				found = true
				chipPath = chip.Path
				offset = line.Offset
			}
			if !cfg.Strict {
				break
			}
		}
		if found && !cfg.Strict {
			break
		}
	}

	if !found {
		return "", 0, fmt.Errorf("%w: %s", ErrLineNotFound, name)
	}
	if cfg.Strict && numFound > 1 {
		return "", 0, fmt.Errorf("%w: %s", ErrNotUnique, name)
	}
	return chipPath, offset, nil
}

func (r *resolver) chipLines(path string) ([]LineInfo, error) {
	if lines, ok := r.lines[path]; ok {
		return lines, nil
	}
	lines, err := r.enum.Lines(path)
	if err != nil {
		return nil, err
	}
	r.lines[path] = lines
	return lines, nil
}

// Matches a chip identifier against a chip: by device name, full path,
// label, or bare number ("0" matches "gpiochip0").
func findChip(chips []ChipInfo, id string) *ChipInfo {
	for i := range chips {
		chip := &chips[i]
		switch id {
		case chip.Name, chip.Path, chip.Label:
			return chip
		}
		if strings.TrimPrefix(chip.Name, "gpiochip") == id {
			return chip
		}
	}
	return nil
}
