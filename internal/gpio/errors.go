package gpio

import "errors"

var (
	ErrChipNotFound = errors.New("no such chip")
	ErrLineNotFound = errors.New("cannot find line")
	ErrNotUnique    = errors.New("line name is not unique")
	ErrMultiChip    = errors.New("can only request lines from one chip at a time")
	ErrNoLines      = errors.New("at least one line must be specified")
	ErrTooManyLines = errors.New("too many lines in one request")
)
