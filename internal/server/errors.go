package server

import "errors"

var ErrServer = errors.New("broker error")
