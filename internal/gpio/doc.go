// Package gpio wraps the GPIO character device behind the two narrow
// interfaces the rest of gpioctl needs: enumerating chips and their lines,
// and requesting a set of lines so they stay held open.
//
// The production implementation, Device, is backed by go-gpiocdev. The
// interfaces exist so the broker and the line resolver can be tested
// against fakes without real hardware.
//
// The package also hosts the line resolver, which maps the identifiers a
// user types on the command line (names, offsets, optionally scoped to a
// chip) onto concrete (chip path, offset) pairs before a request message
// is ever built.
package gpio
