//go:build !linux

package tcphandshake

import (
	"errors"
	"runtime"
)

// DialRaw is only implemented on Linux; the sandbox image is Linux.
func DialRaw(p Params) (Transport, error) {
	return nil, errors.New("raw TCP transport is not supported on " + runtime.GOOS)
}
