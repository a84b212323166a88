// Package demos assembles the built-in demo catalog.
package demos

import (
	"github.com/osvaldoandrade/netdemo/internal/demos/tcpconnect"
	"github.com/osvaldoandrade/netdemo/internal/demos/tcphandshake"
	"github.com/osvaldoandrade/netdemo/internal/registry"
)

// Options overrides the demo implementations; nil fields use the real
// network-facing defaults.
type Options struct {
	Handshake *tcphandshake.Demo
	Connect   *tcpconnect.Demo
}

// NewRegistry returns a registry with every built-in demo registered.
func NewRegistry(opts Options) *registry.Registry {
	reg := registry.New()
	if err := tcphandshake.Register(reg, opts.Handshake); err != nil {
		panic(err)
	}
	if err := tcpconnect.Register(reg, opts.Connect); err != nil {
		panic(err)
	}
	return reg
}
