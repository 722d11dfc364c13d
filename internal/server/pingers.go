package server

import (
	"context"
	"fmt"
)

// namedPinger adapts a plain ping function to the Pinger interface.
type namedPinger struct {
	// name identifies the dependency in readiness responses.
	name string
	// ping probes the dependency.
	ping func(ctx context.Context) error
}

// NewPinger wraps fn as a Pinger labelled name. It covers the stores, which
// expose Ping but not always a Name.
func NewPinger(name string, fn func(ctx context.Context) error) Pinger {
	return &namedPinger{name: name, ping: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *namedPinger) Name() string { return p.name }

// Ping runs the wrapped probe.
func (p *namedPinger) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return nil
}
