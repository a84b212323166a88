package tcphandshake

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/params"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

const (
	DemoID      = "tcp-handshake"
	DemoVersion = "1.0.0"

	MinSourcePort  = 1024
	MaxSourcePort  = 65535
	MinTimeout     = 1
	MaxTimeout     = 30
	DefaultTimeout = 5
)

// Params is the validated parameter set.
type Params struct {
	TargetIP   string
	TargetPort uint16
	Timeout    time.Duration
	// SourcePort is zero when the caller did not choose one.
	SourcePort uint16
}

func Validate(raw map[string]any) (any, error) {
	d := params.NewDecoder(raw)
	ip := d.PublicIPv4("target_ip")
	port := d.RequiredInt("target_port", 1, 65535)
	timeout, _ := d.OptionalInt("timeout", MinTimeout, MaxTimeout, DefaultTimeout)
	src, _ := d.OptionalInt("source_port", MinSourcePort, MaxSourcePort, 0)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return Params{
		TargetIP:   ip,
		TargetPort: uint16(port),
		Timeout:    time.Duration(timeout) * time.Second,
		SourcePort: uint16(src),
	}, nil
}

func Recipe() domain.DemoRecipe {
	return domain.DemoRecipe{
		ID:              DemoID,
		Name:            "TCP 3-Way Handshake",
		Description:     "Performs SYN, SYN-ACK, ACK by hand against a public host and reports sequence numbers, flags and timing for every step.",
		Category:        "layer4",
		MaxRuntime:      MaxTimeout,
		RequiresNetwork: true,
		RequiresRoot:    true,
		ParametersSchema: map[string]any{
			"type":     "object",
			"required": []string{"target_ip", "target_port"},
			"properties": map[string]any{
				"target_ip": map[string]any{
					"type":        "string",
					"format":      "ipv4",
					"description": "Public IPv4 address; private, loopback, link-local, multicast and reserved ranges are rejected",
				},
				"target_port": map[string]any{"type": "integer", "minimum": 1, "maximum": 65535},
				"timeout":     map[string]any{"type": "integer", "minimum": MinTimeout, "maximum": MaxTimeout, "default": DefaultTimeout},
				"source_port": map[string]any{"type": "integer", "minimum": MinSourcePort, "maximum": MaxSourcePort},
			},
		},
	}
}

// Dialer opens a transport for one flow.
type Dialer func(p Params) (Transport, error)

// Demo is the registry entry point. Zero fields fall back to the raw socket
// transport and the wall clock.
type Demo struct {
	Dial Dialer
	Now  func() time.Time
	Rand func() *rand.Rand
}

func (d *Demo) Execute(ctx context.Context, typed any) domain.ExecutionResult {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	meta := func() map[string]any {
		return map[string]any{
			domain.MetaExecutionTimeMS: sinceMS(start, now()),
			domain.MetaDemoID:          DemoID,
			domain.MetaDemoVersion:     DemoVersion,
		}
	}

	p, ok := typed.(Params)
	if !ok {
		return domain.Failure(fmt.Sprintf("unexpected parameter type %T", typed), meta())
	}
	dial := d.Dial
	if dial == nil {
		dial = DialRaw
	}
	var rng *rand.Rand
	if d.Rand != nil {
		rng = d.Rand()
	}

	t, err := dial(p)
	if err != nil {
		res := Result{TargetIP: p.TargetIP, TargetPort: p.TargetPort, Steps: []Step{}}
		res.fail(FailureTransportError, fmt.Sprintf("Failed to open raw transport: %v", err), "raw sockets require CAP_NET_RAW")
		return wrap(res, meta())
	}
	defer t.Close()

	return wrap(Run(ctx, t, p, now, rng), meta())
}

func wrap(res Result, meta map[string]any) domain.ExecutionResult {
	out := domain.ExecutionResult{Success: res.Success, Error: res.Error, Metadata: meta}
	data, err := domain.ToPayload(res)
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		return out
	}
	out.Data = data
	return out
}

// Register adds the handshake demo to reg.
func Register(reg *registry.Registry, d *Demo) error {
	if d == nil {
		d = &Demo{}
	}
	return reg.Register(Recipe(), d.Execute, Validate)
}
