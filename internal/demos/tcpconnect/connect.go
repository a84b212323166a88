// Package tcpconnect times a kernel-driven TCP connection (connect, then an
// orderly close). Unlike tcphandshake it needs no raw socket privilege.
package tcpconnect

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/params"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

const (
	DemoID      = "tcp-connect"
	DemoVersion = "1.0.0"

	MinTimeout     = 1
	MaxTimeout     = 10
	DefaultTimeout = 5
)

type Params struct {
	TargetIP   string
	TargetPort uint16
	Timeout    time.Duration
}

func Validate(raw map[string]any) (any, error) {
	d := params.NewDecoder(raw)
	ip := d.PublicIPv4("target_ip")
	port := d.RequiredInt("target_port", 1, 65535)
	timeout, _ := d.OptionalInt("timeout", MinTimeout, MaxTimeout, DefaultTimeout)
	if err := d.Err(); err != nil {
		return nil, err
	}
	return Params{TargetIP: ip, TargetPort: uint16(port), Timeout: time.Duration(timeout) * time.Second}, nil
}

func Recipe() domain.DemoRecipe {
	return domain.DemoRecipe{
		ID:              DemoID,
		Name:            "TCP Connection Lifecycle",
		Description:     "Opens a TCP connection with the kernel stack, measures the connect time, then closes it gracefully.",
		Category:        "layer4",
		MaxRuntime:      15,
		RequiresNetwork: true,
		RequiresRoot:    false,
		ParametersSchema: map[string]any{
			"type":     "object",
			"required": []string{"target_ip", "target_port"},
			"properties": map[string]any{
				"target_ip":   map[string]any{"type": "string", "format": "ipv4"},
				"target_port": map[string]any{"type": "integer", "minimum": 1, "maximum": 65535},
				"timeout":     map[string]any{"type": "integer", "minimum": MinTimeout, "maximum": MaxTimeout, "default": DefaultTimeout},
			},
		},
	}
}

// Result becomes ExecutionResult.Data.
type Result struct {
	Success       bool     `json:"success"`
	TargetIP      string   `json:"target_ip"`
	TargetPort    uint16   `json:"target_port"`
	LocalAddr     string   `json:"local_addr,omitempty"`
	States        []string `json:"states"`
	ConnectTimeMS float64  `json:"connect_time_ms"`
	CloseTimeMS   *float64 `json:"close_time_ms,omitempty"`
	Failure       string   `json:"failure,omitempty"`
	Error         string   `json:"error,omitempty"`
}

type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Demo struct {
	Dial DialFunc
	Now  func() time.Time
}

func (d *Demo) Execute(ctx context.Context, typed any) domain.ExecutionResult {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	meta := func() map[string]any {
		return map[string]any{
			domain.MetaExecutionTimeMS: ms(now().Sub(start)),
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
		var dialer net.Dialer
		dial = dialer.DialContext
	}

	res := Result{TargetIP: p.TargetIP, TargetPort: p.TargetPort, States: []string{"CLOSED", "SYN-SENT"}}
	addr := net.JoinHostPort(p.TargetIP, strconv.Itoa(int(p.TargetPort)))

	dctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	connStart := now()
	conn, err := dial(dctx, "tcp4", addr)
	res.ConnectTimeMS = ms(now().Sub(connStart))
	if err != nil {
		res.Failure, res.Error = classify(err)
		res.States = append(res.States, "CLOSED")
		return wrap(res, meta())
	}
	res.States = append(res.States, "ESTABLISHED")
	res.LocalAddr = conn.LocalAddr().String()

	closeStart := now()
	if err := conn.Close(); err != nil {
		res.Failure, res.Error = "network-error", fmt.Sprintf("close: %v", err)
		return wrap(res, meta())
	}
	closeMS := ms(now().Sub(closeStart))
	res.CloseTimeMS = &closeMS
	res.States = append(res.States, "FIN-WAIT-1", "CLOSED")
	res.Success = true
	return wrap(res, meta())
}

func classify(err error) (string, string) {
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "interrupted", "Connection attempt interrupted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return "timeout", "Connection timed out"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "refused", "Connection refused"
	}
	return "network-error", err.Error()
}

func ms(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d.Nanoseconds()) / 1e6
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

func Register(reg *registry.Registry, d *Demo) error {
	if d == nil {
		d = &Demo{}
	}
	return reg.Register(Recipe(), d.Execute, Validate)
}
