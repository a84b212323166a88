// Package tcphandshake performs a manual TCP three-way handshake over a raw
// transport and reports every step.
package tcphandshake

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrNoReply is returned by Transport.Receive when the deadline passes
// without a matching packet.
var ErrNoReply = errors.New("no reply before deadline")

// Reply is one inbound packet belonging to the flow: either a TCP segment
// or an ICMP error quoting our SYN.
type Reply struct {
	TCP      *Segment
	TTL      uint8
	ICMPType uint8
	ICMPCode uint8
}

// Transport sends and receives single segments for one flow. Implementations
// filter out packets that do not belong to (target, source port).
type Transport interface {
	Send(ctx context.Context, seg Segment) error
	Receive(ctx context.Context, deadline time.Time) (*Reply, error)
	Close() error
}

// Failure classifies an unsuccessful handshake.
type Failure string

const (
	FailureTimeout            Failure = "timeout"
	FailureRefused            Failure = "refused"
	FailureInvalidAck         Failure = "invalid-ack"
	FailureUnexpectedResponse Failure = "unexpected-response"
	FailureTransportError     Failure = "transport-error"
	FailureInterrupted        Failure = "interrupted"
)

const (
	DirClientToServer = "client_to_server"
	DirServerToClient = "server_to_client"
)

type PacketInfo struct {
	Seq        uint32  `json:"seq"`
	Ack        uint32  `json:"ack"`
	Flags      string  `json:"flags"`
	SourcePort uint16  `json:"source_port"`
	DestPort   uint16  `json:"dest_port"`
	TTL        *uint8  `json:"ttl,omitempty"`
	WindowSize *uint16 `json:"window_size,omitempty"`
}

type Step struct {
	Step        int        `json:"step"`
	Name        string     `json:"name"`
	Direction   string     `json:"direction"`
	Packet      PacketInfo `json:"packet"`
	TimestampMS float64    `json:"timestamp_ms"`
	RTTMS       *float64   `json:"rtt_ms,omitempty"`
}

// Result is the handshake timeline; it becomes ExecutionResult.Data.
type Result struct {
	Success               bool     `json:"success"`
	TargetIP              string   `json:"target_ip"`
	TargetPort            uint16   `json:"target_port"`
	SourcePort            uint16   `json:"source_port"`
	ClientISN             uint32   `json:"client_isn"`
	ServerISN             *uint32  `json:"server_isn"`
	Steps                 []Step   `json:"steps"`
	SynAckValid           *bool    `json:"syn_ack_valid,omitempty"`
	ConnectionEstablished bool     `json:"connection_established"`
	NextClientSeq         *uint32  `json:"next_client_seq,omitempty"`
	NextServerSeq         *uint32  `json:"next_server_seq,omitempty"`
	TotalTimeMS           *float64 `json:"total_time_ms,omitempty"`
	Failure               Failure  `json:"failure,omitempty"`
	Error                 string   `json:"error,omitempty"`
	Reason                string   `json:"reason,omitempty"`
}

func (r *Result) fail(f Failure, msg, reason string) Result {
	r.Success = false
	r.Failure = f
	r.Error = msg
	r.Reason = reason
	return *r
}

func epochMS(t time.Time) float64 { return float64(t.UnixNano()) / 1e6 }

func sinceMS(from, to time.Time) float64 {
	d := float64(to.Sub(from).Nanoseconds()) / 1e6
	if d < 0 {
		return 0
	}
	return d
}

// Run drives SYN, SYN-ACK, ACK against t. It never panics on network
// conditions; every outcome is expressed in the returned Result.
func Run(ctx context.Context, t Transport, p Params, now func() time.Time, rng *rand.Rand) Result {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	srcPort := p.SourcePort
	if srcPort == 0 {
		srcPort = uint16(MinSourcePort + rng.Intn(MaxSourcePort-MinSourcePort+1))
	}
	clientISN := rng.Uint32()

	res := Result{
		TargetIP:   p.TargetIP,
		TargetPort: p.TargetPort,
		SourcePort: srcPort,
		ClientISN:  clientISN,
		Steps:      make([]Step, 0, 3),
	}

	// Step 1: SYN
	syn := Segment{SrcPort: srcPort, DstPort: p.TargetPort, Seq: clientISN, Flags: FlagSYN}
	synSent := now()
	if err := t.Send(ctx, syn); err != nil {
		return res.fail(FailureTransportError, fmt.Sprintf("Failed to send SYN: %v", err), "")
	}
	res.Steps = append(res.Steps, Step{
		Step:        1,
		Name:        "SYN",
		Direction:   DirClientToServer,
		Packet:      PacketInfo{Seq: clientISN, Ack: 0, Flags: FlagSYN.String(), SourcePort: srcPort, DestPort: p.TargetPort},
		TimestampMS: epochMS(synSent),
	})

	// Step 2: await a single reply
	reply, err := t.Receive(ctx, synSent.Add(p.Timeout))
	switch {
	case errors.Is(err, context.Canceled):
		return res.fail(FailureInterrupted, "Handshake interrupted before a reply arrived", "")
	case errors.Is(err, ErrNoReply), errors.Is(err, context.DeadlineExceeded):
		return res.fail(FailureTimeout, "No SYN-ACK received (timeout)", "Port may be closed, filtered, or host unreachable")
	case err != nil:
		return res.fail(FailureTransportError, fmt.Sprintf("Failed to receive reply: %v", err), "")
	case reply == nil || reply.TCP == nil:
		reason := ""
		if reply != nil {
			reason = describeICMP(reply.ICMPType, reply.ICMPCode)
		}
		return res.fail(FailureUnexpectedResponse, "Unexpected response (not TCP)", reason)
	}

	recvAt := now()
	in := reply.TCP
	ttl, win := reply.TTL, in.Window
	rtt := sinceMS(synSent, recvAt)
	name := "SYN-ACK"
	if !in.Flags.Has(FlagSYN | FlagACK) {
		name = "RESPONSE"
		if in.Flags.Has(FlagRST) {
			name = "RST"
		}
	}
	res.Steps = append(res.Steps, Step{
		Step:      2,
		Name:      name,
		Direction: DirServerToClient,
		Packet: PacketInfo{
			Seq: in.Seq, Ack: in.Ack, Flags: in.Flags.String(),
			SourcePort: in.SrcPort, DestPort: in.DstPort,
			TTL: &ttl, WindowSize: &win,
		},
		TimestampMS: epochMS(recvAt),
		RTTMS:       &rtt,
	})

	switch {
	case in.Flags.Has(FlagSYN | FlagACK):
		want := clientISN + 1
		valid := in.Ack == want
		res.SynAckValid = &valid
		if !valid {
			return res.fail(FailureInvalidAck, fmt.Sprintf("Invalid ACK number: expected %d, got %d", want, in.Ack), "")
		}
		serverISN := in.Seq
		res.ServerISN = &serverISN
	case in.Flags.Has(FlagRST):
		return res.fail(FailureRefused, "Connection refused (RST received)", "Port is closed or server rejected connection")
	default:
		return res.fail(FailureUnexpectedResponse, fmt.Sprintf("Unexpected flags: %s", in.Flags), "")
	}

	// Step 3: ACK
	nextClient, nextServer := clientISN+1, *res.ServerISN+1
	ack := Segment{SrcPort: srcPort, DstPort: p.TargetPort, Seq: nextClient, Ack: nextServer, Flags: FlagACK}
	if err := t.Send(ctx, ack); err != nil {
		return res.fail(FailureTransportError, fmt.Sprintf("Failed to send ACK: %v", err), "")
	}
	ackAt := now()
	res.Steps = append(res.Steps, Step{
		Step:        3,
		Name:        "ACK",
		Direction:   DirClientToServer,
		Packet:      PacketInfo{Seq: nextClient, Ack: nextServer, Flags: FlagACK.String(), SourcePort: srcPort, DestPort: p.TargetPort},
		TimestampMS: epochMS(ackAt),
	})

	total := sinceMS(synSent, ackAt)
	res.Success = true
	res.ConnectionEstablished = true
	res.NextClientSeq = &nextClient
	res.NextServerSeq = &nextServer
	res.TotalTimeMS = &total
	return res
}

func describeICMP(typ, code uint8) string {
	switch typ {
	case 3:
		switch code {
		case 0:
			return "ICMP destination unreachable: network unreachable"
		case 1:
			return "ICMP destination unreachable: host unreachable"
		case 3:
			return "ICMP destination unreachable: port unreachable"
		case 9, 10, 13:
			return "ICMP destination unreachable: administratively prohibited"
		}
		return fmt.Sprintf("ICMP destination unreachable (code %d)", code)
	case 11:
		return "ICMP time exceeded"
	}
	return fmt.Sprintf("ICMP type %d code %d", typ, code)
}
