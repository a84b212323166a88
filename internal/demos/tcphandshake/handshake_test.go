package tcphandshake

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"testing"
	"time"
)

// fakePeer answers the SYN with a scripted reply.
type fakePeer struct {
	sent    []Segment
	reply   func(syn Segment) (*Reply, error)
	sendErr error
	closed  bool
}

func (f *fakePeer) Send(_ context.Context, seg Segment) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, seg)
	return nil
}

func (f *fakePeer) Receive(_ context.Context, _ time.Time) (*Reply, error) {
	if len(f.sent) == 0 {
		return nil, errors.New("receive before send")
	}
	return f.reply(f.sent[0])
}

func (f *fakePeer) Close() error { f.closed = true; return nil }

func synAck(serverISN uint32, ackDelta uint32) func(Segment) (*Reply, error) {
	return func(syn Segment) (*Reply, error) {
		return &Reply{TTL: 57, TCP: &Segment{
			SrcPort: syn.DstPort, DstPort: syn.SrcPort,
			Seq: serverISN, Ack: syn.Seq + ackDelta,
			Flags: FlagSYN | FlagACK, Window: 65535,
		}}, nil
	}
}

func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(10 * time.Millisecond)
		return t
	}
}

func testParams() Params {
	return Params{TargetIP: "8.8.8.8", TargetPort: 80, Timeout: 5 * time.Second}
}

func TestRunSuccess(t *testing.T) {
	peer := &fakePeer{reply: synAck(1000, 1)}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(1)))

	if !res.Success || !res.ConnectionEstablished || res.Failure != "" {
		t.Fatalf("expected success, got %+v", res)
	}
	if len(res.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(res.Steps))
	}
	names := []string{"SYN", "SYN-ACK", "ACK"}
	for i, s := range res.Steps {
		if s.Step != i+1 || s.Name != names[i] {
			t.Errorf("step %d = %d %s", i, s.Step, s.Name)
		}
	}
	if res.Steps[0].Packet.Flags != "S" || res.Steps[1].Packet.Flags != "SA" || res.Steps[2].Packet.Flags != "A" {
		t.Errorf("unexpected flags: %s %s %s", res.Steps[0].Packet.Flags, res.Steps[1].Packet.Flags, res.Steps[2].Packet.Flags)
	}
	if res.Steps[1].RTTMS == nil || *res.Steps[1].RTTMS < 0 {
		t.Errorf("rtt missing or negative")
	}
	if res.TotalTimeMS == nil || *res.TotalTimeMS < 0 {
		t.Errorf("total time missing or negative")
	}
	if *res.NextClientSeq != res.ClientISN+1 || *res.NextServerSeq != 1001 {
		t.Errorf("next seqs: client=%d server=%d", *res.NextClientSeq, *res.NextServerSeq)
	}
	if len(peer.sent) != 2 {
		t.Fatalf("expected SYN and ACK to be sent, got %d", len(peer.sent))
	}
	ack := peer.sent[1]
	if ack.Flags != FlagACK || ack.Seq != res.ClientISN+1 || ack.Ack != 1001 {
		t.Errorf("bad ACK segment: %+v", ack)
	}
	if res.SourcePort < MinSourcePort {
		t.Errorf("random source port %d below %d", res.SourcePort, MinSourcePort)
	}
}

func TestRunUsesCallerSourcePort(t *testing.T) {
	p := testParams()
	p.SourcePort = 40000
	peer := &fakePeer{reply: synAck(7, 1)}
	res := Run(context.Background(), peer, p, steppingClock(), rand.New(rand.NewSource(2)))
	if res.SourcePort != 40000 || peer.sent[0].SrcPort != 40000 {
		t.Fatalf("source port not honored: %d", res.SourcePort)
	}
}

func TestRunRefused(t *testing.T) {
	peer := &fakePeer{reply: func(syn Segment) (*Reply, error) {
		return &Reply{TTL: 60, TCP: &Segment{SrcPort: syn.DstPort, DstPort: syn.SrcPort, Ack: syn.Seq + 1, Flags: FlagRST | FlagACK}}, nil
	}}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(3)))
	if res.Success || res.Failure != FailureRefused {
		t.Fatalf("expected refused, got %+v", res)
	}
	if len(res.Steps) != 2 || res.Steps[1].Name != "RST" {
		t.Fatalf("expected SYN + RST steps, got %+v", res.Steps)
	}
	if len(peer.sent) != 1 {
		t.Fatalf("no ACK may follow a RST")
	}
}

func TestRunTimeout(t *testing.T) {
	peer := &fakePeer{reply: func(Segment) (*Reply, error) { return nil, ErrNoReply }}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(4)))
	if res.Success || res.Failure != FailureTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.Reason == "" || len(res.Steps) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunCancelledIsNotTimeout(t *testing.T) {
	peer := &fakePeer{reply: func(Segment) (*Reply, error) { return nil, context.Canceled }}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(4)))
	if res.Success || res.Failure != FailureInterrupted {
		t.Fatalf("expected interrupted, got %+v", res)
	}
}

func TestRunInvalidAck(t *testing.T) {
	peer := &fakePeer{reply: synAck(555, 2)}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(5)))
	if res.Success || res.Failure != FailureInvalidAck {
		t.Fatalf("expected invalid-ack, got %+v", res)
	}
	if res.SynAckValid == nil || *res.SynAckValid {
		t.Fatalf("syn_ack_valid should be false")
	}
	if len(peer.sent) != 1 {
		t.Fatalf("no ACK may follow an invalid SYN-ACK")
	}
}

func TestRunUnexpectedFlags(t *testing.T) {
	peer := &fakePeer{reply: func(syn Segment) (*Reply, error) {
		return &Reply{TCP: &Segment{SrcPort: syn.DstPort, DstPort: syn.SrcPort, Flags: FlagACK}}, nil
	}}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(6)))
	if res.Failure != FailureUnexpectedResponse {
		t.Fatalf("expected unexpected-response, got %+v", res)
	}
}

func TestRunICMPUnreachable(t *testing.T) {
	peer := &fakePeer{reply: func(Segment) (*Reply, error) { return &Reply{ICMPType: 3, ICMPCode: 3}, nil }}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(7)))
	if res.Failure != FailureUnexpectedResponse || res.Reason == "" {
		t.Fatalf("expected unexpected-response with ICMP reason, got %+v", res)
	}
}

func TestRunTransportErrors(t *testing.T) {
	peer := &fakePeer{sendErr: errors.New("operation not permitted")}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(8)))
	if res.Failure != FailureTransportError || len(res.Steps) != 0 {
		t.Fatalf("expected transport-error without steps, got %+v", res)
	}

	peer = &fakePeer{reply: func(Segment) (*Reply, error) { return nil, errors.New("recv: bad fd") }}
	res = Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(9)))
	if res.Failure != FailureTransportError {
		t.Fatalf("expected transport-error, got %+v", res)
	}
}

func TestRunSequenceWraps(t *testing.T) {
	// Server ISN at the top of the sequence space: next_server_seq wraps to 0.
	peer := &fakePeer{reply: func(syn Segment) (*Reply, error) {
		return &Reply{TCP: &Segment{SrcPort: syn.DstPort, DstPort: syn.SrcPort, Seq: ^uint32(0), Ack: syn.Seq + 1, Flags: FlagSYN | FlagACK}}, nil
	}}
	res := Run(context.Background(), peer, testParams(), steppingClock(), rand.New(rand.NewSource(10)))
	if !res.Success || *res.NextServerSeq != 0 {
		t.Fatalf("server seq must wrap to 0, got %+v", res)
	}
}

func TestFlagsString(t *testing.T) {
	tests := []struct {
		f    Flags
		want string
	}{
		{FlagSYN, "S"},
		{FlagSYN | FlagACK, "SA"},
		{FlagRST | FlagACK, "RA"},
		{FlagFIN | FlagPSH | FlagACK, "FPA"},
		{0, ""},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestEncodeDecodeTCP(t *testing.T) {
	src := netip.MustParseAddr("192.0.2.10")
	dst := netip.MustParseAddr("8.8.8.8")
	seg := Segment{SrcPort: 40000, DstPort: 80, Seq: 0xdeadbeef, Ack: 1, Flags: FlagSYN | FlagNS}
	b := encodeTCP(src, dst, seg)
	if len(b) != tcpHeaderLen {
		t.Fatalf("header length %d", len(b))
	}
	got, ok := decodeTCP(b)
	if !ok {
		t.Fatalf("decode failed")
	}
	seg.Window = defaultWindow
	if got != seg {
		t.Fatalf("decoded %+v, want %+v", got, seg)
	}
	// A correct checksum makes the one's-complement sum over pseudo-header
	// and segment come out to zero.
	if tcpChecksum(src, dst, b) != 0 {
		t.Fatalf("checksum does not verify")
	}
}

func TestParseICMPQuotedFlow(t *testing.T) {
	inner := make([]byte, 28)
	inner[0] = 0x45
	inner[9] = protoTCP
	copy(inner[16:20], []byte{8, 8, 8, 8})
	inner[20], inner[21] = 0x9c, 0x40 // 40000
	inner[22], inner[23] = 0x00, 0x50 // 80
	msg := append([]byte{3, 3, 0, 0, 0, 0, 0, 0}, inner...)

	m, ok := parseICMP(msg)
	if !ok || m.typ != 3 || m.code != 3 || !m.quotedIsTCP {
		t.Fatalf("unexpected icmp parse: %+v", m)
	}
	if m.quotedSrcPort != 40000 || m.quotedDstPort != 80 || m.quotedDst != netip.MustParseAddr("8.8.8.8") {
		t.Fatalf("quoted flow mismatch: %+v", m)
	}
}
