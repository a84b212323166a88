//go:build linux

package tcphandshake

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// rawTransport speaks TCP through two raw sockets: IPPROTO_TCP for our
// segments and their replies, IPPROTO_ICMP for unreachable errors. The kernel
// writes the IP header; we write the TCP header.
type rawTransport struct {
	tcpFD   int
	icmpFD  int
	src     netip.Addr
	dst     netip.Addr
	srcPort uint16
	dstPort uint16
}

// DialRaw opens raw sockets for the flow described by p. It needs
// CAP_NET_RAW. The source port is resolved on the first Send.
func DialRaw(p Params) (Transport, error) {
	dst, err := netip.ParseAddr(p.TargetIP)
	if err != nil || !dst.Is4() {
		return nil, fmt.Errorf("invalid target %q", p.TargetIP)
	}
	src, err := routeSource(dst, p.TargetPort)
	if err != nil {
		return nil, err
	}
	tcpFD, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("raw tcp socket: %w", err)
	}
	icmpFD, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP)
	if err != nil {
		_ = unix.Close(tcpFD)
		return nil, fmt.Errorf("raw icmp socket: %w", err)
	}
	return &rawTransport{
		tcpFD:   tcpFD,
		icmpFD:  icmpFD,
		src:     src,
		dst:     dst,
		dstPort: p.TargetPort,
	}, nil
}

// routeSource asks the kernel which local address routes to dst. Connecting
// a UDP socket sends nothing.
func routeSource(dst netip.Addr, port uint16) (netip.Addr, error) {
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, port)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("no route to %s: %w", dst, err)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap()
	return local, nil
}

func (t *rawTransport) Send(ctx context.Context, seg Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.srcPort = seg.SrcPort
	pkt := encodeTCP(t.src, t.dst, seg)
	sa := &unix.SockaddrInet4{Addr: t.dst.As4()}
	return unix.Sendto(t.tcpFD, pkt, 0, sa)
}

func (t *rawTransport) Receive(ctx context.Context, deadline time.Time) (*Reply, error) {
	buf := make([]byte, 65535)
	fds := []unix.PollFd{
		{Fd: int32(t.tcpFD), Events: unix.POLLIN},
		{Fd: int32(t.icmpFD), Events: unix.POLLIN},
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < remaining {
			remaining = time.Until(dl)
		}
		if remaining <= 0 {
			return nil, ErrNoReply
		}
		// Wake at least every 100ms to observe ctx cancellation.
		wait := remaining
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		fds[0].Revents, fds[1].Revents = 0, 0
		n, err := unix.Poll(fds, int(wait/time.Millisecond)+1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if r, err := t.readTCP(buf); err != nil || r != nil {
				return r, err
			}
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			if r, err := t.readICMP(buf); err != nil || r != nil {
				return r, err
			}
		}
	}
}

func (t *rawTransport) readTCP(buf []byte) (*Reply, error) {
	n, _, err := unix.Recvfrom(t.tcpFD, buf, unix.MSG_DONTWAIT)
	if errors.Is(err, unix.EAGAIN) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recv tcp: %w", err)
	}
	ip, ok := parseIPv4(buf[:n])
	if !ok || ip.proto != protoTCP || ip.src != t.dst {
		return nil, nil
	}
	seg, ok := decodeTCP(ip.payload)
	if !ok || seg.SrcPort != t.dstPort || seg.DstPort != t.srcPort {
		return nil, nil
	}
	return &Reply{TCP: &seg, TTL: ip.ttl}, nil
}

func (t *rawTransport) readICMP(buf []byte) (*Reply, error) {
	n, _, err := unix.Recvfrom(t.icmpFD, buf, unix.MSG_DONTWAIT)
	if errors.Is(err, unix.EAGAIN) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recv icmp: %w", err)
	}
	ip, ok := parseIPv4(buf[:n])
	if !ok || ip.proto != protoICMP {
		return nil, nil
	}
	m, ok := parseICMP(ip.payload)
	// Only errors that quote our SYN belong to the flow.
	if !ok || !m.quotedIsTCP || m.quotedDst != t.dst || m.quotedSrcPort != t.srcPort || m.quotedDstPort != t.dstPort {
		return nil, nil
	}
	return &Reply{TTL: ip.ttl, ICMPType: m.typ, ICMPCode: m.code}, nil
}

func (t *rawTransport) Close() error {
	return errors.Join(unix.Close(t.tcpFD), unix.Close(t.icmpFD))
}
