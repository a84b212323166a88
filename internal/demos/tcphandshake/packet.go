package tcphandshake

import (
	"encoding/binary"
	"net/netip"
	"strings"
)

// Flags is the TCP control-bit field.
type Flags uint16

const (
	FlagFIN Flags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
	FlagNS
)

const flagLetters = "FSRPAUECN"

// String renders set bits as letters in bit order, e.g. SYN|ACK is "SA".
func (f Flags) String() string {
	var b strings.Builder
	for i := 0; i < len(flagLetters); i++ {
		if f&(1<<i) != 0 {
			b.WriteByte(flagLetters[i])
		}
	}
	return b.String()
}

func (f Flags) Has(bits Flags) bool { return f&bits == bits }

// Segment is the subset of a TCP header the handshake reads and writes.
type Segment struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flags
	Window  uint16
}

const (
	tcpHeaderLen  = 20
	defaultWindow = 64240
	protoTCP      = 6
	protoICMP     = 1
)

// encodeTCP builds a 20-byte TCP header (no options) with a valid checksum
// over the IPv4 pseudo-header.
func encodeTCP(src, dst netip.Addr, seg Segment) []byte {
	b := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(b[0:2], seg.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], seg.DstPort)
	binary.BigEndian.PutUint32(b[4:8], seg.Seq)
	binary.BigEndian.PutUint32(b[8:12], seg.Ack)
	// data offset (5 words) + NS bit, then the remaining flags
	b[12] = 5<<4 | byte(seg.Flags>>8)&0x01
	b[13] = byte(seg.Flags)
	win := seg.Window
	if win == 0 {
		win = defaultWindow
	}
	binary.BigEndian.PutUint16(b[14:16], win)
	binary.BigEndian.PutUint16(b[16:18], tcpChecksum(src, dst, b))
	return b
}

func tcpChecksum(src, dst netip.Addr, tcp []byte) uint16 {
	s4, d4 := src.As4(), dst.As4()
	var sum uint32
	sum += uint32(s4[0])<<8 | uint32(s4[1])
	sum += uint32(s4[2])<<8 | uint32(s4[3])
	sum += uint32(d4[0])<<8 | uint32(d4[1])
	sum += uint32(d4[2])<<8 | uint32(d4[3])
	sum += protoTCP
	sum += uint32(len(tcp))
	for i := 0; i+1 < len(tcp); i += 2 {
		sum += uint32(tcp[i])<<8 | uint32(tcp[i+1])
	}
	if len(tcp)%2 == 1 {
		sum += uint32(tcp[len(tcp)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

func decodeTCP(b []byte) (Segment, bool) {
	if len(b) < tcpHeaderLen {
		return Segment{}, false
	}
	return Segment{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Seq:     binary.BigEndian.Uint32(b[4:8]),
		Ack:     binary.BigEndian.Uint32(b[8:12]),
		Flags:   Flags(b[13]) | Flags(b[12]&0x01)<<8,
		Window:  binary.BigEndian.Uint16(b[14:16]),
	}, true
}

// ipv4Packet is a parsed inbound datagram as delivered by a raw socket.
type ipv4Packet struct {
	src     netip.Addr
	dst     netip.Addr
	ttl     uint8
	proto   uint8
	payload []byte
}

func parseIPv4(b []byte) (ipv4Packet, bool) {
	if len(b) < 20 || b[0]>>4 != 4 {
		return ipv4Packet{}, false
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < 20 || len(b) < ihl {
		return ipv4Packet{}, false
	}
	return ipv4Packet{
		src:     netip.AddrFrom4([4]byte(b[12:16])),
		dst:     netip.AddrFrom4([4]byte(b[16:20])),
		ttl:     b[8],
		proto:   b[9],
		payload: b[ihl:],
	}, true
}

// icmpMessage carries the type/code of an ICMP error plus the ports of the
// TCP segment it quotes, so it can be matched to our flow.
type icmpMessage struct {
	typ, code     uint8
	quotedDst     netip.Addr
	quotedSrcPort uint16
	quotedDstPort uint16
	quotedIsTCP   bool
}

func parseICMP(b []byte) (icmpMessage, bool) {
	if len(b) < 8 {
		return icmpMessage{}, false
	}
	m := icmpMessage{typ: b[0], code: b[1]}
	inner, ok := parseIPv4(b[8:])
	if !ok {
		return m, true
	}
	m.quotedDst = inner.dst
	if inner.proto == protoTCP && len(inner.payload) >= 4 {
		m.quotedIsTCP = true
		m.quotedSrcPort = binary.BigEndian.Uint16(inner.payload[0:2])
		m.quotedDstPort = binary.BigEndian.Uint16(inner.payload[2:4])
	}
	return m, true
}
