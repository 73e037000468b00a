package portscan

import (
	"encoding/binary"
	"errors"
	"net"

	"golang.org/x/net/ipv4"
)

// TCP header flag bits
const (
	flagSYN = 0x02
	flagRST = 0x04
	flagACK = 0x10

	tcpHeaderLen = 20
	tcpWindow    = 64240
)

// checksum computes the 16-bit one's complement checksum
func checksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	i := 0
	for n > 1 {
		sum += uint32(binary.BigEndian.Uint16(data[i:]))
		i += 2
		n -= 2
	}
	if n > 0 {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 > 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(^sum)
}

// tcpChecksum computes the TCP checksum over the IPv4 pseudo-header and segment
func tcpChecksum(src, dst net.IP, segment []byte) uint16 {
	pseudo := make([]byte, 12+len(segment))
	copy(pseudo[0:4], src.To4())
	copy(pseudo[4:8], dst.To4())
	pseudo[9] = 6 // TCP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
	copy(pseudo[12:], segment)
	return checksum(pseudo)
}

// buildTCPPacket builds an IPv4 packet carrying an option-less TCP segment
func buildTCPPacket(src, dst net.IP, srcPort, dstPort uint16, seq, ack uint32, flags byte) ([]byte, error) {
	src4, dst4 := src.To4(), dst.To4()
	if src4 == nil || dst4 == nil {
		return nil, errors.New("IPv4 source and destination required")
	}

	tcp := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = (tcpHeaderLen / 4) << 4
	tcp[13] = flags
	binary.BigEndian.PutUint16(tcp[14:16], tcpWindow)
	binary.BigEndian.PutUint16(tcp[16:18], tcpChecksum(src4, dst4, tcp))

	header := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(tcp),
		ID:       int(seq & 0xffff),
		Flags:    ipv4.DontFragment,
		TTL:      64,
		Protocol: 6,
		Src:      src4,
		Dst:      dst4,
	}
	h, err := header.Marshal()
	if err != nil {
		return nil, err
	}
	header.Checksum = int(checksum(h))
	if h, err = header.Marshal(); err != nil {
		return nil, err
	}

	return append(h, tcp...), nil
}

// buildSYN builds a connection-opening probe
func buildSYN(src, dst net.IP, srcPort, dstPort uint16, seq uint32) ([]byte, error) {
	return buildTCPPacket(src, dst, srcPort, dstPort, seq, 0, flagSYN)
}

// tcpReply is the part of a received segment the prober needs
type tcpReply struct {
	src     [4]byte
	srcPort uint16
	dstPort uint16
	flags   byte
}

// parseReply extracts addressing and flags from a raw IPv4/TCP packet
func parseReply(pkt []byte) (tcpReply, bool) {
	var r tcpReply

	h, err := ipv4.ParseHeader(pkt)
	if err != nil || h.Version != ipv4.Version || h.Protocol != 6 {
		return r, false
	}
	if len(pkt) < h.Len+14 {
		return r, false
	}
	src := h.Src.To4()
	if src == nil {
		return r, false
	}

	tcp := pkt[h.Len:]
	copy(r.src[:], src)
	r.srcPort = binary.BigEndian.Uint16(tcp[0:2])
	r.dstPort = binary.BigEndian.Uint16(tcp[2:4])
	r.flags = tcp[13]
	return r, true
}

// classify maps reply flags to a port state; ok is false for segments that
// say nothing about the port
func classify(flags byte) (State, bool) {
	switch {
	case flags&flagRST != 0:
		return StateClosed, true
	case flags&(flagSYN|flagACK) == flagSYN|flagACK:
		return StateOpen, true
	default:
		return StateClosed, false
	}
}
