package probe

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const payloadMagic = "livetrace"

// buildEchoRequest serializes an ICMPv4 echo request carrying the given id and sequence.
func buildEchoRequest(id, seq uint16) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	icmpLayer := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	if err := gopacket.SerializeLayers(buf, opts, icmpLayer, gopacket.Payload(payloadMagic)); err != nil {
		return nil, fmt.Errorf("serialize echo request: %w", err)
	}
	return buf.Bytes(), nil
}

// matchReply decodes an ICMPv4 message (without IP header) and reports whether
// it answers the echo request identified by id and seq, and with which status.
func matchReply(data []byte, id, seq uint16) (Status, bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeICMPv4, gopacket.Default)
	icmpLayer, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if !ok {
		return OtherFailure, false
	}

	switch icmpLayer.TypeCode.Type() {
	case layers.ICMPv4TypeEchoReply:
		if icmpLayer.Id == id && icmpLayer.Seq == seq {
			return Success, true
		}
	case layers.ICMPv4TypeTimeExceeded:
		if quotesEcho(icmpLayer.Payload, id, seq) {
			return TTLExpired, true
		}
	case layers.ICMPv4TypeDestinationUnreachable, layers.ICMPv4TypeParameterProblem:
		if quotesEcho(icmpLayer.Payload, id, seq) {
			return OtherFailure, true
		}
	}
	return OtherFailure, false
}

// quotesEcho reports whether an ICMP error payload (the offending IPv4 header
// plus at least 8 bytes of its payload) quotes our echo request.
func quotesEcho(quoted []byte, id, seq uint16) bool {
	packet := gopacket.NewPacket(quoted, layers.LayerTypeIPv4, gopacket.Default)
	if inner, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		return inner.TypeCode.Type() == layers.ICMPv4TypeEchoRequest && inner.Id == id && inner.Seq == seq
	}

	// Routers may quote only the first 8 bytes, which gopacket can refuse to
	// decode. Fall back to reading the fields directly.
	slog.Debug("Falling back to manual decode of quoted packet", "length", len(quoted))
	if len(quoted) < 20 {
		return false
	}
	ihl := int(quoted[0]&0x0f) * 4
	if ihl < 20 || len(quoted) < ihl+8 || quoted[9] != uint8(layers.IPProtocolICMPv4) {
		return false
	}
	echo := quoted[ihl:]
	return echo[0] == uint8(layers.ICMPv4TypeEchoRequest) &&
		binary.BigEndian.Uint16(echo[4:6]) == id &&
		binary.BigEndian.Uint16(echo[6:8]) == seq
}
