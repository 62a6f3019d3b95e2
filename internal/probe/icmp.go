package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
)

const readBufferSize = 1500

// ICMPProber sends ICMPv4 echo requests over a raw socket. Each Send opens its
// own socket so concurrent probes with different TTLs do not interfere.
type ICMPProber struct {
	id     uint16
	seq    atomic.Uint32
	listen func() (*icmp.PacketConn, error)
}

// NewICMPProber checks that a raw ICMP socket can be opened and returns a prober.
func NewICMPProber() (*ICMPProber, error) {
	p := &ICMPProber{
		id:     uint16(os.Getpid() & 0xffff),
		listen: listenICMPv4,
	}
	conn, err := p.listen()
	if err != nil {
		return nil, fmt.Errorf("open raw ICMP socket (root or CAP_NET_RAW required): %w", err)
	}
	conn.Close()
	return p, nil
}

func listenICMPv4() (*icmp.PacketConn, error) {
	return icmp.ListenPacket("ip4:icmp", "0.0.0.0")
}

// Send implements Prober.
func (p *ICMPProber) Send(ctx context.Context, target netip.Addr, ttl int, timeout time.Duration) (Reply, error) {
	if ttl < 1 || ttl > 255 {
		return Reply{}, fmt.Errorf("%w: %d", ErrInvalidTTL, ttl)
	}
	if !target.Is4() && !target.Is4In6() {
		return Reply{}, fmt.Errorf("%w: %s", ErrUnsupportedAddress, target)
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	conn, err := p.listen()
	if err != nil {
		slog.Debug("Failed to open ICMP socket", "ttl", ttl, "err", err)
		return Reply{Status: OtherFailure}, nil
	}
	defer conn.Close()

	// Closing the socket unblocks ReadFrom when the context ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.IPv4PacketConn().SetTTL(ttl); err != nil {
		slog.Debug("Failed to set TTL", "ttl", ttl, "err", err)
		return Reply{Status: OtherFailure}, nil
	}

	seq := uint16(p.seq.Add(1))
	msg, err := buildEchoRequest(p.id, seq)
	if err != nil {
		return Reply{}, err
	}

	start := time.Now()
	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return Reply{Status: OtherFailure}, nil
	}
	dst := &net.IPAddr{IP: net.IP(target.Unmap().AsSlice())}
	if _, err := conn.WriteTo(msg, dst); err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		slog.Debug("Failed to send echo request", "ttl", ttl, "err", err)
		return Reply{Status: OtherFailure, RTT: time.Since(start)}, nil
	}

	buf := make([]byte, readBufferSize)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return Reply{Status: TimedOut, RTT: time.Since(start)}, nil
			}
			slog.Debug("Failed to read reply", "ttl", ttl, "err", err)
			return Reply{Status: OtherFailure, RTT: time.Since(start)}, nil
		}
		rtt := time.Since(start)

		status, ok := matchReply(buf[:n], p.id, seq)
		if !ok {
			continue
		}
		return Reply{Status: status, Source: peerAddr(peer), RTT: rtt}, nil
	}
}

func peerAddr(addr net.Addr) netip.Addr {
	ipAddr, ok := addr.(*net.IPAddr)
	if !ok {
		return netip.Addr{}
	}
	a, ok := netip.AddrFromSlice(ipAddr.IP)
	if !ok {
		return netip.Addr{}
	}
	return a.Unmap()
}
