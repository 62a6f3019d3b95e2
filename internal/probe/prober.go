package probe

import (
	"context"
	"errors"
	"net/netip"
	"time"
)

// ErrInvalidTTL is returned by Send when the requested time-to-live is outside 1..255.
var ErrInvalidTTL = errors.New("invalid ttl")

// ErrUnsupportedAddress is returned by Send for targets that are not IPv4.
var ErrUnsupportedAddress = errors.New("unsupported target address")

// Status classifies the outcome of a single probe.
type Status int

const (
	Success Status = iota
	TTLExpired
	TimedOut
	OtherFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case TTLExpired:
		return "ttl-expired"
	case TimedOut:
		return "timed-out"
	case OtherFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Failed reports whether the status counts as a failed probe.
func (s Status) Failed() bool {
	return s != Success && s != TTLExpired
}

// Reply is the result of one probe. Source is the zero Addr when nothing answered.
type Reply struct {
	Status Status
	Source netip.Addr
	RTT    time.Duration
}

// Prober sends one echo request with the given time-to-live and waits for the
// answer. Network-level failures are reported through Reply.Status; the error
// is reserved for contract violations and context cancellation.
type Prober interface {
	Send(ctx context.Context, target netip.Addr, ttl int, timeout time.Duration) (Reply, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, target netip.Addr, ttl int, timeout time.Duration) (Reply, error)

func (f ProberFunc) Send(ctx context.Context, target netip.Addr, ttl int, timeout time.Duration) (Reply, error) {
	return f(ctx, target, ttl, timeout)
}
