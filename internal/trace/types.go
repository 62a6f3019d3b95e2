package trace

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/tkjaer/livetrace/internal/probe"
	"github.com/tkjaer/livetrace/pkg/dns"
)

// ErrInvalidOptions is wrapped by every validation failure of Options or the target.
var ErrInvalidOptions = errors.New("invalid trace options")

// Status is the state of a hop row as reported through Observer.OnResult.
type Status int

const (
	// InProgress is reported before the first probe of a hop is sent.
	InProgress Status = iota
	// HopResult carries the address that answered for an intermediate hop.
	HopResult
	// FinalResult marks the lowest hop at which the target answered.
	FinalResult
	// Obsolete retracts a hop that turned out to lie beyond the target.
	Obsolete
)

func (s Status) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case HopResult:
		return "hop"
	case FinalResult:
		return "final"
	case Obsolete:
		return "obsolete"
	default:
		return "unknown"
	}
}

// Outcome tells how a trace ended.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	if o == Completed {
		return "completed"
	}
	return "cancelled"
}

// PingStats is a snapshot of one hop's statistics after a probe reply.
type PingStats struct {
	Min, Max, Mean, StdDev time.Duration
	Last                   time.Duration
	// History holds recent round-trip times in milliseconds, oldest first.
	History []int
	Sent    int
	Fail    int
	Status  probe.Status
	Address netip.Addr
}

// Observer receives trace events. Methods are called concurrently from the
// tracer's goroutines and must be safe for concurrent use.
type Observer interface {
	OnResult(hop int, status Status, addr netip.Addr)
	OnPing(hop int, stats PingStats)
	// OnResolved is called once per hop with a routable address; entry is nil
	// when the lookup failed.
	OnResolved(hop int, entry *dns.HostEntry)
}

// ReverseResolver looks up the host entry of an address.
type ReverseResolver interface {
	Reverse(ctx context.Context, addr netip.Addr) (*dns.HostEntry, error)
}

// Options control a single trace.
type Options struct {
	MaxHops int
	// Window is the number of hops probed concurrently.
	Window int
	// ProbesPerHop is the total number of probes per hop including the
	// first; zero or less probes until the context ends.
	ProbesPerHop int
	// HistoryDepth is the number of round-trip samples kept per hop.
	HistoryDepth int
	Interval     time.Duration
	Timeout      time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxHops:      50,
		Window:       5,
		ProbesPerHop: 1,
		HistoryDepth: 40,
		Interval:     time.Second,
		Timeout:      2 * time.Second,
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	switch {
	case o.MaxHops < 1 || o.MaxHops > 255:
		return fmt.Errorf("%w: max hops must be between 1 and 255, got %d", ErrInvalidOptions, o.MaxHops)
	case o.Window < 1:
		return fmt.Errorf("%w: window must be at least 1, got %d", ErrInvalidOptions, o.Window)
	case o.HistoryDepth < 0:
		return fmt.Errorf("%w: history depth must not be negative, got %d", ErrInvalidOptions, o.HistoryDepth)
	case o.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidOptions, o.Timeout)
	case o.Interval < 0:
		return fmt.Errorf("%w: interval must not be negative, got %v", ErrInvalidOptions, o.Interval)
	}
	return nil
}
