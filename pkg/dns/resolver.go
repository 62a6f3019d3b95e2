// Package dns provides forward and reverse name resolution with retries and
// an optional TTL cache in front of it.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// ErrNoAddress is returned by Forward when a name resolves to no address.
var ErrNoAddress = errors.New("no address found")

// ErrNoName is returned by Reverse when an address has no usable PTR record.
var ErrNoName = errors.New("no name found")

// HostEntry is the result of a reverse lookup.
type HostEntry struct {
	Name    string
	Aliases []string
	Addrs   []netip.Addr
}

// Lookup resolves names to addresses and addresses to names.
type Lookup interface {
	Forward(ctx context.Context, host string) ([]netip.Addr, error)
	Reverse(ctx context.Context, addr netip.Addr) (*HostEntry, error)
}

// Resolver performs lookups through the system resolver, retrying transient failures.
type Resolver struct {
	lookupAddr func(ctx context.Context, addr string) ([]string, error)
	lookupHost func(ctx context.Context, host string) ([]netip.Addr, error)
	retries    int
	retryDelay time.Duration
}

// NewResolver returns a Resolver backed by net.DefaultResolver.
func NewResolver() *Resolver {
	r := net.DefaultResolver
	return &Resolver{
		lookupAddr: r.LookupAddr,
		lookupHost: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return r.LookupNetIP(ctx, "ip", host)
		},
		retries:    3,
		retryDelay: 100 * time.Millisecond,
	}
}

// Forward resolves host to its addresses. Literal addresses are returned as is.
func (r *Resolver) Forward(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr.Unmap()}, nil
	}

	var addrs []netip.Addr
	err := r.retry(ctx, func() error {
		var err error
		addrs, err = r.lookupHost(ctx, host)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
	}
	for i, a := range addrs {
		addrs[i] = a.Unmap()
	}
	return addrs, nil
}

// Reverse looks up the names registered for addr. The first name becomes
// HostEntry.Name and the rest its aliases.
func (r *Resolver) Reverse(ctx context.Context, addr netip.Addr) (*HostEntry, error) {
	var names []string
	err := r.retry(ctx, func() error {
		var err error
		names, err = r.lookupAddr(ctx, addr.String())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reverse lookup %s: %w", addr, err)
	}

	entry := &HostEntry{Addrs: []netip.Addr{addr}}
	for _, n := range names {
		n = normalizePTR(n)
		if n == "" {
			continue
		}
		if entry.Name == "" {
			entry.Name = n
		} else {
			entry.Aliases = append(entry.Aliases, n)
		}
	}
	if entry.Name == "" {
		return nil, fmt.Errorf("reverse lookup %s: %w", addr, ErrNoName)
	}
	return entry, nil
}

// retry runs fn up to r.retries times. Not-found answers and context errors
// are final.
func (r *Resolver) retry(ctx context.Context, fn func() error) error {
	attempts := max(r.retries, 1)
	var err error
	for i := range attempts {
		if err = fn(); err == nil {
			return nil
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

func normalizePTR(name string) string {
	return strings.TrimSuffix(name, ".")
}
