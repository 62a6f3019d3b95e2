package dns

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeLookup struct {
	forwardCalls atomic.Int32
	reverseCalls atomic.Int32
	release      chan struct{}
	names        map[netip.Addr]string
}

func (f *fakeLookup) Forward(ctx context.Context, host string) ([]netip.Addr, error) {
	f.forwardCalls.Add(1)
	if host == "missing.example" {
		return nil, ErrNoAddress
	}
	return []netip.Addr{netip.MustParseAddr("192.0.2.10")}, nil
}

func (f *fakeLookup) Reverse(ctx context.Context, addr netip.Addr) (*HostEntry, error) {
	f.reverseCalls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	name, ok := f.names[addr]
	if !ok {
		return nil, ErrNoName
	}
	return &HostEntry{Name: name, Addrs: []netip.Addr{addr}}, nil
}

func TestCachingResolver_Reverse(t *testing.T) {
	known := netip.MustParseAddr("192.0.2.1")
	unknown := netip.MustParseAddr("192.0.2.2")
	next := &fakeLookup{names: map[netip.Addr]string{known: "gw.example.com"}}
	c := NewCachingResolver(next, time.Minute)
	defer c.Close()

	for range 3 {
		entry, err := c.Reverse(context.Background(), known)
		if err != nil {
			t.Fatalf("Reverse() error = %v", err)
		}
		if entry.Name != "gw.example.com" {
			t.Errorf("Reverse() name = %q, want gw.example.com", entry.Name)
		}
	}
	for range 3 {
		if _, err := c.Reverse(context.Background(), unknown); !errors.Is(err, ErrNoName) {
			t.Errorf("Reverse() error = %v, want ErrNoName", err)
		}
	}

	if got := next.reverseCalls.Load(); got != 2 {
		t.Errorf("upstream reverse calls = %d, want 2", got)
	}
}

func TestCachingResolver_Forward(t *testing.T) {
	next := &fakeLookup{}
	c := NewCachingResolver(next, time.Minute)
	defer c.Close()

	for range 2 {
		addrs, err := c.Forward(context.Background(), "host.example")
		if err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
		if len(addrs) != 1 || addrs[0] != netip.MustParseAddr("192.0.2.10") {
			t.Errorf("Forward() = %v", addrs)
		}
	}
	if got := next.forwardCalls.Load(); got != 1 {
		t.Errorf("upstream forward calls = %d, want 1", got)
	}

	// Failures are not cached.
	for range 2 {
		if _, err := c.Forward(context.Background(), "missing.example"); !errors.Is(err, ErrNoAddress) {
			t.Errorf("Forward() error = %v, want ErrNoAddress", err)
		}
	}
	if got := next.forwardCalls.Load(); got != 3 {
		t.Errorf("upstream forward calls = %d, want 3", got)
	}
}

func TestCachingResolver_SharesConcurrentLookups(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")
	next := &fakeLookup{
		names:   map[netip.Addr]string{addr: "gw.example.com"},
		release: make(chan struct{}),
	}
	c := NewCachingResolver(next, time.Minute)
	defer c.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := c.Reverse(context.Background(), addr)
			if err != nil || entry.Name != "gw.example.com" {
				t.Errorf("Reverse() = (%v, %v)", entry, err)
			}
		}()
	}

	// Let the goroutines pile up on the in-flight call before releasing it.
	for next.reverseCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(next.release)
	wg.Wait()

	if got := next.reverseCalls.Load(); got != 1 {
		t.Errorf("upstream reverse calls = %d, want 1", got)
	}
}

func TestCachingResolver_CancelledCallerStopsWaiting(t *testing.T) {
	addr := netip.MustParseAddr("192.0.2.1")
	next := &fakeLookup{
		names:   map[netip.Addr]string{addr: "gw.example.com"},
		release: make(chan struct{}),
	}
	c := NewCachingResolver(next, time.Minute)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Reverse(ctx, addr)
		done <- err
	}()
	for next.reverseCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Reverse() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reverse() did not return after cancel")
	}

	// The cancelled lookup must not poison the cache.
	close(next.release)
	var entry *HostEntry
	var err error
	for range 100 {
		// The cancelled call may still be in flight for a moment.
		if entry, err = c.Reverse(context.Background(), addr); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err != nil || entry.Name != "gw.example.com" {
		t.Errorf("Reverse() after cancel = (%v, %v)", entry, err)
	}
}
