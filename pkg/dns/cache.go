package dns

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long lookups are cached when no TTL is given.
const DefaultCacheTTL = 10 * time.Minute

// CachingResolver caches the answers of another Lookup. Concurrent lookups of
// the same key share one upstream call. Failed reverse lookups are cached as
// misses so unresolvable hops are not queried on every refresh.
type CachingResolver struct {
	next    Lookup
	forward *ttlcache.Cache[string, []netip.Addr]
	reverse *ttlcache.Cache[netip.Addr, *HostEntry]
	group   singleflight.Group
}

// NewCachingResolver wraps next. Close stops the expiry goroutines.
func NewCachingResolver(next Lookup, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &CachingResolver{
		next:    next,
		forward: ttlcache.New(ttlcache.WithTTL[string, []netip.Addr](ttl)),
		reverse: ttlcache.New(ttlcache.WithTTL[netip.Addr, *HostEntry](ttl)),
	}
	go c.forward.Start()
	go c.reverse.Start()
	return c
}

// Close stops the cache expiry loops.
func (c *CachingResolver) Close() {
	c.forward.Stop()
	c.reverse.Stop()
}

// Forward implements Lookup.
func (c *CachingResolver) Forward(ctx context.Context, host string) ([]netip.Addr, error) {
	if item := c.forward.Get(host); item != nil {
		return item.Value(), nil
	}

	v, err := c.do(ctx, "forward:"+host, func() (any, error) {
		addrs, err := c.next.Forward(ctx, host)
		if err != nil {
			return nil, err
		}
		c.forward.Set(host, addrs, ttlcache.DefaultTTL)
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]netip.Addr), nil
}

// Reverse implements Lookup.
func (c *CachingResolver) Reverse(ctx context.Context, addr netip.Addr) (*HostEntry, error) {
	if item := c.reverse.Get(addr); item != nil {
		if item.Value() == nil {
			return nil, fmt.Errorf("reverse lookup %s: %w", addr, ErrNoName)
		}
		return item.Value(), nil
	}

	v, err := c.do(ctx, "reverse:"+addr.String(), func() (any, error) {
		entry, err := c.next.Reverse(ctx, addr)
		if err != nil {
			if !isContextError(err) {
				c.reverse.Set(addr, nil, ttlcache.DefaultTTL)
			}
			return nil, err
		}
		c.reverse.Set(addr, entry, ttlcache.DefaultTTL)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*HostEntry), nil
}

// do runs fn once per key across concurrent callers and stops waiting when ctx ends.
func (c *CachingResolver) do(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := c.group.DoChan(key, fn)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
