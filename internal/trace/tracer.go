// Package trace discovers the hops towards a target by probing increasing
// TTLs in concurrent windows and keeps collecting per-hop statistics in the
// background while the trace runs.
package trace

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/tkjaer/livetrace/internal/probe"
	"github.com/tkjaer/livetrace/internal/stats"
)

var broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// Tracer runs traces with one probe collaborator and an optional resolver.
type Tracer struct {
	prober   probe.Prober
	resolver ReverseResolver
}

// NewTracer returns a Tracer. A nil resolver disables reverse resolution.
func NewTracer(prober probe.Prober, resolver ReverseResolver) *Tracer {
	return &Tracer{prober: prober, resolver: resolver}
}

// session is the state of one Trace call.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	tracer *Tracer
	target netip.Addr
	opts   Options
	obs    Observer

	// handoff receives the start of the next window, or 0 to stop.
	handoff    chan int
	hops       sync.WaitGroup
	background sync.WaitGroup

	destMu sync.Mutex
	dest   *destination

	fatalOnce sync.Once
	fatalErr  error
}

// destination is the hop currently reported as final. Its statistics loop and
// lookup run under ctx, which is cancelled when a lower hop replaces it.
type destination struct {
	hop       int
	ctx       context.Context
	cancel    context.CancelFunc
	retracted bool // guarded by session.destMu
}

// Trace probes target until the destination is found or MaxHops is reached,
// then waits for all background statistics loops and lookups to finish.
//
// Cancelling ctx ends the trace with (Cancelled, nil); results already
// delivered to obs stay valid. A non-context error from the prober aborts
// the trace and is returned with Cancelled. Invalid options or target are
// rejected before anything runs and return Completed with the error; callers
// should not rely on the outcome when err is non-nil.
func (t *Tracer) Trace(ctx context.Context, target netip.Addr, opts Options, obs Observer) (Outcome, error) {
	if err := opts.Validate(); err != nil {
		return Completed, err
	}
	if !target.IsValid() {
		return Completed, fmt.Errorf("%w: no target address", ErrInvalidOptions)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{
		ctx:     sessionCtx,
		cancel:  cancel,
		tracer:  t,
		target:  target.Unmap(),
		opts:    opts,
		obs:     obs,
		handoff: make(chan int, 1),
	}

	slog.Debug("Starting trace", "target", s.target, "max_hops", opts.MaxHops, "window", opts.Window)
	s.schedule()
	s.hops.Wait()
	s.background.Wait()

	if s.fatalErr != nil {
		return Cancelled, s.fatalErr
	}
	if ctx.Err() != nil {
		slog.Debug("Trace cancelled", "target", s.target, "cause", context.Cause(ctx))
		return Cancelled, nil
	}
	slog.Debug("Trace completed", "target", s.target, "destination_hop", s.destinationHop())
	return Completed, nil
}

// schedule starts windows one after another. Each window's last hop task
// posts exactly one message on handoff.
func (s *session) schedule() {
	start := 1
	for {
		size := min(s.opts.Window, s.opts.MaxHops-start+1)
		if size <= 0 {
			return
		}
		s.startWindow(start, size)
		if start = <-s.handoff; start == 0 {
			return
		}
	}
}

func (s *session) startWindow(start, size int) {
	slog.Debug("Starting window", "start", start, "size", size)
	last := start + size - 1
	for hop := start; hop <= last; hop++ {
		s.hops.Add(1)
		go s.probeHop(hop, hop == last, start+size)
	}
}

// probeHop sends the first probe for hop and classifies it. When last is set
// the task decides whether the window starting at next is scheduled.
func (s *session) probeHop(hop int, last bool, next int) {
	defer s.hops.Done()
	advance := 0
	if last {
		defer func() { s.handoff <- advance }()
	}

	if s.ctx.Err() != nil {
		return
	}
	s.obs.OnResult(hop, InProgress, netip.Addr{})

	reply, err := s.tracer.prober.Send(s.ctx, s.target, hop, s.opts.Timeout)
	if err != nil {
		s.probeFailed(s.ctx, hop, err)
		return
	}

	var dest *destination
	if reply.Source.IsValid() && reply.Source.Unmap() == s.target {
		if dest = s.reportDestination(hop); dest == nil {
			// Retracted at once; nothing more is reported for this hop.
			return
		}
	} else {
		s.obs.OnResult(hop, HopResult, reply.Source)
		advance = next
	}

	s.background.Add(1)
	go s.collect(hop, reply, dest)

	if s.tracer.resolver != nil && routable(reply.Source) {
		s.background.Add(1)
		go s.resolve(hop, reply.Source, dest)
	}
}

// reportDestination keeps the lowest hop at which the target answered as the
// only final row. Hops above it are retracted, including a previously
// announced destination whose background work is stopped. It returns nil when
// hop is not the new destination. Callbacks are issued with destMu held.
func (s *session) reportDestination(hop int) *destination {
	s.destMu.Lock()
	defer s.destMu.Unlock()

	previous := s.dest
	if previous != nil && hop >= previous.hop {
		s.obs.OnResult(hop, Obsolete, netip.Addr{})
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.dest = &destination{hop: hop, ctx: ctx, cancel: cancel}
	if previous != nil {
		previous.retracted = true
		previous.cancel()
		s.obs.OnResult(previous.hop, Obsolete, netip.Addr{})
	}
	s.obs.OnResult(hop, FinalResult, s.target)
	return s.dest
}

// report calls fn unless dest has been retracted. Intermediate hops (nil
// dest) are never retracted.
func (s *session) report(dest *destination, fn func()) bool {
	if dest == nil {
		fn()
		return true
	}
	s.destMu.Lock()
	defer s.destMu.Unlock()
	if dest.retracted {
		return false
	}
	fn()
	return true
}

// hopContext is the context background work for a hop runs under.
func (s *session) hopContext(dest *destination) context.Context {
	if dest == nil {
		return s.ctx
	}
	return dest.ctx
}

func (s *session) destinationHop() int {
	s.destMu.Lock()
	defer s.destMu.Unlock()
	if s.dest == nil {
		return 0
	}
	return s.dest.hop
}

// collect records the first reply and keeps probing hop until ProbesPerHop
// probes have been sent, the session ends or the hop is retracted.
func (s *session) collect(hop int, first probe.Reply, dest *destination) {
	defer s.background.Done()
	ctx := s.hopContext(dest)

	st := newHopState(hop, first.Source, s.opts.HistoryDepth)
	if !s.report(dest, func() { s.obs.OnPing(hop, st.record(first)) }) {
		return
	}

	for s.opts.ProbesPerHop <= 0 || st.sent < s.opts.ProbesPerHop {
		if !sleep(ctx, s.opts.Interval) {
			return
		}
		reply, err := s.tracer.prober.Send(ctx, s.target, hop, s.opts.Timeout)
		if err != nil {
			s.probeFailed(ctx, hop, err)
			return
		}
		if !s.report(dest, func() { s.obs.OnPing(hop, st.record(reply)) }) {
			return
		}
	}
}

func (s *session) resolve(hop int, addr netip.Addr, dest *destination) {
	defer s.background.Done()
	ctx := s.hopContext(dest)

	entry, err := s.tracer.resolver.Reverse(ctx, addr)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Debug("Reverse lookup failed", "hop", hop, "addr", addr, "err", err)
		entry = nil
	}
	s.report(dest, func() { s.obs.OnResolved(hop, entry) })
}

// probeFailed handles an error returned by the prober for work running under
// ctx. Errors caused by ctx ending are expected; anything else aborts the
// trace.
func (s *session) probeFailed(ctx context.Context, hop int, err error) {
	if ctx.Err() != nil {
		return
	}
	s.fatalOnce.Do(func() {
		slog.Error("Probe failed", "hop", hop, "err", err)
		s.fatalErr = fmt.Errorf("probe hop %d: %w", hop, err)
		s.cancel()
	})
}

func routable(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified() && addr.Unmap() != broadcast
}

// sleep waits for d or until ctx ends and reports whether the wait completed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// hopState is owned by the statistics loop of one hop.
type hopState struct {
	hop     int
	addr    netip.Addr
	ring    *stats.Ring[int]
	rolling *stats.Rolling
	sent    int
	fail    int
}

func newHopState(hop int, addr netip.Addr, depth int) *hopState {
	return &hopState{
		hop:     hop,
		addr:    addr,
		ring:    stats.NewRing[int](depth),
		rolling: stats.NewRolling(),
	}
}

// record adds reply to the statistics and returns the resulting snapshot.
func (h *hopState) record(reply probe.Reply) PingStats {
	h.sent++
	if reply.Status.Failed() {
		h.fail++
	}
	h.rolling.Add(reply.RTT)
	h.ring.Add(int(reply.RTT.Round(time.Millisecond) / time.Millisecond))

	return PingStats{
		Min:     h.rolling.Min(),
		Max:     h.rolling.Max(),
		Mean:    h.rolling.Mean(),
		StdDev:  h.rolling.StdDev(),
		Last:    reply.RTT,
		History: h.ring.Snapshot(),
		Sent:    h.sent,
		Fail:    h.fail,
		Status:  reply.Status,
		Address: h.addr,
	}
}
