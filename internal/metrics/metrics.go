// Package metrics exports live trace statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/pkg/dns"
)

// Metrics is a trace observer that keeps per-hop gauges and counters for
// one destination.
type Metrics struct {
	destination string
	registry    *prometheus.Registry

	hopRTT         *prometheus.GaugeVec
	hopInfo        *prometheus.GaugeVec
	probesTotal    *prometheus.CounterVec
	failuresTotal  *prometheus.CounterVec
	destinationHop prometheus.Gauge

	// mu serializes updates so a retracted hop's series stay deleted.
	mu    sync.Mutex
	live  map[int]bool
	addrs map[int]string
	names map[int]string
}

// NewMetrics registers the trace metrics for destination on a new registry.
func NewMetrics(destination netip.Addr) *Metrics {
	return newMetricsWithRegistry(destination, prometheus.NewRegistry())
}

func newMetricsWithRegistry(destination netip.Addr, registry *prometheus.Registry) *Metrics {
	dst := destination.String()
	m := &Metrics{
		destination: dst,
		registry:    registry,
		hopRTT: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "livetrace_hop_rtt_ms",
				Help:        "Round-trip time statistics of each hop in milliseconds",
				ConstLabels: prometheus.Labels{"destination": dst},
			},
			[]string{"ttl", "stat"},
		),
		hopInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "livetrace_hop_info",
				Help:        "Address and reverse name of each hop (always 1)",
				ConstLabels: prometheus.Labels{"destination": dst},
			},
			[]string{"ttl", "hop_ip", "hop_ptr"},
		),
		probesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "livetrace_probes_total",
				Help:        "Total number of probes sent per hop",
				ConstLabels: prometheus.Labels{"destination": dst},
			},
			[]string{"ttl"},
		),
		failuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "livetrace_probe_failures_total",
				Help:        "Total number of probes per hop that timed out or failed",
				ConstLabels: prometheus.Labels{"destination": dst},
			},
			[]string{"ttl"},
		),
		destinationHop: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "livetrace_destination_hop",
				Help:        "Lowest hop at which the destination answered (0 = not reached)",
				ConstLabels: prometheus.Labels{"destination": dst},
			},
		),
		live:  make(map[int]bool),
		addrs: make(map[int]string),
		names: make(map[int]string),
	}

	registry.MustRegister(m.hopRTT, m.hopInfo, m.probesTotal, m.failuresTotal, m.destinationHop)
	return m
}

func (m *Metrics) OnResult(hop int, status trace.Status, addr netip.Addr) {
	if status == trace.InProgress {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ttl := strconv.Itoa(hop)
	switch status {
	case trace.Obsolete:
		delete(m.live, hop)
		delete(m.addrs, hop)
		delete(m.names, hop)
		m.hopRTT.DeletePartialMatch(prometheus.Labels{"ttl": ttl})
		m.hopInfo.DeletePartialMatch(prometheus.Labels{"ttl": ttl})
		m.probesTotal.DeleteLabelValues(ttl)
		m.failuresTotal.DeleteLabelValues(ttl)
	case trace.FinalResult:
		m.live[hop] = true
		m.destinationHop.Set(float64(hop))
		m.setInfo(hop, addr.String(), "")
	case trace.HopResult:
		m.live[hop] = true
		if addr.IsValid() {
			m.setInfo(hop, addr.String(), "")
		}
	}
}

// OnPing updates the series of a live hop. Pings for hops that were never
// reported or have been retracted are dropped so no series is recreated.
func (m *Metrics) OnPing(hop int, stats trace.PingStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live[hop] {
		return
	}

	ttl := strconv.Itoa(hop)
	m.probesTotal.WithLabelValues(ttl).Inc()
	if stats.Status.Failed() {
		m.failuresTotal.WithLabelValues(ttl).Inc()
	}
	m.hopRTT.WithLabelValues(ttl, "last").Set(millis(stats.Last))
	m.hopRTT.WithLabelValues(ttl, "min").Set(millis(stats.Min))
	m.hopRTT.WithLabelValues(ttl, "avg").Set(millis(stats.Mean))
	m.hopRTT.WithLabelValues(ttl, "max").Set(millis(stats.Max))
	m.hopRTT.WithLabelValues(ttl, "stddev").Set(millis(stats.StdDev))
}

func (m *Metrics) OnResolved(hop int, entry *dns.HostEntry) {
	if entry == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live[hop] {
		return
	}
	m.setInfo(hop, "", entry.Name)
}

// setInfo replaces the info series of hop, keeping whichever of addr and
// name is not given. m.mu must be held.
func (m *Metrics) setInfo(hop int, addr, name string) {
	if addr == "" {
		addr = m.addrs[hop]
	}
	if name == "" {
		name = m.names[hop]
	}
	if addr == "" {
		// No address to label the hop with, e.g. a timed out hop.
		return
	}
	ttl := strconv.Itoa(hop)
	m.hopInfo.DeletePartialMatch(prometheus.Labels{"ttl": ttl})
	m.hopInfo.WithLabelValues(ttl, addr, name).Set(1)
	m.addrs[hop] = addr
	m.names[hop] = name
}

func (m *Metrics) Close() error { return nil }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
