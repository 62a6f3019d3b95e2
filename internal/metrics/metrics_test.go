package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tkjaer/livetrace/internal/probe"
	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/pkg/dns"
)

var destination = netip.MustParseAddr("198.51.100.1")

func TestOnPing_RTTConversion(t *testing.T) {
	tests := []struct {
		name      string
		rtt       time.Duration
		wantRttMs float64
	}{
		{"1ms", time.Millisecond, 1.0},
		{"10ms", 10 * time.Millisecond, 10.0},
		{"0.5ms", 500 * time.Microsecond, 0.5},
		{"zero", 0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMetricsWithRegistry(destination, prometheus.NewRegistry())
			m.OnResult(1, trace.HopResult, netip.MustParseAddr("192.0.2.1"))
			m.OnPing(1, trace.PingStats{Last: tt.rtt, Min: tt.rtt, Mean: tt.rtt, Max: tt.rtt, Sent: 1})

			for _, stat := range []string{"last", "min", "avg", "max"} {
				if got := testutil.ToFloat64(m.hopRTT.WithLabelValues("1", stat)); got != tt.wantRttMs {
					t.Errorf("%s RTT metric = %v, want %v", stat, got, tt.wantRttMs)
				}
			}
		})
	}
}

func TestOnPing_Counters(t *testing.T) {
	m := newMetricsWithRegistry(destination, prometheus.NewRegistry())
	m.OnResult(2, trace.HopResult, netip.MustParseAddr("192.0.2.2"))
	m.OnResult(3, trace.FinalResult, destination)

	m.OnPing(2, trace.PingStats{Status: probe.TTLExpired})
	m.OnPing(2, trace.PingStats{Status: probe.TimedOut})
	m.OnPing(2, trace.PingStats{Status: probe.TTLExpired})
	m.OnPing(3, trace.PingStats{Status: probe.Success})

	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("2")); got != 3 {
		t.Errorf("probes_total{ttl=2} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.failuresTotal.WithLabelValues("2")); got != 1 {
		t.Errorf("probe_failures_total{ttl=2} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("3")); got != 1 {
		t.Errorf("probes_total{ttl=3} = %v, want 1", got)
	}
}

func TestOnResult_DestinationAndObsolete(t *testing.T) {
	m := newMetricsWithRegistry(destination, prometheus.NewRegistry())

	m.OnResult(4, trace.FinalResult, destination)
	m.OnPing(4, trace.PingStats{Last: time.Millisecond})
	if got := testutil.ToFloat64(m.destinationHop); got != 4 {
		t.Fatalf("destination_hop = %v, want 4", got)
	}

	m.OnResult(2, trace.FinalResult, destination)
	m.OnResult(4, trace.Obsolete, netip.Addr{})

	if got := testutil.ToFloat64(m.destinationHop); got != 2 {
		t.Errorf("destination_hop = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.hopRTT); got != 0 {
		t.Errorf("hop_rtt_ms series after obsolete = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(m.probesTotal); got != 0 {
		t.Errorf("probes_total series after obsolete = %d, want 0", got)
	}
	if got := testutil.CollectAndCount(m.hopInfo); got != 1 {
		t.Errorf("hop_info series = %d, want 1", got)
	}
}

func TestOnPing_RetractedHop(t *testing.T) {
	m := newMetricsWithRegistry(destination, prometheus.NewRegistry())

	m.OnResult(3, trace.FinalResult, destination)
	m.OnResult(4, trace.InProgress, netip.Addr{})
	m.OnResult(4, trace.Obsolete, netip.Addr{})
	m.OnPing(4, trace.PingStats{Last: time.Millisecond, Status: probe.TimedOut})
	m.OnResolved(4, &dns.HostEntry{Name: "late.example.com"})

	// A hop that was never reported does not create series either.
	m.OnPing(9, trace.PingStats{Last: time.Millisecond})

	for name, c := range map[string]prometheus.Collector{
		"hop_rtt_ms":           m.hopRTT,
		"probes_total":         m.probesTotal,
		"probe_failures_total": m.failuresTotal,
	} {
		if got := testutil.CollectAndCount(c); got != 0 {
			t.Errorf("%s series = %d, want 0", name, got)
		}
	}
	if got := testutil.CollectAndCount(m.hopInfo); got != 1 {
		t.Errorf("hop_info series = %d, want only the destination", got)
	}

	m.OnPing(3, trace.PingStats{Last: time.Millisecond})
	if got := testutil.ToFloat64(m.probesTotal.WithLabelValues("3")); got != 1 {
		t.Errorf("probes_total{ttl=3} = %v, want 1", got)
	}
}

func TestHopInfo(t *testing.T) {
	m := newMetricsWithRegistry(destination, prometheus.NewRegistry())
	hop := netip.MustParseAddr("192.0.2.1")

	// A name without an address is dropped.
	m.OnResolved(1, &dns.HostEntry{Name: "early.example.com"})
	if got := testutil.CollectAndCount(m.hopInfo); got != 0 {
		t.Fatalf("hop_info series = %d, want 0", got)
	}

	m.OnResult(1, trace.HopResult, hop)
	m.OnResolved(1, &dns.HostEntry{Name: "gw.example.com"})
	m.OnResolved(1, nil)

	if got := testutil.CollectAndCount(m.hopInfo); got != 1 {
		t.Fatalf("hop_info series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.hopInfo.WithLabelValues("1", "192.0.2.1", "gw.example.com")); got != 1 {
		t.Errorf("hop_info = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := NewMetrics(destination)
	m.OnResult(1, trace.HopResult, netip.MustParseAddr("192.0.2.1"))
	m.OnPing(1, trace.PingStats{Last: 3 * time.Millisecond, Status: probe.TTLExpired})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`livetrace_hop_rtt_ms{destination="198.51.100.1",stat="last",ttl="1"} 3`,
		`livetrace_probes_total{destination="198.51.100.1",ttl="1"} 1`,
		`livetrace_hop_info{destination="198.51.100.1",hop_ip="192.0.2.1",hop_ptr="",ttl="1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	m := NewMetrics(destination)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx, addr) }()

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Errorf("/health = %d %q, want 200 \"OK\"", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
