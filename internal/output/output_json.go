package output

import (
	"encoding/json"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/pkg/dns"
)

// JSONOutput writes one JSON object per trace event to a file or stdout.
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
	now      func() time.Time
	err      error

	retracted map[int]bool
}

type jsonEvent struct {
	Time     time.Time `json:"time"`
	Event    string    `json:"event"`
	Hop      int       `json:"hop"`
	Status   string    `json:"status,omitempty"`
	Address  string    `json:"address,omitempty"`
	Ping     *jsonPing `json:"ping,omitempty"`
	Hostname string    `json:"hostname,omitempty"`
	Aliases  []string  `json:"aliases,omitempty"`
}

type jsonPing struct {
	MinMs    float64 `json:"min_ms"`
	AvgMs    float64 `json:"avg_ms"`
	MaxMs    float64 `json:"max_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	LastMs   float64 `json:"last_ms"`
	History  []int   `json:"history"`
	Sent     int     `json:"sent"`
	Fail     int     `json:"fail"`
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		// Output to stdout
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
			now:      time.Now,
		}, nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file:     f,
		enc:      json.NewEncoder(f),
		toStdout: false,
		now:      time.Now,
	}, nil
}

func (j *JSONOutput) OnResult(hop int, status trace.Status, addr netip.Addr) {
	ev := jsonEvent{Event: "result", Hop: hop, Status: status.String()}
	if addr.IsValid() {
		ev.Address = addr.String()
	}
	j.write(ev)
}

func (j *JSONOutput) OnPing(hop int, stats trace.PingStats) {
	ev := jsonEvent{
		Event:  "ping",
		Hop:    hop,
		Status: stats.Status.String(),
		Ping: &jsonPing{
			MinMs:    millis(stats.Min),
			AvgMs:    millis(stats.Mean),
			MaxMs:    millis(stats.Max),
			StdDevMs: millis(stats.StdDev),
			LastMs:   millis(stats.Last),
			History:  stats.History,
			Sent:     stats.Sent,
			Fail:     stats.Fail,
		},
	}
	if stats.Address.IsValid() {
		ev.Address = stats.Address.String()
	}
	j.write(ev)
}

func (j *JSONOutput) OnResolved(hop int, entry *dns.HostEntry) {
	ev := jsonEvent{Event: "resolved", Hop: hop}
	if entry != nil {
		ev.Hostname = entry.Name
		ev.Aliases = entry.Aliases
	}
	j.write(ev)
}

// write encodes ev. Ping and resolved events of a hop that has been
// reported obsolete are dropped.
func (j *JSONOutput) write(ev jsonEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case ev.Event == "result" && ev.Status == trace.Obsolete.String():
		if j.retracted == nil {
			j.retracted = make(map[int]bool)
		}
		j.retracted[ev.Hop] = true
	case ev.Event != "result" && j.retracted[ev.Hop]:
		return
	}

	ev.Time = j.now()
	if err := j.enc.Encode(ev); err != nil && j.err == nil {
		j.err = err
	}
}

// Close closes the file and reports the first write error.
func (j *JSONOutput) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.toStdout {
		return j.err
	}
	if err := j.file.Close(); err != nil && j.err == nil {
		j.err = err
	}
	return j.err
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
