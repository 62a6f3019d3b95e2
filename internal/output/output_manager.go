package output

import (
	"errors"
	"net/netip"

	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/pkg/dns"
)

// Output receives trace events. Implementations must be safe for concurrent use.
type Output interface {
	trace.Observer
	Close() error
}

// OutputManager fans trace events out to every registered output.
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) OnResult(hop int, status trace.Status, addr netip.Addr) {
	for _, o := range om.outputs {
		o.OnResult(hop, status, addr)
	}
}

func (om *OutputManager) OnPing(hop int, stats trace.PingStats) {
	for _, o := range om.outputs {
		o.OnPing(hop, stats)
	}
}

func (om *OutputManager) OnResolved(hop int, entry *dns.HostEntry) {
	for _, o := range om.outputs {
		o.OnResolved(hop, entry)
	}
}

// Close closes every output and returns their errors joined.
func (om *OutputManager) Close() error {
	var errs []error
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
