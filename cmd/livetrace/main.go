package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tkjaer/livetrace/internal/config"
	"github.com/tkjaer/livetrace/internal/metrics"
	"github.com/tkjaer/livetrace/internal/output"
	"github.com/tkjaer/livetrace/internal/probe"
	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/pkg/dns"
	"golang.org/x/sync/errgroup"
)

var errNoIPv4 = errors.New("no IPv4 address")

func main() {
	os.Exit(run())
}

func run() int {
	args, err := config.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if !args.Json && !output.IsTerminal(os.Stdout) {
		args.Plain = true
	}

	// Setup logging
	logFile, err := config.SetupLogging(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		return 1
	}
	if logFile != nil {
		defer logFile.Close()
	}

	// Interrupts and the --time deadline both end the trace normally.
	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	if args.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.Duration)
		defer cancel()
	}
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	resolver := dns.NewCachingResolver(dns.NewResolver(), dns.DefaultCacheTTL)
	defer resolver.Close()

	addrs, err := resolver.Forward(ctx, args.Destination)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolve %s: %v\n", args.Destination, err)
		return 1
	}
	target, err := pickTarget(addrs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", args.Destination, err)
		return 1
	}
	if len(addrs) > 1 {
		fmt.Fprintf(os.Stderr, "%s resolves to %s, using %s\n", args.Destination, joinAddrs(addrs), target)
	}

	prober, err := probe.NewICMPProber()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := args.TraceOptions()
	slog.Debug("Starting livetrace",
		"destination", args.Destination,
		"target", target,
		"max_hops", opts.MaxHops,
		"window", opts.Window,
		"probes_per_hop", opts.ProbesPerHop,
	)

	om := &output.OutputManager{}
	var tui *output.TUI
	switch args.OutputMode() {
	case "json":
		jo, err := output.NewJSONOutput("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		om.Register(jo)
	case "text":
		om.Register(output.NewPlainOutput(output.NewHopTable(nil), os.Stdout))
	default:
		tui = output.NewTUI(output.NewHopTable(nil), title(args.Destination, target), quit)
		om.Register(tui)
	}
	if args.JsonFile != "" {
		jo, err := output.NewJSONOutput(args.JsonFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		om.Register(jo)
	}

	var m *metrics.Metrics
	if args.MetricsListen != "" {
		m = metrics.NewMetrics(target)
		om.Register(m)
	}

	var reverse trace.ReverseResolver
	if !args.NoResolve {
		reverse = resolver
	}
	tracer := trace.NewTracer(prober, reverse)

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	g.Go(func() error {
		defer stopServe()
		outcome, err := tracer.Trace(gctx, target, opts, om)
		if tui != nil {
			tui.Finish(outcome, err)
		}
		slog.Debug("Trace finished", "outcome", outcome, "err", err)
		return err
	})
	if tui != nil {
		g.Go(tui.Run)
	}
	if m != nil {
		g.Go(func() error {
			return m.Serve(serveCtx, args.MetricsListen)
		})
	}

	runErr := g.Wait()
	closeErr := om.Close()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		return 1
	}
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", closeErr)
		return 1
	}
	return 0
}

// pickTarget returns the first IPv4 address of addrs.
func pickTarget(addrs []netip.Addr) (netip.Addr, error) {
	for _, addr := range addrs {
		if addr = addr.Unmap(); addr.Is4() {
			return addr, nil
		}
	}
	return netip.Addr{}, errNoIPv4
}

func joinAddrs(addrs []netip.Addr) string {
	s := make([]string, len(addrs))
	for i, addr := range addrs {
		s[i] = addr.String()
	}
	return strings.Join(s, ", ")
}

func title(destination string, target netip.Addr) string {
	if destination == target.String() {
		return "livetrace " + destination
	}
	return fmt.Sprintf("livetrace %s (%s)", destination, target)
}
