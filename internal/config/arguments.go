package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tkjaer/livetrace/internal/trace"
	"github.com/tkjaer/livetrace/internal/version"
)

// envPrefix prefixes the environment variable of every flag, e.g.
// LIVETRACE_MAX_HOPS.
const envPrefix = "livetrace"

type Args struct {
	Destination string
	MaxHops     uint
	Window      uint
	Count       uint
	NoResolve   bool

	// Timing
	Duration time.Duration // overall trace duration, 0 = single pass
	Interval time.Duration
	Timeout  time.Duration
	History  uint

	// Output
	Json          bool   // output json to stdout
	JsonFile      string // output json to file while showing TUI
	Plain         bool   // print the final table instead of running the TUI
	MetricsListen string // address of the Prometheus endpoint, empty = disabled

	// Logging
	Log      string // log file path, empty means no logging
	LogLevel string // log level: debug, info, warn, error

	ConfigFile string
}

func ParseArgs() (Args, error) {
	var args Args
	var showVersion bool

	// Set custom usage message
	flag.Usage = func() {
		println("livetrace - live traceroute")
		println()
		println("Traces the path to a destination and keeps measuring every hop.")
		println()
		println("Usage:")
		println("  livetrace [OPTIONS] DESTINATION")
		println()
		println("Examples:")
		println("  livetrace <destination>                 # Single pass, one probe per hop")
		println("  livetrace -t 1m <destination>           # Keep measuring for a minute")
		println("  livetrace -c 10 -J <destination>        # 10 probes per hop, JSON to stdout")
		println("  livetrace -j results.json <destination> # Save JSON while showing TUI")
		println()
		println("Every option can also be set as LIVETRACE_<OPTION> or in a YAML file given with --config.")
		println()
		println("Options:")
		flag.PrintDefaults()
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVar(&args.ConfigFile, "config", "", "YAML config file")

	flag.UintP("max-hops", "m", 50, "Maximum number of hops")
	flag.UintP("window", "P", 5, "Number of hops probed concurrently")
	flag.UintP("count", "c", 0, "Probes per hop (0 = 1, or unlimited with --time)")
	flag.DurationP("time", "t", 0, "Keep measuring for this long (0 = single pass)")
	flag.DurationP("interval", "i", time.Second, "Delay between probes of a hop")
	flag.DurationP("timeout", "w", 2*time.Second, "Response timeout")
	flag.Uint("history", 40, "Number of samples kept for the history column")
	flag.BoolP("no-resolve", "n", false, "Do not resolve IP addresses to hostnames")
	flag.StringP("json-file", "j", "", "Write JSON output to file (keeps TUI)")
	flag.BoolP("json", "J", false, "Write JSON output to stdout (disables TUI)")
	flag.Bool("plain", false, "Print the final table instead of the interactive view")
	flag.String("metrics-listen", "", "Serve Prometheus metrics on this address (empty = disabled)")
	flag.StringP("log", "l", "", "Diagnostic log file (empty = no logging)")
	flag.String("log-level", "error", "Log level: debug, info, warn, error")
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return args, err
	}

	// Handle version flag
	if showVersion {
		fmt.Println(version.FullVersion())
		os.Exit(0)
	}

	v, err := newViper(args.ConfigFile)
	if err != nil {
		return args, err
	}

	args.Destination = flag.Arg(0)
	args.MaxHops = v.GetUint("max-hops")
	args.Window = v.GetUint("window")
	args.Count = v.GetUint("count")
	args.Duration = v.GetDuration("time")
	args.Interval = v.GetDuration("interval")
	args.Timeout = v.GetDuration("timeout")
	args.History = v.GetUint("history")
	args.NoResolve = v.GetBool("no-resolve")
	args.JsonFile = v.GetString("json-file")
	args.Json = v.GetBool("json")
	args.Plain = v.GetBool("plain")
	args.MetricsListen = v.GetString("metrics-listen")
	args.Log = v.GetString("log")
	args.LogLevel = v.GetString("log-level")

	if args.Destination == "" {
		return args, errors.New("destination is required")
	}

	switch {
	case args.Json && args.JsonFile != "":
		return args, errors.New("cannot use both --json and --json-file")
	case args.MaxHops < 1 || args.MaxHops > 255:
		return args, errors.New("maximum hops must be between 1 and 255")
	case args.Window < 1:
		return args, errors.New("window must be at least 1")
	case args.Timeout <= 0:
		return args, errors.New("timeout must be positive")
	case args.Interval < 0:
		return args, errors.New("interval must not be negative")
	case args.Duration < 0:
		return args, errors.New("time must not be negative")
	}

	return args, nil
}

// newViper layers the parsed command line over LIVETRACE_* environment
// variables and the optional config file.
func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return v, nil
}

// TraceOptions converts the arguments to tracer options. Without an explicit
// count every hop is probed once, or until the deadline in timed mode.
func (a Args) TraceOptions() trace.Options {
	opts := trace.DefaultOptions()
	opts.MaxHops = int(a.MaxHops)
	opts.Window = int(a.Window)
	opts.HistoryDepth = int(a.History)
	opts.Interval = a.Interval
	opts.Timeout = a.Timeout

	switch {
	case a.Count > 0:
		opts.ProbesPerHop = int(a.Count)
	case a.Duration > 0:
		opts.ProbesPerHop = 0
	default:
		opts.ProbesPerHop = 1
	}
	return opts
}

// OutputMode returns "json", "text" or "tui".
func (a Args) OutputMode() string {
	switch {
	case a.Json:
		return "json"
	case a.Plain:
		return "text"
	default:
		return "tui"
	}
}
