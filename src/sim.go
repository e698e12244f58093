package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Exercise the transmit path against a pretend radio.
 *
 * Description:	Some number of stations each get a burst of frames.  The
 *		firmware stand-in takes pushed frames, waits a little, then
 *		reports them done and hands the credit back, occasionally
 *		asking for a retransmission instead.
 *
 *		At the end a summary is printed.  With a metrics address
 *		the counters can be watched while it runs.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

type SimOptions struct {
	Config          *Config
	Stations        int
	Frames          int // Per station.
	Role            Role
	Latency         time.Duration // Firmware time per frame.
	RetryRate       float64       // Chance the firmware asks for a frame again.
	MetricsAddr     string
	DNSSD           bool
	DNSSDName       string
	Trace           bool
	TimestampFormat string
}

type SimSummary struct {
	Offered  int64
	Refused  int64
	OK       int64
	Failed   int64
	Dropped  int64
	Stale    int64
	Retries  int64
	Elapsed  time.Duration
	Leftover int // Buffers still in use at the end.
}

func (s SimSummary) Print(w io.Writer) {
	fmt.Fprintf(w, "offered %d, refused %d, ok %d, failed %d, dropped %d, stale %d, retries %d in %v\n",
		s.Offered, s.Refused, s.OK, s.Failed, s.Dropped, s.Stale, s.Retries, s.Elapsed.Round(time.Millisecond))
	if s.Leftover != 0 {
		fmt.Fprintf(w, "WARNING: %d buffers never released\n", s.Leftover)
	}
}

// simFirmware is the far side of the push path.  Push only queues; the
// loop in run does the rest, so nothing calls back into the engine from
// inside a push.
type simFirmware struct {
	frames    chan Frame
	latency   time.Duration
	retryRate float64
	clock     clock.Clock
	retries   atomic.Int64
}

func (f *simFirmware) Push(fr Frame) { f.frames <- fr }

func (f *simFirmware) Idle() bool { return false }

func (f *simFirmware) run(ctx context.Context, d *Driver) error {
	for {
		var fr Frame
		select {
		case <-ctx.Done():
			return nil
		case fr = <-f.frames:
		}

		if f.latency > 0 {
			f.clock.Sleep(f.latency)
		}

		var status = StatusOK
		if f.retryRate > 0 && rand.Float64() < f.retryRate { //nolint:gosec
			status = StatusRetry
			f.retries.Add(1)
		}
		if err := d.TxComplete(fr.Ref, status); err != nil {
			return err
		}

		// The slot it used is free again.
		if fr.Station == NoStation {
			_ = d.QueueCreditUpdate(fr.Queue, 1)
		} else {
			_ = d.CreditUpdate(fr.Station, fr.TID, 1)
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        RunSim
 *
 * Purpose:     One simulation run.
 *
 * Inputs:	opts	- What to run.
 *
 *		out	- Where the frame trace goes, if enabled.
 *
 * Returns:	What happened to the frames.
 *
 *--------------------------------------------------------------------*/

func RunSim(ctx context.Context, opts SimOptions, logger *log.Logger, out io.Writer) (SimSummary, error) {
	var summary SimSummary

	if opts.Config == nil {
		opts.Config = DefaultConfig()
	}
	if opts.Stations < 1 || opts.Frames < 0 {
		return summary, errors.Errorf("need at least one station and no negative frame count")
	}
	if logger == nil {
		logger = discardLogger()
	}

	var registry = prometheus.NewRegistry()
	var fw = &simFirmware{
		frames:    make(chan Frame, opts.Config.Pool.Buffers),
		latency:   opts.Latency,
		retryRate: opts.RetryRate,
		clock:     clock.RealClock{},
	}

	var radio Radio = fw
	if opts.Trace {
		var tr, err = NewTraceRadio(fw, out, opts.TimestampFormat, nil)
		if err != nil {
			return summary, err
		}
		radio = tr
	}

	var d, err = NewDriver(Options{
		Config:   opts.Config,
		Radio:    radio,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return summary, err
	}

	var e = d.Engine()
	if err := e.AddVif(0, opts.Role, TUs(100)); err != nil {
		return summary, err
	}
	for i := range opts.Stations {
		if err := e.AddStation(0, StationID(i), 0); err != nil {
			return summary, err
		}
	}

	var workCtx, cancel = context.WithCancel(ctx)
	defer cancel()

	var g, gctx = errgroup.WithContext(workCtx)

	if opts.MetricsAddr != "" {
		var listener, err = net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			return summary, errors.Wrap(err, "metrics listener")
		}
		var srv = &http.Server{ //nolint:exhaustruct
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), //nolint:exhaustruct
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
		logger.Info("serving metrics", "addr", listener.Addr())

		if opts.DNSSD {
			var _, portStr, _ = net.SplitHostPort(listener.Addr().String())
			var port, _ = strconv.Atoi(portStr)
			if err := AnnounceMetrics(gctx, opts.DNSSDName, port, logger); err != nil {
				logger.Warn("not announcing", "err", err)
			}
		}
	}

	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return fw.run(gctx, d) })

	var finished atomic.Int64
	var allDone = make(chan struct{})
	var total = int64(opts.Stations * opts.Frames)

	var done = func(_ BufferRef, status TxStatus, _ any) {
		switch status {
		case StatusOK:
			atomic.AddInt64(&summary.OK, 1)
		case StatusFailed:
			atomic.AddInt64(&summary.Failed, 1)
		case StatusStale:
			atomic.AddInt64(&summary.Stale, 1)
		default:
			atomic.AddInt64(&summary.Dropped, 1)
		}
		if finished.Add(1) == total {
			close(allDone)
		}
	}

	var start = time.Now()

	for i := range opts.Stations {
		var sta = StationID(i)
		g.Go(func() error {
			for n := range opts.Frames {
				var req = TxRequest{
					Vif:     0,
					Station: sta,
					TID:     TID(n % 8),
					Payload: make([]byte, 64+n%1400),
					Done:    done,
				}
				for {
					var err = d.Transmit(req)
					if err == nil {
						atomic.AddInt64(&summary.Offered, 1)
						break
					}
					if !errors.Is(err, ErrNoBuffer) && !errors.Is(err, ErrBackpressure) {
						return err
					}
					atomic.AddInt64(&summary.Refused, 1)
					select {
					case <-gctx.Done():
						return nil
					case <-time.After(time.Millisecond):
					}
				}
			}
			return nil
		})
	}

	if total > 0 {
		g.Go(func() error {
			select {
			case <-allDone:
			case <-gctx.Done():
			}
			cancel()
			return nil
		})
	} else {
		cancel()
	}

	err = g.Wait()
	summary.Elapsed = time.Since(start)
	summary.Retries = fw.retries.Load()
	summary.Leftover = d.Pool().InUse()
	return summary, err
}

/*------------------------------------------------------------------
 *
 * Name: 	SimMain
 *
 * Purpose:   	Command line front end for RunSim.
 *
 * Returns:	Process exit status.
 *
 *---------------------------------------------------------------*/

func SimMain(args []string) int {
	var flags = pflag.NewFlagSet("wlantxsim", pflag.ContinueOnError)

	var configPath = flags.StringP("config", "c", "", "YAML configuration file.")
	var stations = flags.IntP("stations", "n", 4, "Number of stations.")
	var frames = flags.IntP("frames", "f", 1000, "Frames per station.")
	var role = flags.StringP("role", "r", "ap", "Interface role: station, ap, p2p-client, p2p-go, mesh, monitor.")
	var latency = flags.DurationP("latency", "l", 100*time.Microsecond, "Firmware time per frame.")
	var retryRate = flags.Float64("retry-rate", 0.02, "Chance the firmware asks for a frame again.")
	var metricsAddr = flags.StringP("metrics", "m", "", "Serve Prometheus metrics on this address, e.g. :9100.")
	var dnssd = flags.Bool("dns-sd", false, "Announce the metrics endpoint with DNS-SD.")
	var dnssdName = flags.String("dns-sd-name", "", "DNS-SD service name.")
	var trace = flags.BoolP("trace", "t", false, "Print each frame pushed to the radio.")
	var timestampFormat = flags.StringP("timestamp-format", "T", "", "Precede traced frames with 'strftime' format time stamp.")
	var logLevel = flags.String("log-level", "", "Override log level from the configuration.")
	var version = flags.BoolP("version", "v", false, "Print version and exit.")
	var help = flags.BoolP("help", "h", false, "Display help text.")

	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "wlantxsim - Drive the transmit path with simulated stations and firmware.\n")
		fmt.Fprintf(os.Stderr, "\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *help {
		flags.Usage()
		return 0
	}

	if *version {
		PrintVersion(os.Stdout, false)
		return 0
	}

	var cfg, err = LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 1
	}

	r, err := ParseRole(*role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return 2
	}

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := RunSim(ctx, SimOptions{
		Config:          cfg,
		Stations:        *stations,
		Frames:          *frames,
		Role:            r,
		Latency:         *latency,
		RetryRate:       *retryRate,
		MetricsAddr:     *metricsAddr,
		DNSSD:           *dnssd,
		DNSSDName:       *dnssdName,
		Trace:           *trace,
		TimestampFormat: *timestampFormat,
	}, logger, os.Stdout)

	summary.Print(os.Stdout)

	if err != nil {
		logger.Error("simulation failed", "err", err)
		return 1
	}
	return 0
}
