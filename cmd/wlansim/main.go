package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/jhamm/wlansim/internal/ap"
	"github.com/jhamm/wlansim/internal/bridge"
	"github.com/jhamm/wlansim/internal/dispatcher"
	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/metrics"
	"github.com/jhamm/wlansim/internal/station"
	"github.com/jhamm/wlansim/internal/taskscript"
)

// version/commit/date are overridden at build time via -ldflags
// "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("wlansim %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		l.Error("out_dir_create_failed", "dir", cfg.outDir, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	uplink := medium.New(0)
	downlink := medium.New(0)

	stations := station.NewTable(ctx, uplink, downlink)
	stations.SetLogFactory(func(name station.Addr) *slog.Logger {
		return stationLogger(cfg, name.String())
	})

	tap, cleanupBridges := startBridges(ctx, cfg, l)
	defer cleanupBridges()
	if tap != nil {
		stations.SetTap(tap)
	}

	apLog := stationLogger(cfg, "ap")
	apOpts := []ap.Option{ap.WithLogger(apLog)}
	if tap != nil {
		apOpts = append(apOpts, ap.WithTap(tap))
	}
	accessPoint := ap.New(uplink, downlink, stations, apOpts...)

	disp := dispatcher.New(stations, 64)
	wg.Add(1)
	go func() {
		defer wg.Done()
		disp.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := accessPoint.Serve(ctx); err != nil && ctx.Err() == nil {
			l.Error("ap_serve_error", "error", err)
			cancel()
		}
	}()

	if err := loadTasks(cfg, disp, l); err != nil {
		l.Error("task_load_error", "error", err)
		cancel()
		wg.Wait()
		os.Exit(1)
	}

	var statusSrv *ap.StatusServer
	if cfg.statusAddr != "" {
		statusSrv = ap.NewStatusServer(cfg.statusAddr, stations, ap.WithStatusLogger(l))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := statusSrv.Serve(ctx); err != nil && ctx.Err() == nil {
				l.Error("status_serve_error", "error", err)
			}
		}()
	}

	// Start mDNS advertisement once the status listener is ready.
	go func() {
		if !cfg.mdnsEnable || statusSrv == nil {
			return
		}
		select {
		case <-statusSrv.Ready():
		case <-ctx.Done():
			return
		}
		addr := statusSrv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	wg.Wait()
}

// stationLogger opens (or reuses) out/<name>.log and wraps it in a
// logger at the configured format and level, per the "one log file per
// station, one for the AP" persistent-state layout.
func stationLogger(cfg *appConfig, name string) *slog.Logger {
	path := filepath.Join(cfg.outDir, name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	var w io.Writer = os.Stderr
	if err != nil {
		logging.L().Warn("station_log_open_failed", "station", name, "error", err)
	} else {
		w = f
	}
	var lvl slog.Level
	switch cfg.logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return logging.New(cfg.logFormat, lvl, w).With("station", name)
}

// loadTasks reads cfg.taskFile (or stdin) and enqueues every task onto
// disp before returning, so all tasks present at startup are ordered
// ahead of anything a longer-lived future operator surface might add.
func loadTasks(cfg *appConfig, disp *dispatcher.Dispatcher, l *slog.Logger) error {
	var r io.Reader
	if cfg.taskFile == "" || cfg.taskFile == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(cfg.taskFile)
		if err != nil {
			return fmt.Errorf("open task file: %w", err)
		}
		defer f.Close()
		r = f
	}
	tasks, err := taskscript.Read(r)
	if err != nil {
		return err
	}
	l.Info("tasks_loaded", "count", len(tasks))
	for _, t := range tasks {
		disp.Enqueue(t)
	}
	return nil
}

// startBridges opens the configured optional hardware taps and returns
// a combined mirror function (nil if none were opened) plus a cleanup
// function that closes whichever ones were opened.
func startBridges(ctx context.Context, cfg *appConfig, l *slog.Logger) (func(ev bridge.Event, data []byte), func()) {
	var closers []func() error
	var mirrors []func(ev bridge.Event, data []byte)

	if cfg.bridgeSerialDev != "" {
		tap, err := bridge.OpenSerialTap(cfg.bridgeSerialDev, cfg.bridgeSerialBaud, 0, 32)
		if err != nil {
			l.Warn("bridge_serial_open_failed", "device", cfg.bridgeSerialDev, "error", err)
		} else {
			closers = append(closers, tap.Close)
			mirrors = append(mirrors, tap.Mirror)
		}
	}
	if cfg.bridgeCANIf != "" {
		tap, err := bridge.OpenCANTap(cfg.bridgeCANIf, 32)
		if err != nil {
			l.Warn("bridge_can_open_failed", "if", cfg.bridgeCANIf, "error", err)
		} else {
			closers = append(closers, tap.Close)
			mirrors = append(mirrors, tap.Mirror)
		}
	}
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	if len(mirrors) == 0 {
		return nil, cleanup
	}
	return func(ev bridge.Event, data []byte) {
		for _, m := range mirrors {
			m(ev, data)
		}
	}, cleanup
}
