package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jhamm/wlansim/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rts_sent", snap.RTSSent,
					"cts_sent", snap.CTSSent,
					"data_sent", snap.DataSent,
					"ack_sent", snap.AckSent,
					"payloads_delivered", snap.PayloadsDelivered,
					"checksum_failures", snap.ChecksumFailures,
					"timeouts", snap.Timeouts,
					"retries_exceeded", snap.RetriesExceeded,
					"unknown_station", snap.UnknownStation,
					"active_stations", snap.ActiveStations,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
