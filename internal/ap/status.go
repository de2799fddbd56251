package ap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/metrics"
)

// StatusServer is a tiny read-only TCP listener: each connection gets
// one JSON status line and is then closed. It carries no protocol of
// its own — the simulated 802.11 exchange is the protocol; this is a
// diagnostics tap, trimmed from Server.Serve/acceptOnce's persistent
// accept loop down to a single request/response per connection.
type StatusServer struct {
	mu        sync.RWMutex
	addr      string
	logger    *slog.Logger
	stations  stationCounter
	readyOnce sync.Once
	readyCh   chan struct{}
}

// stationCounter is the minimal view StatusServer needs of the station
// table; *station.Table satisfies it.
type stationCounter interface {
	Count() int
}

// StatusOption configures a StatusServer.
type StatusOption func(*StatusServer)

// WithStatusLogger overrides the default logger.
func WithStatusLogger(l *slog.Logger) StatusOption {
	return func(s *StatusServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStatusServer builds a status server bound to addr (e.g. ":9000").
func NewStatusServer(addr string, stations stationCounter, opts ...StatusOption) *StatusServer {
	s := &StatusServer{
		addr:     addr,
		logger:   logging.L(),
		stations: stations,
		readyCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ready closes once the listener is bound.
func (s *StatusServer) Ready() <-chan struct{} { return s.readyCh }

// Addr returns the bound address once Serve has started listening.
func (s *StatusServer) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

type statusLine struct {
	Stations          int    `json:"stations"`
	RTSSent           uint64 `json:"rts_sent"`
	CTSSent           uint64 `json:"cts_sent"`
	DataSent          uint64 `json:"data_sent"`
	AckSent           uint64 `json:"ack_sent"`
	PayloadsDelivered uint64 `json:"payloads_delivered"`
	ChecksumFailures  uint64 `json:"checksum_failures"`
	Timeouts          uint64 `json:"timeouts"`
	RetriesExceeded   uint64 `json:"retries_exceeded"`
	UnknownStation    uint64 `json:"unknown_station"`
}

// Serve accepts connections on addr until ctx is cancelled, writing one
// status line per connection before closing it.
func (s *StatusServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("ap: status listen: %w", err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("status_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("ap: status accept: %w", err)
		}
		s.handle(conn)
	}
}

func (s *StatusServer) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	snap := metrics.Snap()
	line := statusLine{
		Stations:          s.stations.Count(),
		RTSSent:           snap.RTSSent,
		CTSSent:           snap.CTSSent,
		DataSent:          snap.DataSent,
		AckSent:           snap.AckSent,
		PayloadsDelivered: snap.PayloadsDelivered,
		ChecksumFailures:  snap.ChecksumFailures,
		Timeouts:          snap.Timeouts,
		RetriesExceeded:   snap.RetriesExceeded,
		UnknownStation:    snap.UnknownStation,
	}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(line); err != nil {
		s.logger.Warn("status_write_failed", "error", err)
	}
}
