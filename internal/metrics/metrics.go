// Package metrics exposes Prometheus counters and gauges describing the
// CSMA/CA simulator, plus a tiny local-atomic mirror for cheap periodic
// logging without scraping Prometheus in-process.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jhamm/wlansim/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters and gauges.
var (
	RTSSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rts_sent_total",
		Help: "Total RTS frames transmitted by stations.",
	})
	CTSSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cts_sent_total",
		Help: "Total CTS frames transmitted by the access point.",
	})
	DataSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "data_sent_total",
		Help: "Total DATA frames transmitted by stations.",
	})
	AckSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ack_sent_total",
		Help: "Total ACK frames transmitted by the access point.",
	})
	PayloadsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payloads_delivered_total",
		Help: "Total payloads delivered to destination stations.",
	})
	ChecksumFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checksum_failures_total",
		Help: "Total frames dropped for FCS mismatch.",
	})
	Timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timeouts_total",
		Help: "Total CTS/ACK wait timeouts observed by senders.",
	})
	RetriesExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retries_exceeded_total",
		Help: "Total send jobs abandoned after exhausting the retry budget.",
	})
	UnknownStation = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unknown_station_total",
		Help: "Total DATA frames addressed to an unknown station.",
	})
	ActiveStations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_stations",
		Help: "Current number of live stations.",
	})
	BackoffSlotMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backoff_slot_max",
		Help: "Largest backoff slot (R) observed in the most recent sampling window.",
	})
	BridgeFramesMirrored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_frames_mirrored_total",
		Help: "Total wire-event chunks written out by a hardware tap (serial or SocketCAN).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrDispatcher = "dispatcher"
	ErrAP         = "ap"
	ErrStation    = "station"
	ErrBridge     = "bridge"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging.
var (
	localRTS              uint64
	localCTS              uint64
	localData             uint64
	localAck              uint64
	localDelivered        uint64
	localChecksumFailures uint64
	localTimeouts         uint64
	localRetriesExceeded  uint64
	localUnknownStation   uint64
	localActiveStations   uint64
	localErrors           uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	RTSSent           uint64
	CTSSent           uint64
	DataSent          uint64
	AckSent           uint64
	PayloadsDelivered uint64
	ChecksumFailures  uint64
	Timeouts          uint64
	RetriesExceeded   uint64
	UnknownStation    uint64
	ActiveStations    uint64
	Errors            uint64
}

// Snap returns the current local counter snapshot.
func Snap() Snapshot {
	return Snapshot{
		RTSSent:           atomic.LoadUint64(&localRTS),
		CTSSent:           atomic.LoadUint64(&localCTS),
		DataSent:          atomic.LoadUint64(&localData),
		AckSent:           atomic.LoadUint64(&localAck),
		PayloadsDelivered: atomic.LoadUint64(&localDelivered),
		ChecksumFailures:  atomic.LoadUint64(&localChecksumFailures),
		Timeouts:          atomic.LoadUint64(&localTimeouts),
		RetriesExceeded:   atomic.LoadUint64(&localRetriesExceeded),
		UnknownStation:    atomic.LoadUint64(&localUnknownStation),
		ActiveStations:    atomic.LoadUint64(&localActiveStations),
		Errors:            atomic.LoadUint64(&localErrors),
	}
}

func IncRTSSent()           { RTSSent.Inc(); atomic.AddUint64(&localRTS, 1) }
func IncCTSSent()           { CTSSent.Inc(); atomic.AddUint64(&localCTS, 1) }
func IncDataSent()          { DataSent.Inc(); atomic.AddUint64(&localData, 1) }
func IncAckSent()           { AckSent.Inc(); atomic.AddUint64(&localAck, 1) }
func IncPayloadsDelivered() { PayloadsDelivered.Inc(); atomic.AddUint64(&localDelivered, 1) }
func IncChecksumFailures()  { ChecksumFailures.Inc(); atomic.AddUint64(&localChecksumFailures, 1) }
func IncTimeouts()          { Timeouts.Inc(); atomic.AddUint64(&localTimeouts, 1) }
func IncRetriesExceeded()   { RetriesExceeded.Inc(); atomic.AddUint64(&localRetriesExceeded, 1) }
func IncUnknownStation()    { UnknownStation.Inc(); atomic.AddUint64(&localUnknownStation, 1) }
func IncBridgeFramesMirrored() { BridgeFramesMirrored.Inc() }

func SetActiveStations(n int) {
	ActiveStations.Set(float64(n))
	atomic.StoreUint64(&localActiveStations, uint64(n))
}

func SetBackoffSlotMax(n int) { BackoffSlotMax.Set(float64(n)) }

func IncError(where string) {
	Errors.WithLabelValues(where).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build-info gauge; call once at startup.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrDispatcher, ErrAP, ErrStation, ErrBridge} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
