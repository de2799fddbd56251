// Package station models a station's lifecycle: a control channel that
// accepts Send and Deliver messages, a table mapping station names to
// their handles, and the station receiver that logs delivered payloads.
// The table's map-plus-mutex shape follows internal/hub.Hub's
// Add/Remove/Snapshot idiom, generalized from "broadcast client" to
// "named station."
package station

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jhamm/wlansim/internal/bridge"
	"github.com/jhamm/wlansim/internal/csma"
	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/metrics"
	"github.com/jhamm/wlansim/internal/wire"
)

// ErrUnknownStation is returned when a task names a station that does
// not exist in the table.
var ErrUnknownStation = errors.New("station: unknown station")

// Deliver is pushed onto a station's control channel by the AP receiver
// once a DATA frame addressed to it has validated.
type Deliver struct {
	Payload []byte
	From    wire.Addr
}

type ctrlMsg struct {
	send    *csma.Job
	deliver *Deliver
}

// Station is one station's worker: it owns a control channel and spawns
// one sender goroutine per outstanding send job.
type Station struct {
	Name Addr
	ifs  time.Duration

	uplink   *medium.Medium
	downlink *medium.Medium
	log      *slog.Logger
	tap      func(ev bridge.Event, data []byte)
	waitTime time.Duration
	sleepFn  func(time.Duration)
	randN    func(int) int

	ctrl      chan ctrlMsg
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Addr is an alias kept local so callers need not import wire directly
// just to name a station.
type Addr = wire.Addr

func newStation(name Addr, ifs time.Duration, uplink, downlink *medium.Medium, log *slog.Logger, tap func(ev bridge.Event, data []byte), waitTime time.Duration, sleepFn func(time.Duration), randN func(int) int) *Station {
	return &Station{
		Name:     name,
		ifs:      ifs,
		uplink:   uplink,
		downlink: downlink,
		log:      log,
		tap:      tap,
		waitTime: waitTime,
		sleepFn:  sleepFn,
		randN:    randN,
		ctrl:     make(chan ctrlMsg, 8),
		done:     make(chan struct{}),
	}
}

// run is the station worker loop: blocked on its control channel,
// spawning a sender per Send and logging each Deliver.
func (s *Station) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer close(s.done)
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.ctrl:
			if !ok {
				return
			}
			switch {
			case m.send != nil:
				job := *m.send
				wg.Add(1)
				go func() {
					defer wg.Done()
					sender := csma.New(s.Name, s.ifs, s.uplink, s.downlink)
					sender.Log = s.log
					if s.tap != nil {
						sender.SetTap(s.tap)
					}
					if s.waitTime > 0 {
						sender.SetWaitTime(s.waitTime)
					}
					if s.sleepFn != nil {
						sender.SetSleepFn(s.sleepFn)
					}
					if s.randN != nil {
						sender.SetRandN(s.randN)
					}
					if err := sender.Run(ctx, job); err != nil && ctx.Err() == nil {
						s.log.Warn("send_job_ended", "station", s.Name.String(), "error", err)
					}
				}()
			case m.deliver != nil:
				s.log.Info("Received Message " + string(m.deliver.Payload) + " from " + m.deliver.From.String())
				metrics.IncPayloadsDelivered()
			}
		}
	}
}

// Send enqueues a send job on the station's control channel. Safe to
// call concurrently; a best-effort no-op once the station is closing.
func (s *Station) Send(job csma.Job) {
	select {
	case <-s.done:
	case s.ctrl <- ctrlMsg{send: &job}:
	}
}

// deliver enqueues a Deliver message. Unexported: only Table.Deliver
// reaches into a station this way, after looking it up under the
// table's lock.
func (s *Station) deliver(d Deliver) {
	select {
	case <-s.done:
	case s.ctrl <- ctrlMsg{deliver: &d}:
	}
}

// close cancels the station's context and waits for its worker to
// return, so a killed station's senders terminate before Table.Kill
// returns.
func (s *Station) close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

// Table maps station names to handles, protected by one mutex for the
// whole operation per the concurrency model's station-table invariant.
type Table struct {
	mu         sync.RWMutex
	stations   map[Addr]*Station
	uplink     *medium.Medium
	downlink   *medium.Medium
	log        *slog.Logger
	logFactory func(name Addr) *slog.Logger
	tap        func(ev bridge.Event, data []byte)
	waitTime   time.Duration
	sleepFn    func(time.Duration)
	randN      func(int) int
	ctx        context.Context
}

// NewTable creates an empty station table bound to the given media.
func NewTable(ctx context.Context, uplink, downlink *medium.Medium) *Table {
	return &Table{
		stations: make(map[Addr]*Station),
		uplink:   uplink,
		downlink: downlink,
		log:      logging.L(),
		ctx:      ctx,
	}
}

// SetLogFactory installs a per-station logger factory, used so each
// station's Deliver line lands in its own output file (the "one log
// file per station" layout) instead of the shared process logger.
func (t *Table) SetLogFactory(f func(name Addr) *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logFactory = f
}

// SetTap installs an optional hardware-tap hook, propagated to every
// station's sender so RTS/DATA transmissions are mirrored alongside the
// AP's CTS/ACK transmissions.
func (t *Table) SetTap(tap func(ev bridge.Event, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tap = tap
}

// SetWaitTime overrides the per-attempt CTS/ACK timeout every station's
// sender uses (tests only; production relies on csma.WaitTime).
func (t *Table) SetWaitTime(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.waitTime = d
}

// SetSleepFn overrides the sleep seam every station's sender uses for
// IFS waits, periodic jitter and backoff slots (tests only).
func (t *Table) SetSleepFn(fn func(time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sleepFn = fn
}

// SetRandN overrides the random-slot seam every station's sender uses
// to pick its backoff interval and period jitter (tests only).
func (t *Table) SetRandN(fn func(int) int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.randN = fn
}

// Create adds a station, spawning its worker goroutine. Re-creating an
// existing name is a no-op that leaves the station's ifs unchanged.
func (t *Table) Create(name Addr, ifs time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.stations[name]; exists {
		return
	}
	log := t.log
	if t.logFactory != nil {
		log = t.logFactory(name)
	}
	st := newStation(name, ifs, t.uplink, t.downlink, log, t.tap, t.waitTime, t.sleepFn, t.randN)
	t.stations[name] = st
	ctx, cancel := context.WithCancel(t.ctx)
	st.cancel = cancel
	go st.run(ctx)
	metrics.SetActiveStations(len(t.stations))
	t.log.Info("station_created", "station", name.String(), "ifs", ifs)
}

// Send looks up src and hands it the job. Returns ErrUnknownStation if
// src does not exist; callers log and drop per the dispatcher's
// semantic-error handling.
func (t *Table) Send(src, dst Addr, payload []byte, period time.Duration, repeat bool) error {
	t.mu.RLock()
	st, ok := t.stations[src]
	t.mu.RUnlock()
	if !ok {
		return ErrUnknownStation
	}
	st.Send(csma.Job{Dst: dst, Payload: payload, Period: period, Repeat: repeat})
	return nil
}

// Deliver routes a validated DATA payload to its destination station.
// Returns false if dst is unknown, so the AP receiver can log and skip
// the ACK per its "unknown addr2" failure mode.
func (t *Table) Deliver(dst Addr, payload []byte, from Addr) bool {
	t.mu.RLock()
	st, ok := t.stations[dst]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	st.deliver(Deliver{Payload: payload, From: from})
	return true
}

// Kill removes a station from the table and terminates its worker
// (and, transitively, any in-flight sender) before returning. Killing
// an unknown name is a logged no-op.
func (t *Table) Kill(name Addr) {
	t.mu.Lock()
	st, ok := t.stations[name]
	if ok {
		delete(t.stations, name)
	}
	count := len(t.stations)
	t.mu.Unlock()
	if !ok {
		t.log.Warn("kill_unknown_station", "station", name.String())
		return
	}
	st.close()
	metrics.SetActiveStations(count)
	t.log.Info("station_killed", "station", name.String())
}

// Count reports the number of live stations.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.stations)
}
