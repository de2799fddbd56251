// Package csma implements the station sender's CSMA/CA state machine:
// sense-idle, IFS wait, RTS, await CTS, IFS wait, DATA, await ACK, with
// exponential backoff on a failed exchange. One Sender runs one send
// job at a time, mirroring the reference implementation's per-job
// send_thread (see original source client.c doCSMACA/sendRTS), adapted
// from the exponential-backoff retry loop in the teacher's serial RX
// backend.
package csma

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/jhamm/wlansim/internal/bridge"
	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/metrics"
	"github.com/jhamm/wlansim/internal/timer"
	"github.com/jhamm/wlansim/internal/wire"
)

// KMax is the retry ceiling; reaching it ends the job (spec §6).
const KMax = 32

// TimeSlot is the protocol's backoff slot base duration.
const TimeSlot = 10 * time.Microsecond

// WaitTime bounds how long a sender waits for a CTS or ACK before
// treating the attempt as failed.
const WaitTime = 2 * time.Second

// ErrAttemptsExceeded is returned when K reaches KMax without a
// successful exchange.
var ErrAttemptsExceeded = errors.New("csma: number of attempts exceeded 32")

// Job describes one outstanding send request.
type Job struct {
	Dst     wire.Addr
	Payload []byte
	Period  time.Duration
	Repeat  bool
}

// Sender drives the CSMA/CA exchange for one station.
type Sender struct {
	Name     wire.Addr
	IFS      time.Duration
	Uplink   *medium.Medium
	Downlink *medium.Medium
	Log      *slog.Logger

	// sleepFn and randN are injectable seams for deterministic tests.
	sleepFn  func(time.Duration)
	randN    func(n int) int
	timer    *timer.Timer
	waitTime time.Duration
	tap      func(ev bridge.Event, data []byte)
}

// SetTap installs an optional hardware-tap hook (internal/bridge): every
// RTS and DATA frame this sender transmits is also mirrored through it.
func (s *Sender) SetTap(tap func(ev bridge.Event, data []byte)) { s.tap = tap }

// New builds a Sender for the named station.
func New(name wire.Addr, ifs time.Duration, uplink, downlink *medium.Medium) *Sender {
	return &Sender{
		Name:     name,
		IFS:      ifs,
		Uplink:   uplink,
		Downlink: downlink,
		Log:      logging.L(),
		sleepFn:  time.Sleep,
		randN:    rand.IntN,
		timer:    timer.New(),
		waitTime: WaitTime,
	}
}

// SetSleepFn overrides the sleep seam (tests only).
func (s *Sender) SetSleepFn(fn func(time.Duration)) { s.sleepFn = fn }

// SetRandN overrides the random-slot seam (tests only).
func (s *Sender) SetRandN(fn func(int) int) { s.randN = fn }

// SetWaitTime overrides the per-attempt CTS/ACK timeout (tests only).
func (s *Sender) SetWaitTime(d time.Duration) { s.waitTime = d }

// Run executes job to completion: one attempt loop, then — if
// job.Repeat — a randomized periodic re-send, until ctx is cancelled
// (e.g. the station was killed).
func (s *Sender) Run(ctx context.Context, job Job) error {
	initialWait := time.Duration(float64(job.Period) * randFloat(s.randN))
	if err := s.sleepCtx(ctx, initialWait); err != nil {
		return err
	}
	for {
		if err := s.attempt(ctx, job); err != nil {
			if !errors.Is(err, ErrAttemptsExceeded) {
				return err
			}
			// Protocol exhaustion: job ends, but for a repeating job the
			// next period still starts fresh with K = 0.
		}
		if !job.Repeat {
			return nil
		}
		if err := s.sleepCtx(ctx, time.Duration(float64(job.Period)*randFloat(s.randN))); err != nil {
			return err
		}
	}
}

// attempt runs the RTS/CTS/DATA/ACK exchange until it succeeds or K
// reaches KMax.
func (s *Sender) attempt(ctx context.Context, job Job) error {
	K := 0
	for {
		if err := s.senseIdleAndWaitIFS(ctx); err != nil {
			return err
		}
		R := s.randN(1 << uint(min(K, 31)))

		rtsCtx, cancel := s.timer.Start(ctx, s.waitTime)
		s.Uplink.ResetFrame()
		rtsBytes := wire.EncodeRTS(wire.RTS{D: uint16(len(job.Payload)), Addr1: s.Name, Addr2: job.Dst})
		s.Uplink.WriteSlow(rtsBytes)
		metrics.IncRTSSent()
		s.Log.Info("sent_rts", "station", s.Name.String(), "dst", job.Dst.String(), "k", K)
		s.mirror(bridge.EventRTS, rtsBytes)

		ok := s.awaitControl(rtsCtx, wire.CTSSubtype)
		cancel()
		if !ok {
			metrics.IncTimeouts()
			if done := s.backoffOrFail(ctx, &K, R); done {
				return ErrAttemptsExceeded
			}
			continue
		}

		if err := s.sleepCtx(ctx, s.IFS); err != nil {
			return err
		}

		dataCtx, cancel := s.timer.Start(ctx, s.waitTime)
		s.Uplink.ResetFrame()
		dataBytes := wire.EncodeDATA(job.Payload)
		s.Uplink.WriteSlow(dataBytes)
		metrics.IncDataSent()
		s.mirror(bridge.EventDATA, dataBytes)

		ok = s.awaitControl(dataCtx, wire.ACKSubtype)
		cancel()
		if !ok {
			metrics.IncTimeouts()
			if done := s.backoffOrFail(ctx, &K, R); done {
				return ErrAttemptsExceeded
			}
			continue
		}

		s.Log.Info("exchange_complete", "station", s.Name.String(), "dst", job.Dst.String())
		return nil
	}
}

// senseIdleAndWaitIFS implements steps 1-3: spin while the uplink is
// busy, wait IFS, and re-check once before proceeding.
func (s *Sender) senseIdleAndWaitIFS(ctx context.Context) error {
	for {
		for s.Uplink.IsBusy() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			runtime.Gosched()
		}
		if err := s.sleepCtx(ctx, s.IFS); err != nil {
			return err
		}
		if !s.Uplink.IsBusy() {
			return nil
		}
	}
}

// awaitControl waits for a CTS or ACK addressed to this station on the
// downlink, ignoring frames meant for other stations until a genuinely
// new frame arrives or ctx ends.
func (s *Sender) awaitControl(ctx context.Context, want wire.Subtype) bool {
	var gen uint64
	buf := make([]byte, wire.CTSACKLen)
	for {
		g, err := s.Downlink.ReadFrame(ctx, buf, gen)
		if err != nil {
			return false
		}
		gen = g
		fr, err := wire.DecodeCTSACK(want, buf)
		if err != nil {
			if errors.Is(err, wire.ErrChecksum) {
				metrics.IncChecksumFailures()
			}
			continue
		}
		if fr.Addr1 != s.Name {
			continue
		}
		return true
	}
}

// backoffOrFail increments K and either reports exhaustion (true) or
// sleeps R*TimeSlot and returns false to signal "retry from step 1".
func (s *Sender) backoffOrFail(ctx context.Context, K *int, R int) bool {
	*K++
	if *K >= KMax {
		s.Log.Warn("Number of attempts exceeded 32", "station", s.Name.String())
		metrics.IncRetriesExceeded()
		return true
	}
	_ = s.sleepCtx(ctx, time.Duration(R)*TimeSlot)
	return false
}

// sleepCtx sleeps d via the injectable sleepFn seam while still
// honoring ctx cancellation, so a killed station's sender unblocks on
// its next suspension point rather than riding out a real sleep.
func (s *Sender) sleepCtx(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.sleepFn(d)
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// mirror forwards a sent frame to the optional hardware tap, if any.
func (s *Sender) mirror(ev bridge.Event, data []byte) {
	if s.tap != nil {
		s.tap(ev, data)
	}
}

func randFloat(randN func(int) int) float64 {
	const precision = 1 << 20
	return float64(randN(precision)) / float64(precision)
}
