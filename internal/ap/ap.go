// Package ap implements the access point's receiver loop: read RTS,
// validate, CTS, read DATA, validate, deliver and ACK, clearing
// uplink.busy unconditionally before the next outer iteration. The
// Serve/Ready shape follows internal/server.Server; the
// validate-then-respond sequence follows original source ap.c's
// process_request / send_ack_cts / deliver_message.
package ap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jhamm/wlansim/internal/bridge"
	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/metrics"
	"github.com/jhamm/wlansim/internal/station"
	"github.com/jhamm/wlansim/internal/wire"
)

// pollTimeout bounds how long one outer iteration waits for an RTS
// before looping back to re-check ctx; it is not a protocol constant,
// just how often the accept loop gets a chance to notice shutdown.
const pollTimeout = 500 * time.Millisecond

// AP is the access point's receiver.
type AP struct {
	Uplink   *medium.Medium
	Downlink *medium.Medium
	Stations *station.Table
	log      *slog.Logger
	tap      func(ev bridge.Event, data []byte)

	readyCh  chan struct{}
	readyOne sync.Once
}

// Option configures an AP at construction time.
type Option func(*AP)

// WithLogger overrides the AP's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *AP) {
		if l != nil {
			a.log = l
		}
	}
}

// WithTap installs an optional hardware-tap hook (internal/bridge): every
// CTS and ACK the receiver sends is also mirrored through it. A nil tap
// (the default) disables mirroring entirely.
func WithTap(tap func(ev bridge.Event, data []byte)) Option {
	return func(a *AP) { a.tap = tap }
}

// New builds an AP receiver bound to the given media and station table.
func New(uplink, downlink *medium.Medium, stations *station.Table, opts ...Option) *AP {
	a := &AP{
		Uplink:   uplink,
		Downlink: downlink,
		Stations: stations,
		log:      logging.L(),
		readyCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Ready closes once the receiver has entered its serve loop.
func (a *AP) Ready() <-chan struct{} { return a.readyCh }

// Serve runs the receiver loop until ctx is cancelled.
func (a *AP) Serve(ctx context.Context) error {
	a.readyOne.Do(func() { close(a.readyCh) })
	a.log.Info("ap_ready")
	var gen uint64
	for {
		if ctx.Err() != nil {
			return nil
		}
		g, err := a.receiveOnce(ctx, gen)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		gen = g
	}
}

// receiveOnce runs one outer iteration: wait for an RTS, and if one
// arrives, run the rest of the exchange. busy is always cleared before
// returning, whether the exchange completed, failed validation, or
// timed out.
func (a *AP) receiveOnce(ctx context.Context, sinceGen uint64) (uint64, error) {
	rtsCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	rtsBuf := make([]byte, wire.RTSLen)
	gen, err := a.Uplink.ReadFrame(rtsCtx, rtsBuf, sinceGen)
	if err != nil {
		if ctx.Err() != nil {
			return sinceGen, ctx.Err()
		}
		// Ordinary poll timeout: no station transmitted this round.
		return sinceGen, nil
	}

	a.Uplink.SetBusy(true)
	defer a.Uplink.SetBusy(false)

	rts, err := wire.DecodeRTS(rtsBuf)
	if err != nil {
		switch {
		case errors.Is(err, wire.ErrChecksum):
			a.log.Warn("Checksum Validation Failed")
			metrics.IncChecksumFailures()
		case errors.Is(err, wire.ErrSubtype):
			a.log.Warn("unknown_traffic_type")
		}
		return gen, nil
	}

	a.Downlink.ResetFrame()
	cts := wire.EncodeCTSACK(wire.CTSSubtype, rts.Addr1)
	a.Downlink.Write(cts)
	metrics.IncCTSSent()
	a.log.Info("sent_cts", "to", rts.Addr1.String())
	a.mirror(bridge.EventCTS, cts)

	dataCtx, dataCancel := context.WithTimeout(ctx, pollTimeout)
	defer dataCancel()
	dataBuf := make([]byte, int(rts.D)+4)
	dataGen, err := a.Uplink.ReadFrame(dataCtx, dataBuf, gen)
	if err != nil {
		a.log.Warn("timed_out_waiting_for_data", "from", rts.Addr1.String())
		metrics.IncTimeouts()
		return gen, nil
	}

	payload, err := wire.DecodeDATA(dataBuf, int(rts.D))
	if err != nil {
		a.log.Warn("Checksum Validation Failed")
		metrics.IncChecksumFailures()
		return dataGen, nil
	}

	if !a.Stations.Deliver(rts.Addr2, payload, rts.Addr1) {
		a.log.Warn("Unknown Station " + rts.Addr2.String())
		metrics.IncUnknownStation()
		return dataGen, nil
	}

	a.Downlink.ResetFrame()
	ack := wire.EncodeCTSACK(wire.ACKSubtype, rts.Addr1)
	a.Downlink.Write(ack)
	metrics.IncAckSent()
	a.log.Info("sent_ack", "to", rts.Addr1.String())
	a.mirror(bridge.EventACK, ack)

	return dataGen, nil
}

// mirror forwards a sent frame to the optional hardware tap, if any.
func (a *AP) mirror(ev bridge.Event, data []byte) {
	if a.tap != nil {
		a.tap(ev, data)
	}
}
