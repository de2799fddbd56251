// Package dispatcher consumes the single-producer task stream produced
// by the operator surface (internal/taskscript) and applies each task
// to the station table in arrival order. The switch-on-kind shape
// follows cmd/can-server/backend.go's backend selector; the task kinds
// and their semantic-error handling follow original source ap.c's
// process_tasks (create_node / send_message / kill_childid).
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/station"
	"github.com/jhamm/wlansim/internal/wire"
)

// CreateStation spawns a station worker; idempotent on a duplicate name.
type CreateStation struct {
	Name wire.Addr
	IFS  time.Duration
}

// Send hands a send job to an existing station.
type Send struct {
	Src, Dst wire.Addr
	Payload  []byte
	Period   time.Duration
	Repeat   bool
}

// KillStation removes a station and terminates its worker.
type KillStation struct {
	Name wire.Addr
}

// Task is a tagged union of the three task kinds; exactly one field is
// set per value.
type Task struct {
	Create *CreateStation
	Send   *Send
	Kill   *KillStation
}

// Dispatcher is the single consumer of the task queue.
type Dispatcher struct {
	tasks    chan Task
	stations *station.Table
	log      *slog.Logger
}

// New creates a Dispatcher bound to stations, with a queue of the given
// buffer size (0 makes the queue synchronous — the producer blocks
// until the dispatcher is ready for the next task).
func New(stations *station.Table, bufSize int) *Dispatcher {
	return &Dispatcher{
		tasks:    make(chan Task, bufSize),
		stations: stations,
		log:      logging.L(),
	}
}

// Enqueue hands one task to the dispatcher. The single producer calls
// this; it blocks if the queue is full.
func (d *Dispatcher) Enqueue(t Task) { d.tasks <- t }

// Run drains the queue in arrival order until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			d.process(t)
		}
	}
}

func (d *Dispatcher) process(t Task) {
	switch {
	case t.Create != nil:
		d.stations.Create(t.Create.Name, t.Create.IFS)
	case t.Send != nil:
		if err := d.stations.Send(t.Send.Src, t.Send.Dst, t.Send.Payload, t.Send.Period, t.Send.Repeat); err != nil {
			d.log.Warn("send_dropped_unknown_source", "src", t.Send.Src.String(), "error", err)
		}
	case t.Kill != nil:
		d.stations.Kill(t.Kill.Name)
	}
}
