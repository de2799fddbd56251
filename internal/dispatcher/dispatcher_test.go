package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/station"
	"github.com/jhamm/wlansim/internal/wire"
)

func TestTasksProcessedInArrivalOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := medium.New(0)
	down := medium.New(0)
	tbl := station.NewTable(ctx, up, down)
	d := New(tbl, 8)
	go d.Run(ctx)

	d.Enqueue(Task{Create: &CreateStation{Name: wire.NewAddr("A"), IFS: time.Millisecond}})
	d.Enqueue(Task{Create: &CreateStation{Name: wire.NewAddr("B"), IFS: time.Millisecond}})
	d.Enqueue(Task{Send: &Send{Src: wire.NewAddr("A"), Dst: wire.NewAddr("B"), Payload: []byte("hi")}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tbl.Count() == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if tbl.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", tbl.Count())
	}

	// The Send names A as its source, so it reaches a sender only if it
	// was processed after A's CreateStation; an RTS on the uplink shows it.
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && up.Written() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if up.Written() == 0 {
		t.Fatal("Send task was not handed to station A after its CreateStation")
	}
}

func TestSendWithUnknownSourceIsDroppedNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := medium.New(0)
	down := medium.New(0)
	tbl := station.NewTable(ctx, up, down)
	d := New(tbl, 4)
	go d.Run(ctx)

	d.Enqueue(Task{Send: &Send{Src: wire.NewAddr("GHOST"), Dst: wire.NewAddr("B"), Payload: []byte("x")}})
	// Dropping must not stall the dispatcher; a subsequent task should
	// still be processed.
	d.Enqueue(Task{Create: &CreateStation{Name: wire.NewAddr("C"), IFS: time.Millisecond}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tbl.Count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatcher stalled after dropping an unknown-source send")
}

func TestKillStationRemovesIt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := medium.New(0)
	down := medium.New(0)
	tbl := station.NewTable(ctx, up, down)
	d := New(tbl, 4)
	go d.Run(ctx)

	d.Enqueue(Task{Create: &CreateStation{Name: wire.NewAddr("A"), IFS: time.Millisecond}})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && tbl.Count() != 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if tbl.Count() != 1 {
		t.Fatal("station was never created")
	}

	d.Enqueue(Task{Kill: &KillStation{Name: wire.NewAddr("A")}})

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tbl.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("station was not removed after KillStation")
}
