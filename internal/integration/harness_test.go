// Package integration wires the full stack — taskscript, dispatcher,
// station.Table, csma.Sender and ap.AP over real media.Medium values —
// to exercise the end-to-end scenarios in a way no single package's
// unit tests can, following cmd/can-server/backend_test.go's fixture
// style (full-stack harness, poll-until-true assertions) before that
// file was retired along with cmd/can-server.
package integration

import (
	"bytes"
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jhamm/wlansim/internal/ap"
	"github.com/jhamm/wlansim/internal/dispatcher"
	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/medium"
	"github.com/jhamm/wlansim/internal/station"
	"github.com/jhamm/wlansim/internal/taskscript"
	"github.com/jhamm/wlansim/internal/wire"
)

// encodeRTS builds a well-formed encoded RTS frame for use as a fault
// injection fixture, letting tests corrupt a byte after encoding
// instead of hand-assembling a frame layout.
func encodeRTS(t *testing.T, addr1, addr2 string, payloadLen int) []byte {
	t.Helper()
	return wire.EncodeRTS(wire.RTS{
		D:     uint16(payloadLen),
		Addr1: wire.NewAddr(addr1),
		Addr2: wire.NewAddr(addr2),
	})
}

// logBuffer is a concurrency-safe sink used in place of a real output
// file, so tests can assert on a station's or the AP's log text.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *logBuffer) Count(substr string) int {
	return strings.Count(b.String(), substr)
}

// harness assembles one uplink/downlink pair, a station table, a
// dispatcher and an AP receiver, with a separate log file stand-in per
// station plus one for the AP, matching the persistent state layout
// cmd/wlansim builds against real files.
type harness struct {
	t        *testing.T
	uplink   *medium.Medium
	downlink *medium.Medium
	tbl      *station.Table
	disp     *dispatcher.Dispatcher
	ap       *ap.AP
	cancel   context.CancelFunc

	mu   sync.Mutex
	logs map[string]*logBuffer
}

// newHarness starts the full stack. waitTime, if nonzero, overrides the
// default 2-second CTS/ACK timeout so scenarios that force retries or
// exhaustion do not take real protocol time to run.
func newHarness(t *testing.T, waitTime time.Duration) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:        t,
		uplink:   medium.New(0),
		downlink: medium.New(0),
		cancel:   cancel,
		logs:     make(map[string]*logBuffer),
	}

	h.tbl = station.NewTable(ctx, h.uplink, h.downlink)
	h.tbl.SetLogFactory(func(name station.Addr) *slog.Logger {
		return logging.New("text", slog.LevelInfo, h.logFor(name.String()))
	})
	if waitTime > 0 {
		h.tbl.SetWaitTime(waitTime)
	}

	apLog := logging.New("text", slog.LevelInfo, h.logFor("ap"))
	h.ap = ap.New(h.uplink, h.downlink, h.tbl, ap.WithLogger(apLog))

	h.disp = dispatcher.New(h.tbl, 64)

	go h.ap.Serve(ctx)
	<-h.ap.Ready()
	go h.disp.Run(ctx)

	t.Cleanup(cancel)
	return h
}

func (h *harness) logFor(name string) *logBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.logs[name]
	if !ok {
		b = &logBuffer{}
		h.logs[name] = b
	}
	return b
}

func (h *harness) log(name string) *logBuffer { return h.logFor(name) }

// run parses script as a task stream and enqueues every task in order,
// the same path cmd/wlansim.loadTasks uses against a real file.
func (h *harness) run(script string) {
	h.t.Helper()
	tasks, err := taskscript.Read(strings.NewReader(script))
	if err != nil {
		h.t.Fatalf("taskscript.Read: %v", err)
	}
	for _, task := range tasks {
		h.disp.Enqueue(task)
	}
}

// fastSleep replaces a real sleep with a short, fixed one, keeping
// scheduling order intact while collapsing what would otherwise be
// real-time backoff and jitter delays.
func fastSleep(time.Duration) { time.Sleep(time.Microsecond) }

// cappedRandN bounds the slot and jitter range a sender draws from to
// at most 8, so exponential backoff at high K still produces a short
// sleep instead of one scaled to 2^K slots.
func cappedRandN(n int) int {
	if n > 8 {
		n = 8
	}
	return rand.IntN(n)
}

// waitUntil polls cond every 5ms until it reports true or timeout
// elapses, failing the test in the latter case.
func waitUntil(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("timed out waiting for: %s", msg)
	}
}
