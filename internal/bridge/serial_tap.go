package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/serial"
)

// SerialTap mirrors WLAN frame events onto a serial line via tarm/serial,
// funneled through the teacher's single-goroutine TXWriter so a slow or
// wedged port never blocks the simulator's protocol goroutines.
type SerialTap struct {
	w    *serial.TXWriter
	port serial.Port
	log  *slog.Logger
	seq  uint16
}

// OpenSerialPort is a hook so tests can intercept the hardware open
// call (mirrors the teacher's openSerialPort seam in backend_serial.go).
var OpenSerialPort = serial.Open

// OpenSerialTap opens device at baud and returns a ready-to-use tap.
func OpenSerialTap(device string, baud int, readTimeout time.Duration, txQueueSize int) (*SerialTap, error) {
	port, err := OpenSerialPort(device, baud, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("bridge: open serial tap %s: %w", device, err)
	}
	log := logging.L()
	log.Info("bridge_serial_tap_open", "device", device, "baud", baud)
	w := serial.NewTXWriter(context.Background(), port, serial.Codec{}, txQueueSize)
	return &SerialTap{w: w, port: port, log: log}, nil
}

// Mirror queues ev's bytes for transmission on the serial tap. Errors are
// logged, never propagated — a tap failing never affects the protocol.
func (t *SerialTap) Mirror(ev Event, data []byte) {
	t.seq++
	for _, fr := range chunks(ev, t.seq, data, 8) {
		if err := t.w.SendFrame(fr); err != nil {
			t.log.Warn("bridge_serial_tap_drop", "error", err)
		}
	}
}

// Close stops the tap's writer and closes the underlying port.
func (t *SerialTap) Close() error {
	t.w.Close()
	return t.port.Close()
}
