//go:build linux

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jhamm/wlansim/internal/logging"
	"github.com/jhamm/wlansim/internal/socketcan"
)

// CANTap mirrors WLAN frame events onto a real SocketCAN interface.
// Classic CAN frames carry at most 8 payload bytes, so longer events
// (an RTS or a multi-byte DATA frame) are split across several frames.
type CANTap struct {
	w    *socketcan.TXWriter
	dev  socketcan.Dev
	log  *slog.Logger
	seq  uint16
}

// OpenSocketCANDevice is a hook so tests can intercept the hardware
// open call.
var OpenSocketCANDevice = func(iface string) (socketcan.Dev, error) { return socketcan.Open(iface) }

// OpenCANTap opens iface and returns a ready-to-use tap.
func OpenCANTap(iface string, txQueueSize int) (*CANTap, error) {
	dev, err := OpenSocketCANDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("bridge: open CAN tap %s: %w", iface, err)
	}
	log := logging.L()
	log.Info("bridge_can_tap_open", "if", iface)
	w := socketcan.NewTXWriter(context.Background(), dev, txQueueSize)
	return &CANTap{w: w, dev: dev, log: log}, nil
}

// Mirror queues ev's bytes for transmission on the CAN tap, chunked to
// the classic CAN MTU of 8 payload bytes per frame.
func (t *CANTap) Mirror(ev Event, data []byte) {
	t.seq++
	for _, fr := range chunks(ev, t.seq, data, 8) {
		if err := t.w.SendFrame(fr); err != nil {
			t.log.Warn("bridge_can_tap_drop", "error", err)
		}
	}
}

// Close stops the tap's writer and closes the underlying device.
func (t *CANTap) Close() error {
	t.w.Close()
	return t.dev.Close()
}
