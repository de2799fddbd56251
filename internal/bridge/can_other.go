//go:build !linux

package bridge

import "fmt"

// CANTap is unavailable on non-linux builds; SocketCAN is Linux-only.
type CANTap struct{}

// OpenCANTap always fails on non-linux platforms.
func OpenCANTap(iface string, txQueueSize int) (*CANTap, error) {
	return nil, fmt.Errorf("bridge: CAN tap unsupported on this platform")
}

// Mirror is a no-op; no CANTap value can exist on this platform.
func (t *CANTap) Mirror(ev Event, data []byte) {}

// Close is a no-op.
func (t *CANTap) Close() error { return nil }
