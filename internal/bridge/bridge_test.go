package bridge

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/jhamm/wlansim/internal/serial"
)

func TestChunksRoundTripEventAndSequence(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 20) // bigger than one 8-byte chunk
	frames := chunks(EventRTS, 7, data, 8)
	if len(frames) != 3 { // 8 + 8 + 4
		t.Fatalf("got %d chunks, want 3", len(frames))
	}
	for _, f := range frames {
		ev, seq := decodeEvent(f)
		if ev != EventRTS {
			t.Fatalf("event = %v, want EventRTS", ev)
		}
		if seq != 7 {
			t.Fatalf("seq = %d, want 7", seq)
		}
	}
	total := 0
	for _, f := range frames {
		total += int(f.Len)
	}
	if total != len(data) {
		t.Fatalf("total chunked bytes = %d, want %d", total, len(data))
	}
}

func TestChunksHandlesEmptyPayload(t *testing.T) {
	frames := chunks(EventACK, 1, nil, 8)
	if len(frames) != 1 {
		t.Fatalf("got %d chunks for empty payload, want 1", len(frames))
	}
	if frames[0].Len != 0 {
		t.Fatalf("Len = %d, want 0", frames[0].Len)
	}
}

// fakeSerialPort implements serial.Port, recording every Write.
type fakeSerialPort struct {
	mu      sync.Mutex
	written [][]byte
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, nil
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.written = append(f.written, cp)
	return len(p), nil
}

func (f *fakeSerialPort) Close() error { return nil }

func (f *fakeSerialPort) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestSerialTapMirrorsThroughTXWriter(t *testing.T) {
	fake := &fakeSerialPort{}
	prev := OpenSerialPort
	OpenSerialPort = func(name string, baud int, to time.Duration) (serial.Port, error) {
		return fake, nil
	}
	defer func() { OpenSerialPort = prev }()

	tap, err := OpenSerialTap("fake", 115200, 50*time.Millisecond, 16)
	if err != nil {
		t.Fatalf("OpenSerialTap: %v", err)
	}
	defer tap.Close()

	tap.Mirror(EventRTS, []byte("hello"))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && fake.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if fake.count() == 0 {
		t.Fatal("expected at least one write through the serial tap")
	}
}
