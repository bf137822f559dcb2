package sensor

import (
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"
)

func encodeDistance(meters float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(meters))
	return buf
}

// --- DecodeDistance tests ---

func TestDecodeDistance_Valid(t *testing.T) {
	meters, err := DecodeDistance(encodeDistance(2.5))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if meters != 2.5 {
		t.Errorf("expected 2.5, got %v", meters)
	}
}

func TestDecodeDistance_NegativeAllowed(t *testing.T) {
	// Negative readings decode fine; the decision engine clamps them.
	meters, err := DecodeDistance(encodeDistance(-1.0))
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if meters != -1.0 {
		t.Errorf("expected -1.0, got %v", meters)
	}
}

func TestDecodeDistance_WrongSize(t *testing.T) {
	for _, size := range []int{0, 1, 3, 5, 8, 64} {
		if _, err := DecodeDistance(make([]byte, size)); err == nil {
			t.Errorf("expected error for %d byte payload, got none", size)
		}
	}
}

func TestDecodeDistance_NonFinite(t *testing.T) {
	nan := make([]byte, 4)
	binary.LittleEndian.PutUint32(nan, math.Float32bits(float32(math.NaN())))
	if _, err := DecodeDistance(nan); err == nil {
		t.Error("expected error for NaN payload, got none")
	}

	inf := make([]byte, 4)
	binary.LittleEndian.PutUint32(inf, math.Float32bits(float32(math.Inf(1))))
	if _, err := DecodeDistance(inf); err == nil {
		t.Error("expected error for +Inf payload, got none")
	}
}

// --- Mailbox tests ---

func TestMailbox_EmptyUntilFirstPublish(t *testing.T) {
	m := NewMailbox()
	if _, ok := m.Latest(); ok {
		t.Error("expected empty mailbox before first publish")
	}
}

func TestMailbox_LastWriteWins(t *testing.T) {
	m := NewMailbox()
	now := time.Now()

	m.Publish(DistanceSample{Meters: 1.0, ReceivedAt: now})
	m.Publish(DistanceSample{Meters: 2.0, ReceivedAt: now.Add(time.Millisecond)})

	sample, ok := m.Latest()
	if !ok {
		t.Fatal("expected a sample")
	}
	if sample.Meters != 2.0 {
		t.Errorf("expected the later sample (2.0), got %v", sample.Meters)
	}
}

func TestMailbox_LatestDoesNotConsume(t *testing.T) {
	m := NewMailbox()
	m.Publish(DistanceSample{Meters: 3.5, ReceivedAt: time.Now()})

	for i := 0; i < 3; i++ {
		sample, ok := m.Latest()
		if !ok || sample.Meters != 3.5 {
			t.Fatalf("read %d: expected (3.5, true), got (%v, %v)", i, sample.Meters, ok)
		}
	}
}

func TestMailbox_ConcurrentPublishAndRead(t *testing.T) {
	m := NewMailbox()
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			m.Publish(DistanceSample{Meters: float64(i), ReceivedAt: time.Now()})
		}
		close(done)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				if sample, ok := m.Latest(); ok && (sample.Meters < 0 || sample.Meters > 999) {
					t.Errorf("torn read: %v", sample.Meters)
					return
				}
			}
		}
	}()
	wg.Wait()

	sample, ok := m.Latest()
	if !ok || sample.Meters != 999 {
		t.Errorf("expected final sample 999, got (%v, %v)", sample.Meters, ok)
	}
}
