package sensor

import (
	"context"
	"net"
	"testing"
	"time"
)

func startTestListener(t *testing.T, sink SampleSink) *Listener {
	t.Helper()

	l := NewListener(nil, ListenerConfig{Host: "127.0.0.1", Port: 0}, sink)
	if err := l.Listen(); err != nil {
		t.Fatalf("failed to bind test listener: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)

	t.Cleanup(func() {
		cancel()
		l.Close()
	})

	return l
}

func sendDatagram(t *testing.T, addr net.Addr, payload []byte) {
	t.Helper()

	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial test listener: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("failed to send datagram: %v", err)
	}
}

func waitForDistance(t *testing.T, m *Mailbox, want float64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sample, ok := m.Latest(); ok && sample.Meters == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	sample, ok := m.Latest()
	t.Fatalf("timed out waiting for %v in mailbox (have %v, ok=%v)", want, sample.Meters, ok)
}

func TestListener_PublishesDecodedSamples(t *testing.T) {
	mailbox := NewMailbox()
	l := startTestListener(t, mailbox)

	sendDatagram(t, l.LocalAddr(), encodeDistance(3.25))
	waitForDistance(t, mailbox, 3.25)

	sample, _ := mailbox.Latest()
	if sample.ReceivedAt.IsZero() {
		t.Error("expected a receive timestamp on the sample")
	}
}

func TestListener_DropsMalformedAndKeepsGoing(t *testing.T) {
	mailbox := NewMailbox()
	l := startTestListener(t, mailbox)

	sendDatagram(t, l.LocalAddr(), []byte{0x01, 0x02, 0x03}) // wrong width
	sendDatagram(t, l.LocalAddr(), encodeDistance(1.5))
	waitForDistance(t, mailbox, 1.5)

	received, dropped := l.Stats()
	if received < 2 {
		t.Errorf("expected at least 2 datagrams received, got %d", received)
	}
	if dropped < 1 {
		t.Errorf("expected at least 1 datagram dropped, got %d", dropped)
	}
}

func TestListener_OverwritesWithLatest(t *testing.T) {
	mailbox := NewMailbox()
	l := startTestListener(t, mailbox)

	sendDatagram(t, l.LocalAddr(), encodeDistance(4.0))
	waitForDistance(t, mailbox, 4.0)
	sendDatagram(t, l.LocalAddr(), encodeDistance(0.5))
	waitForDistance(t, mailbox, 0.5)
}

func TestListener_RunRequiresBind(t *testing.T) {
	l := NewListener(nil, ListenerConfig{Host: "127.0.0.1"}, NewMailbox())
	if err := l.Run(context.Background()); err == nil {
		t.Error("expected error when running an unbound listener")
	}
}
