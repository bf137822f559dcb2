package sensor

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	DefaultListenHost = "0.0.0.0"
	DefaultListenPort = 13750

	// 1 MiB kernel receive buffer so camera bursts survive scheduling gaps
	DefaultReceiveBuffer = 1 << 20

	readDeadline     = 100 * time.Millisecond
	statsLogInterval = time.Minute

	// Consecutive non-timeout read failures before Run gives up on the
	// socket
	maxReadErrorStreak = 5
)

// SampleSink receives decoded distance samples. The Mailbox is the production
// sink; the diagnostic probe supplies its own.
type SampleSink interface {
	Publish(sample DistanceSample)
}

// ListenerConfig contains configuration options for the UDP listener
type ListenerConfig struct {
	Host          string
	Port          int
	ReceiveBuffer int
}

// Listener receives distance datagrams on a UDP endpoint and publishes
// decoded samples to the sink. Malformed payloads are counted and dropped,
// never fatal; the feed owes the control loop nothing but its latest value.
type Listener struct {
	log    Logger
	sink   SampleSink
	host   string
	port   int
	rcvBuf int
	conn   *net.UDPConn

	received uint64
	dropped  uint64
}

func NewListener(logger Logger, config ListenerConfig, sink SampleSink) *Listener {
	if logger == nil {
		logger = nopLogger{}
	}

	host := config.Host
	if host == "" {
		host = DefaultListenHost
	}

	rcvBuf := config.ReceiveBuffer
	if rcvBuf == 0 {
		rcvBuf = DefaultReceiveBuffer
	}

	return &Listener{
		log:    logger,
		sink:   sink,
		host:   host,
		port:   config.Port,
		rcvBuf: rcvBuf,
	}
}

// Listen binds the UDP endpoint with SO_REUSEADDR set, so a restarted
// governor can rebind while the previous socket lingers in TIME_WAIT-like
// states. A bind failure is a startup error.
func (l *Listener) Listen() error {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var soErr error
			if err := c.Control(func(fd uintptr) {
				soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return soErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", fmt.Sprintf("%s:%d", l.host, l.port))
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s:%d: %v", l.host, l.port, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return fmt.Errorf("unexpected packet connection type %T", pc)
	}

	if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
		l.log.Warn("Failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
	}

	l.conn = conn
	l.log.Info("Distance listener bound to %s (receive buffer %d bytes)", conn.LocalAddr(), l.rcvBuf)
	return nil
}

// LocalAddr returns the bound address, nil before Listen
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run reads datagrams until the context is cancelled. Short read deadlines
// keep the loop responsive to cancellation without busy-waiting.
func (l *Listener) Run(ctx context.Context) error {
	if l.conn == nil {
		return fmt.Errorf("listener is not bound")
	}

	// Distance payloads are 4 bytes; the margin lets oversized garbage be
	// read and rejected instead of silently truncated to a valid width.
	buffer := make([]byte, 64)
	nextStatsLog := time.Now().Add(statsLogInterval)
	errStreak := 0

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Distance listener stopping")
			return ctx.Err()
		default:
			l.conn.SetReadDeadline(time.Now().Add(readDeadline))

			n, addr, err := l.conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					errStreak = 0
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errStreak++
				if errStreak >= maxReadErrorStreak {
					return fmt.Errorf("persistent UDP read errors: %v", err)
				}
				l.log.Warn("UDP read error: %v", err)
				continue
			}

			errStreak = 0
			atomic.AddUint64(&l.received, 1)

			meters, err := DecodeDistance(buffer[:n])
			if err != nil {
				atomic.AddUint64(&l.dropped, 1)
				l.log.Debug("Dropping datagram from %v: %v", addr, err)
				continue
			}

			l.sink.Publish(DistanceSample{Meters: meters, ReceivedAt: time.Now()})
		}

		if now := time.Now(); now.After(nextStatsLog) {
			received, dropped := l.Stats()
			l.log.Debug("Distance feed stats: received=%d dropped=%d", received, dropped)
			nextStatsLog = now.Add(statsLogInterval)
		}
	}
}

// Stats returns the number of datagrams received and dropped since start
func (l *Listener) Stats() (received, dropped uint64) {
	return atomic.LoadUint64(&l.received), atomic.LoadUint64(&l.dropped)
}

// Close releases the UDP endpoint
func (l *Listener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
