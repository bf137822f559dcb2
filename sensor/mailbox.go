package sensor

import "sync"

// Mailbox is a single-slot holder for the most recent distance sample.
// Publishing overwrites unconditionally (last write wins, no queueing);
// reading never consumes, so the control loop can act on the same sample
// across ticks. One writer and one reader share it with nothing held beyond
// the lock window.
type Mailbox struct {
	mu     sync.RWMutex
	sample DistanceSample
	valid  bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Publish replaces the held sample
func (m *Mailbox) Publish(sample DistanceSample) {
	m.mu.Lock()
	m.sample = sample
	m.valid = true
	m.mu.Unlock()
}

// Latest returns the most recent sample without consuming it. ok is false
// while no sample has ever arrived.
func (m *Mailbox) Latest() (DistanceSample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample, m.valid
}
