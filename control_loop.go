package main

import (
	"context"
	"time"

	"speed-governor-service/sensor"
	"speed-governor-service/speed"
)

// actuatorLink is the loop's view of the robot connection
type actuatorLink interface {
	State() LinkState
	Attempts() uint32
	TryConnect(now time.Time)
	WriteSpeed(now time.Time, fraction float64) error
	ReadTelemetry() (RedisTelemetry, bool)
}

// statusSink is the loop's view of IPC publishing
type statusSink interface {
	SendSpeed(data RedisSpeedStatus) error
	SendLink(data RedisLinkStatus) error
	SendFeed(data RedisFeedStatus) error
	SendTelemetry(data RedisTelemetry) error
}

// ControlLoop drives one decision cycle at a fixed frequency: read the
// freshest distance, decide a speed fraction, command the robot. Reconnect
// attempts and command writes never happen in the same tick.
type ControlLoop struct {
	log         *LeveledLogger
	mailbox     *sensor.Mailbox
	policy      speed.Policy
	link        actuatorLink
	ipc         statusSink
	faults      faultSink
	freq        float64
	period      time.Duration
	feedTimeout time.Duration

	ticks       uint64
	statusEvery uint64

	lastSpeed RedisSpeedStatus
	haveSpeed bool
	lastLink  RedisLinkStatus
	haveLink  bool
	lastFeed  string
	feedSeen  bool
	feedStale bool
}

func NewControlLoop(logger *LeveledLogger, mailbox *sensor.Mailbox, policy speed.Policy,
	link actuatorLink, ipc statusSink, faults faultSink,
	freq float64, feedTimeout time.Duration) *ControlLoop {

	statusEvery := uint64(freq + 0.5)
	if statusEvery == 0 {
		statusEvery = 1
	}

	return &ControlLoop{
		log:         logger,
		mailbox:     mailbox,
		policy:      policy,
		link:        link,
		ipc:         ipc,
		faults:      faults,
		freq:        freq,
		period:      time.Duration(float64(time.Second) / freq),
		feedTimeout: feedTimeout,
		statusEvery: statusEvery,
	}
}

// Run ticks until ctx is cancelled. Ticker semantics drop missed ticks, so a
// slow cycle never produces a burst of catch-up commands.
func (c *ControlLoop) Run(ctx context.Context) {
	c.log.Info("Control loop running at %.1f Hz", c.freq)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("Control loop stopped")
			return
		case now := <-ticker.C:
			c.tick(now)
		}
	}
}

func (c *ControlLoop) tick(now time.Time) {
	c.ticks++

	sample, ok := c.mailbox.Latest()
	var age time.Duration
	feed := "none"
	valid := false
	if ok {
		age = now.Sub(sample.ReceivedAt)
		if age <= c.feedTimeout {
			feed = "live"
			valid = true
		} else {
			feed = "stale"
		}
	}
	c.trackFeed(feed)

	fraction := c.policy.Decide(sample.Meters, valid)

	if c.link.State() == LinkCycleActive {
		if err := c.link.WriteSpeed(now, fraction); err == nil {
			if tel, got := c.link.ReadTelemetry(); got && c.periodicDue() {
				if err := c.ipc.SendTelemetry(tel); err != nil {
					c.log.Warn("Failed to publish telemetry: %v", err)
				}
			}
		}
	} else {
		c.link.TryConnect(now)
	}

	c.publishSpeed(fraction)
	c.publishLink()
	if feed != c.lastFeed || c.periodicDue() {
		c.lastFeed = feed
		c.publishFeed(sample.Meters, age, feed)
	}
}

// trackFeed logs and reports staleness episodes, once per transition
func (c *ControlLoop) trackFeed(feed string) {
	switch feed {
	case "live":
		if !c.feedSeen {
			c.feedSeen = true
			c.log.Info("Distance feed live")
		}
		if c.feedStale {
			c.feedStale = false
			c.log.Info("Distance feed recovered")
			c.faults.SetFaultPresence(FaultFeedStale, false)
		}
	case "stale":
		if !c.feedStale {
			c.feedStale = true
			c.log.Warn("Distance feed stale, commanding lowest tier")
			c.faults.SetFaultPresence(FaultFeedStale, true)
		}
	}
}

func (c *ControlLoop) periodicDue() bool {
	return c.ticks%c.statusEvery == 0
}

func (c *ControlLoop) publishSpeed(fraction float64) {
	status := RedisSpeedStatus{
		Fraction: fraction,
		Tier:     int(c.policy.Tier()),
		Policy:   c.policy.Describe(),
	}
	if c.haveSpeed && status == c.lastSpeed {
		return
	}
	c.haveSpeed = true
	c.lastSpeed = status

	if err := c.ipc.SendSpeed(status); err != nil {
		c.log.Warn("Failed to publish speed status: %v", err)
	}
}

func (c *ControlLoop) publishLink() {
	status := RedisLinkStatus{
		State:    stringifyLinkState(c.link.State()),
		Attempts: c.link.Attempts(),
	}
	if c.haveLink && status == c.lastLink {
		return
	}
	c.haveLink = true
	c.lastLink = status

	if err := c.ipc.SendLink(status); err != nil {
		c.log.Warn("Failed to publish link status: %v", err)
	}
}

func (c *ControlLoop) publishFeed(distance float64, age time.Duration, feed string) {
	status := RedisFeedStatus{
		Distance: distance,
		AgeMs:    age.Milliseconds(),
		Feed:     feed,
	}
	if err := c.ipc.SendFeed(status); err != nil {
		c.log.Warn("Failed to publish feed status: %v", err)
	}
}
