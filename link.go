package main

import (
	"fmt"
	"math"
	"time"

	"speed-governor-service/rtde"
)

type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkCycleActive
	LinkFaulted
)

func stringifyLinkState(state LinkState) string {
	switch state {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkCycleActive:
		return "cycle-active"
	case LinkFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Input fields the governor drives each cycle. The recipe must declare both;
// output fields are optional telemetry.
const (
	fieldSpeedMask     = "speed_slider_mask"
	fieldSpeedFraction = "speed_slider_fraction"
	fieldActualSpeed   = "actual_TCP_speed"
	fieldTargetSpeed   = "target_TCP_speed"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second

	// Controller outputs from the previous cycle are normally already
	// buffered, so this rarely blocks for its full duration.
	telemetryReadTimeout = 5 * time.Millisecond
)

// RobotLink owns the controller session and its reconnect schedule. All
// methods run on the control loop goroutine; Close only after the loop has
// stopped.
type RobotLink struct {
	log    *LeveledLogger
	addr   string
	recipe rtde.RecipeConfig
	freq   float64
	faults faultSink

	dial        func(addr string, timeout time.Duration, logger rtde.Logger) (*rtde.Client, error)
	readTimeout time.Duration

	state       LinkState
	attempts    uint32
	client      *rtde.Client
	inputs      *rtde.InputRecipe
	backoff     time.Duration
	nextAttempt time.Time

	lastFraction float64
	haveFraction bool
}

func NewRobotLink(logger *LeveledLogger, addr string, recipe rtde.RecipeConfig, freq float64, faults faultSink) (*RobotLink, error) {
	if err := validateRecipe(recipe); err != nil {
		return nil, err
	}
	return &RobotLink{
		log:         logger,
		addr:        addr,
		recipe:      recipe,
		freq:        freq,
		faults:      faults,
		dial:        rtde.Dial,
		readTimeout: telemetryReadTimeout,
		state:       LinkDisconnected,
		backoff:     initialBackoff,
	}, nil
}

// validateRecipe checks that the input recipe carries the two fields the
// governor writes
func validateRecipe(cfg rtde.RecipeConfig) error {
	need := []rtde.RecipeField{
		{Name: fieldSpeedMask, Type: rtde.TypeUint32},
		{Name: fieldSpeedFraction, Type: rtde.TypeDouble},
	}
	for _, want := range need {
		found := false
		for _, f := range cfg.Inputs {
			if f.Name == want.Name && f.Type == want.Type {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("recipe must declare input %q as %v", want.Name, want.Type)
		}
	}
	return nil
}

func (l *RobotLink) State() LinkState {
	return l.state
}

func (l *RobotLink) Attempts() uint32 {
	return l.attempts
}

// TryConnect runs one connection attempt, or nothing while the retry backoff
// still holds
func (l *RobotLink) TryConnect(now time.Time) {
	if l.state == LinkCycleActive || now.Before(l.nextAttempt) {
		return
	}

	l.attempts++
	l.setState(LinkConnecting)

	if err := l.connect(); err != nil {
		l.log.Error("Robot connection attempt %d failed: %v", l.attempts, err)
		l.scheduleRetry(now)
		l.setState(LinkFaulted)
		return
	}

	l.faults.SetFaultPresence(FaultRobotHandshake, false)
	l.faults.SetFaultPresence(FaultRecipeRejected, false)
	l.faults.SetFaultPresence(FaultRobotExchange, false)
	l.backoff = initialBackoff
	l.nextAttempt = time.Time{}
	l.haveFraction = false
	l.setState(LinkCycleActive)
	l.log.Info("Robot link active after %d attempt(s)", l.attempts)
}

func (l *RobotLink) connect() error {
	client, err := l.dial(l.addr, rtde.DefaultDialTimeout, l.log)
	if err != nil {
		l.faults.SetFaultPresence(FaultRobotHandshake, true)
		return err
	}

	if err := client.Negotiate(); err != nil {
		client.Close()
		l.faults.SetFaultPresence(FaultRobotHandshake, true)
		return err
	}

	ver, err := client.Version()
	if err != nil {
		client.Close()
		l.faults.SetFaultPresence(FaultRobotHandshake, true)
		return err
	}
	l.log.Info("Connected to controller version %v", ver)

	if err := client.SetupOutputs(l.recipe.Outputs, l.freq); err != nil {
		client.Close()
		l.faults.SetFaultPresence(FaultRecipeRejected, true)
		return err
	}

	inputs, err := client.SetupInputs(l.recipe.Inputs)
	if err != nil {
		client.Close()
		l.faults.SetFaultPresence(FaultRecipeRejected, true)
		return err
	}
	l.setState(LinkConnected)

	if err := client.Start(); err != nil {
		client.Close()
		l.faults.SetFaultPresence(FaultRobotExchange, true)
		return err
	}

	l.client = client
	l.inputs = inputs
	return nil
}

func (l *RobotLink) scheduleRetry(now time.Time) {
	l.nextAttempt = now.Add(l.backoff)
	l.log.Warn("Retrying robot connection in %v", l.backoff)
	l.backoff *= 2
	if l.backoff > maxBackoff {
		l.backoff = maxBackoff
	}
}

func (l *RobotLink) setState(state LinkState) {
	if l.state == state {
		return
	}
	l.log.Info("Robot link %s -> %s", stringifyLinkState(l.state), stringifyLinkState(state))
	l.state = state
}

// WriteSpeed commands one speed fraction. A write failure drops the session
// and schedules a reconnect.
func (l *RobotLink) WriteSpeed(now time.Time, fraction float64) error {
	if l.state != LinkCycleActive {
		return fmt.Errorf("robot link is not cycle active")
	}

	pkg := l.inputs.NewPackage()
	if err := pkg.SetUint32(fieldSpeedMask, 1); err != nil {
		return err
	}
	if err := pkg.SetDouble(fieldSpeedFraction, fraction); err != nil {
		return err
	}

	if err := l.client.Send(pkg); err != nil {
		l.log.Error("Robot link lost: %v", err)
		l.faults.SetFaultPresence(FaultRobotExchange, true)
		l.client.Close()
		l.client = nil
		l.inputs = nil
		l.scheduleRetry(now)
		l.setState(LinkFaulted)
		return err
	}

	if !l.haveFraction || fraction != l.lastFraction {
		l.log.Info("Commanded speed fraction %.2f", fraction)
		l.lastFraction = fraction
		l.haveFraction = true
	}
	return nil
}

// ReadTelemetry fetches the freshest controller outputs. Best-effort: a miss
// or an error never faults the link, the next write catches dead sessions.
func (l *RobotLink) ReadTelemetry() (RedisTelemetry, bool) {
	if l.state != LinkCycleActive {
		return RedisTelemetry{}, false
	}

	state, err := l.client.ReadOutputs(l.readTimeout)
	if err != nil || state == nil {
		return RedisTelemetry{}, false
	}

	var tel RedisTelemetry
	found := false
	if vec, ok := state.Vector6D(fieldActualSpeed); ok {
		tel.ActualSpeed = linearSpeed(vec)
		found = true
	}
	if vec, ok := state.Vector6D(fieldTargetSpeed); ok {
		tel.TargetSpeed = linearSpeed(vec)
		found = true
	}
	return tel, found
}

// linearSpeed reduces a 6D TCP speed vector to the magnitude of its
// translational part
func linearSpeed(vec [6]float64) float64 {
	return math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1] + vec[2]*vec[2])
}

// Close pauses the exchange and drops the connection
func (l *RobotLink) Close() {
	if l.client == nil {
		l.setState(LinkDisconnected)
		return
	}
	if l.state == LinkCycleActive {
		if err := l.client.Pause(); err != nil {
			l.log.Warn("Failed to pause data exchange: %v", err)
		}
	}
	l.client.Close()
	l.client = nil
	l.inputs = nil
	l.setState(LinkDisconnected)
}
