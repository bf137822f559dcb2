package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"speed-governor-service/rtde"
)

var testRecipe = rtde.RecipeConfig{
	Inputs: []rtde.RecipeField{
		{Name: "speed_slider_mask", Type: rtde.TypeUint32},
		{Name: "speed_slider_fraction", Type: rtde.TypeDouble},
	},
	Outputs: []rtde.RecipeField{
		{Name: "actual_TCP_speed", Type: rtde.TypeVector6D},
		{Name: "target_TCP_speed", Type: rtde.TypeVector6D},
	},
}

type robotEvent struct {
	pt      rtde.PackageType
	payload []byte
}

// robotScript answers controller requests on the far end of a pipe
type robotScript struct {
	protoAccept byte
	inTypes     string
	outTypes    string
	startAccept byte
	events      chan robotEvent
}

func newRobotScript() *robotScript {
	return &robotScript{
		protoAccept: 1,
		inTypes:     "UINT32,DOUBLE",
		outTypes:    "VECTOR6D,VECTOR6D",
		startAccept: 1,
		events:      make(chan robotEvent, 64),
	}
}

func (s *robotScript) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		pt, payload, err := rtde.ReadPackage(r)
		if err != nil {
			return
		}
		select {
		case s.events <- robotEvent{pt, payload}:
		default:
		}
		switch pt {
		case rtde.PkgRequestProtocolVersion:
			rtde.WritePackage(conn, pt, []byte{s.protoAccept})
		case rtde.PkgGetURControlVersion:
			rtde.WritePackage(conn, pt, make([]byte, 16))
		case rtde.PkgControlSetupOutputs:
			rtde.WritePackage(conn, pt, append([]byte{1}, s.outTypes...))
		case rtde.PkgControlSetupInputs:
			rtde.WritePackage(conn, pt, append([]byte{2}, s.inTypes...))
		case rtde.PkgControlStart:
			rtde.WritePackage(conn, pt, []byte{s.startAccept})
		case rtde.PkgControlPause:
			rtde.WritePackage(conn, pt, []byte{1})
		}
	}
}

// awaitEvent drains the script's event stream until the wanted package shows
// up
func awaitEvent(t *testing.T, script *robotScript, want rtde.PackageType) []byte {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-script.events:
			if ev.pt == want {
				return ev.payload
			}
		case <-deadline:
			t.Fatalf("controller never saw %v", want)
		}
	}
}

// newScriptedLink wires a RobotLink to an in-memory controller. Every dial
// gets a fresh pipe, mirroring a reconnect.
func newScriptedLink(t *testing.T, script *robotScript, faults *fakeFaults) (*RobotLink, func() net.Conn) {
	t.Helper()

	link, err := NewRobotLink(newTestLogger(), "test:30004", testRecipe, 100, faults)
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}

	var srv net.Conn
	link.dial = func(addr string, timeout time.Duration, logger rtde.Logger) (*rtde.Client, error) {
		cli, s := net.Pipe()
		srv = s
		go script.serve(s)
		return rtde.NewClient(cli, logger), nil
	}
	link.readTimeout = time.Second

	t.Cleanup(func() {
		link.Close()
		if srv != nil {
			srv.Close()
		}
	})

	return link, func() net.Conn { return srv }
}

func TestRobotLinkRecipeValidation(t *testing.T) {
	missing := rtde.RecipeConfig{
		Inputs:  []rtde.RecipeField{{Name: "speed_slider_mask", Type: rtde.TypeUint32}},
		Outputs: testRecipe.Outputs,
	}
	if _, err := NewRobotLink(newTestLogger(), "test:30004", missing, 100, &fakeFaults{}); err == nil {
		t.Error("expected error for recipe without the fraction input")
	}

	wrongType := rtde.RecipeConfig{
		Inputs: []rtde.RecipeField{
			{Name: "speed_slider_mask", Type: rtde.TypeUint32},
			{Name: "speed_slider_fraction", Type: rtde.TypeUint32},
		},
		Outputs: testRecipe.Outputs,
	}
	if _, err := NewRobotLink(newTestLogger(), "test:30004", wrongType, 100, &fakeFaults{}); err == nil {
		t.Error("expected error for mistyped fraction input")
	}

	// With every input missing the error names the mask field first.
	empty := rtde.RecipeConfig{Outputs: testRecipe.Outputs}
	_, err := NewRobotLink(newTestLogger(), "test:30004", empty, 100, &fakeFaults{})
	if err == nil {
		t.Fatal("expected error for recipe without inputs")
	}
	if !strings.Contains(err.Error(), fieldSpeedMask) {
		t.Errorf("expected %q in the error, got %q", fieldSpeedMask, err)
	}
}

func TestRobotLinkDialFailureAndBackoff(t *testing.T) {
	faults := &fakeFaults{}
	link, err := NewRobotLink(newTestLogger(), "test:30004", testRecipe, 100, faults)
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	link.dial = func(addr string, timeout time.Duration, logger rtde.Logger) (*rtde.Client, error) {
		return nil, errors.New("connection refused")
	}

	now := time.Now()
	link.TryConnect(now)

	if link.State() != LinkFaulted {
		t.Errorf("expected faulted, got %s", stringifyLinkState(link.State()))
	}
	if link.Attempts() != 1 {
		t.Errorf("expected 1 attempt, got %d", link.Attempts())
	}
	if !faults.present(FaultRobotHandshake) {
		t.Error("expected handshake fault to be present")
	}

	// Inside the 500ms backoff window nothing happens
	link.TryConnect(now.Add(100 * time.Millisecond))
	if link.Attempts() != 1 {
		t.Errorf("expected backoff to gate the retry, got %d attempts", link.Attempts())
	}

	link.TryConnect(now.Add(600 * time.Millisecond))
	if link.Attempts() != 2 {
		t.Errorf("expected 2 attempts after the window, got %d", link.Attempts())
	}

	// The window doubled to one second
	link.TryConnect(now.Add(1200 * time.Millisecond))
	if link.Attempts() != 2 {
		t.Errorf("expected doubled backoff to gate the retry, got %d attempts", link.Attempts())
	}
	link.TryConnect(now.Add(1700 * time.Millisecond))
	if link.Attempts() != 3 {
		t.Errorf("expected 3 attempts, got %d", link.Attempts())
	}
}

func TestRobotLinkHandshakeRejected(t *testing.T) {
	script := newRobotScript()
	script.protoAccept = 0
	faults := &fakeFaults{}
	link, _ := newScriptedLink(t, script, faults)

	link.TryConnect(time.Now())

	if link.State() != LinkFaulted {
		t.Errorf("expected faulted, got %s", stringifyLinkState(link.State()))
	}
	if !faults.present(FaultRobotHandshake) {
		t.Error("expected handshake fault to be present")
	}
}

func TestRobotLinkRecipeRejected(t *testing.T) {
	script := newRobotScript()
	script.inTypes = "NOT_FOUND,DOUBLE"
	faults := &fakeFaults{}
	link, _ := newScriptedLink(t, script, faults)

	link.TryConnect(time.Now())

	if link.State() != LinkFaulted {
		t.Errorf("expected faulted, got %s", stringifyLinkState(link.State()))
	}
	if !faults.present(FaultRecipeRejected) {
		t.Error("expected recipe fault to be present")
	}
	if faults.present(FaultRobotHandshake) {
		t.Error("handshake fault should not be raised for a recipe rejection")
	}
}

func TestRobotLinkStartRefused(t *testing.T) {
	script := newRobotScript()
	script.startAccept = 0
	faults := &fakeFaults{}
	link, _ := newScriptedLink(t, script, faults)

	link.TryConnect(time.Now())

	if link.State() != LinkFaulted {
		t.Errorf("expected faulted, got %s", stringifyLinkState(link.State()))
	}
	if !faults.present(FaultRobotExchange) {
		t.Error("expected exchange fault to be present")
	}
}

func TestRobotLinkConnectWriteRead(t *testing.T) {
	script := newRobotScript()
	faults := &fakeFaults{}
	link, srv := newScriptedLink(t, script, faults)

	now := time.Now()
	link.TryConnect(now)

	if link.State() != LinkCycleActive {
		t.Fatalf("expected cycle active, got %s", stringifyLinkState(link.State()))
	}
	if faults.present(FaultRobotHandshake) || faults.present(FaultRecipeRejected) || faults.present(FaultRobotExchange) {
		t.Error("expected robot faults cleared after connect")
	}

	if err := link.WriteSpeed(now, 0.7); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data := awaitEvent(t, script, rtde.PkgDataPackage)
	if len(data) != 13 {
		t.Fatalf("expected 13 byte data payload, got %d", len(data))
	}
	if data[0] != 2 {
		t.Errorf("expected input recipe id 2, got %d", data[0])
	}
	if got := binary.BigEndian.Uint32(data[1:5]); got != 1 {
		t.Errorf("expected takeover mask 1, got %d", got)
	}
	if got := math.Float64frombits(binary.BigEndian.Uint64(data[5:13])); got != 0.7 {
		t.Errorf("expected fraction 0.7, got %v", got)
	}

	// Controller publishes one output cycle: |(3,4,0)| = 5, |(6,8,0)| = 10
	payload := []byte{1}
	vals := [...]float64{3, 4, 0, 0, 0, 0, 6, 8, 0, 0, 0, 0}
	for _, v := range vals {
		payload = binary.BigEndian.AppendUint64(payload, math.Float64bits(v))
	}
	var frame bytes.Buffer
	if err := rtde.WritePackage(&frame, rtde.PkgDataPackage, payload); err != nil {
		t.Fatalf("failed to frame outputs: %v", err)
	}
	go srv().Write(frame.Bytes())

	tel, ok := link.ReadTelemetry()
	if !ok {
		t.Fatal("expected telemetry")
	}
	if tel.ActualSpeed != 5 || tel.TargetSpeed != 10 {
		t.Errorf("unexpected telemetry: %+v", tel)
	}
}

func TestRobotLinkWriteFailureDropsSession(t *testing.T) {
	script := newRobotScript()
	faults := &fakeFaults{}
	link, srv := newScriptedLink(t, script, faults)

	now := time.Now()
	link.TryConnect(now)
	if link.State() != LinkCycleActive {
		t.Fatalf("expected cycle active, got %s", stringifyLinkState(link.State()))
	}

	// Controller dies under us
	srv().Close()

	if err := link.WriteSpeed(now, 0.5); err == nil {
		t.Fatal("expected write to a dead controller to fail")
	}
	if link.State() != LinkFaulted {
		t.Errorf("expected faulted, got %s", stringifyLinkState(link.State()))
	}
	if !faults.present(FaultRobotExchange) {
		t.Error("expected exchange fault to be present")
	}

	// After the backoff window the link comes back on a fresh session
	link.TryConnect(now.Add(time.Second))
	if link.State() != LinkCycleActive {
		t.Errorf("expected cycle active after reconnect, got %s", stringifyLinkState(link.State()))
	}
	if link.Attempts() != 2 {
		t.Errorf("expected 2 attempts, got %d", link.Attempts())
	}
	if faults.present(FaultRobotExchange) {
		t.Error("expected exchange fault cleared after reconnect")
	}
}

func TestRobotLinkWriteRequiresActiveCycle(t *testing.T) {
	link, err := NewRobotLink(newTestLogger(), "test:30004", testRecipe, 100, &fakeFaults{})
	if err != nil {
		t.Fatalf("failed to create link: %v", err)
	}
	if err := link.WriteSpeed(time.Now(), 0.5); err == nil {
		t.Error("expected write on an inactive link to fail")
	}
}

func TestRobotLinkCloseSendsPause(t *testing.T) {
	script := newRobotScript()
	link, _ := newScriptedLink(t, script, &fakeFaults{})

	link.TryConnect(time.Now())
	if link.State() != LinkCycleActive {
		t.Fatalf("expected cycle active, got %s", stringifyLinkState(link.State()))
	}

	link.Close()

	if link.State() != LinkDisconnected {
		t.Errorf("expected disconnected after close, got %s", stringifyLinkState(link.State()))
	}
	awaitEvent(t, script, rtde.PkgControlPause)
}
