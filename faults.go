package main

type GovernorFault uint32

const (
	FaultNone GovernorFault = iota
	FaultRobotHandshake
	FaultRobotExchange
	FaultRecipeRejected
	FaultFeedStale
	FaultSensorSocket
)

type FaultSeverity int

const (
	SeverityWarning FaultSeverity = iota
	SeverityCritical
)

type FaultConfig struct {
	Code        GovernorFault
	Description string
	Severity    FaultSeverity
}

var faultConfigs = map[GovernorFault]FaultConfig{
	FaultRobotHandshake: {FaultRobotHandshake, "Robot handshake failed", SeverityCritical},
	FaultRobotExchange:  {FaultRobotExchange, "Robot data exchange failed", SeverityCritical},
	FaultRecipeRejected: {FaultRecipeRejected, "Exchange recipe rejected", SeverityCritical},
	FaultFeedStale:      {FaultFeedStale, "Distance feed stale", SeverityWarning},
	FaultSensorSocket:   {FaultSensorSocket, "Sensor socket error", SeverityWarning},
}

func GetFaultConfig(fault GovernorFault) (FaultConfig, bool) {
	config, ok := faultConfigs[fault]
	return config, ok
}

// faultSink is the reporting surface components raise and clear faults through
type faultSink interface {
	SetFaultPresence(fault GovernorFault, present bool)
}

