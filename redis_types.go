package main

// Redis message types for governor status updates
type RedisSpeedStatus struct {
	Fraction float64
	Tier     int
	Policy   string
}

type RedisLinkStatus struct {
	State    string
	Attempts uint32
}

type RedisFeedStatus struct {
	Distance float64
	AgeMs    int64
	Feed     string // live, stale or none
}

type RedisTelemetry struct {
	ActualSpeed float64 // TCP speed magnitude in m/s
	TargetSpeed float64
}
