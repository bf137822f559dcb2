package main

import (
	"log"
	"time"

	"speed-governor-service/speed"
)

type LogLevel int

const (
	LogLevelNone  LogLevel = 0
	LogLevelError LogLevel = 1
	LogLevelWarn  LogLevel = 2
	LogLevelInfo  LogLevel = 3
	LogLevelDebug LogLevel = 4
)

type Options struct {
	LogLevel        LogLevel
	RedisServerAddr string
	RedisServerPort uint16
	RobotHost       string
	RobotPort       uint16
	UDPHost         string
	UDPPort         uint16
	RecipePath      string
	PolicyType      speed.PolicyType
	TierSpec        string
	MinTimesLow     int
	MinTimesHigh    int
	Frequency       float64
	FeedTimeout     time.Duration
	Logger          *log.Logger
}
