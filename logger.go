package main

import (
	"fmt"
	"log"

	"speed-governor-service/rtde"
	"speed-governor-service/sensor"
	"speed-governor-service/speed"
)

// LeveledLogger wraps a standard logger with log level filtering
type LeveledLogger struct {
	logger   *log.Logger
	logLevel LogLevel
}

// NewLeveledLogger creates a new leveled logger
func NewLeveledLogger(logger *log.Logger, level LogLevel) *LeveledLogger {
	return &LeveledLogger{
		logger:   logger,
		logLevel: level,
	}
}

// Debug logs a message at DEBUG level
func (l *LeveledLogger) Debug(format string, v ...interface{}) {
	if l.logLevel >= LogLevelDebug {
		l.logger.Printf("[DEBUG] "+format, v...)
	}
}

// Info logs a message at INFO level
func (l *LeveledLogger) Info(format string, v ...interface{}) {
	if l.logLevel >= LogLevelInfo {
		l.logger.Printf("[INFO] "+format, v...)
	}
}

// Warn logs a message at WARN level
func (l *LeveledLogger) Warn(format string, v ...interface{}) {
	if l.logLevel >= LogLevelWarn {
		l.logger.Printf("[WARN] "+format, v...)
	}
}

// Error logs a message at ERROR level
func (l *LeveledLogger) Error(format string, v ...interface{}) {
	if l.logLevel >= LogLevelError {
		l.logger.Printf("[ERROR] "+format, v...)
	}
}

// Printf provides compatibility with standard logger - logs at INFO level
func (l *LeveledLogger) Printf(format string, v ...interface{}) {
	l.Info(format, v...)
}

// Fatalf logs a fatal error and exits
func (l *LeveledLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Fatalf("[FATAL] "+format, v...)
}

// SetLevel changes the log level
func (l *LeveledLogger) SetLevel(level LogLevel) {
	l.logLevel = level
}

// GetLevel returns the current log level
func (l *LeveledLogger) GetLevel() LogLevel {
	return l.logLevel
}

// DebugRTDE logs protocol package details at DEBUG level with formatting
func (l *LeveledLogger) DebugRTDE(direction string, packageType uint8, payload []byte) {
	if l.logLevel >= LogLevelDebug {
		dataStr := ""
		for i, b := range payload {
			if i >= 16 {
				dataStr += ".."
				break
			}
			dataStr += fmt.Sprintf("%02X ", b)
		}
		l.logger.Printf("[DEBUG] RTDE %s: Type=%v Len=%d Data=[%s]",
			direction, rtde.PackageType(packageType), len(payload), dataStr)
	}
}

// Ensure LeveledLogger implements the subsystem logger interfaces at compile time
var (
	_ rtde.Logger   = (*LeveledLogger)(nil)
	_ sensor.Logger = (*LeveledLogger)(nil)
	_ speed.Logger  = (*LeveledLogger)(nil)
)
