package rtde

// Logger interface for protocol logging
type Logger interface {
	Printf(format string, v ...interface{})
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	DebugRTDE(direction string, packageType uint8, payload []byte)
}

// StdLogger wraps a standard logger to implement the Logger interface
type StdLogger struct {
	logger interface {
		Printf(format string, v ...interface{})
	}
}

func NewStdLogger(logger interface{ Printf(format string, v ...interface{}) }) *StdLogger {
	return &StdLogger{logger: logger}
}

func (l *StdLogger) Printf(format string, v ...interface{}) {
	l.logger.Printf(format, v...)
}

func (l *StdLogger) Debug(format string, v ...interface{}) {
	// No-op for standard logger
}

func (l *StdLogger) Info(format string, v ...interface{}) {
	l.logger.Printf(format, v...)
}

func (l *StdLogger) Warn(format string, v ...interface{}) {
	l.logger.Printf(format, v...)
}

func (l *StdLogger) Error(format string, v ...interface{}) {
	l.logger.Printf(format, v...)
}

func (l *StdLogger) DebugRTDE(direction string, packageType uint8, payload []byte) {
	// No-op for standard logger
}

// LogPacket logs a protocol package if a logger is present
func LogPacket(logger Logger, direction string, packageType uint8, payload []byte) {
	if logger != nil {
		logger.DebugRTDE(direction, packageType, payload)
	}
}

// nopLogger is the safe default when no logger is supplied
type nopLogger struct{}

func (nopLogger) Printf(format string, v ...interface{})                        {}
func (nopLogger) Debug(format string, v ...interface{})                         {}
func (nopLogger) Info(format string, v ...interface{})                          {}
func (nopLogger) Warn(format string, v ...interface{})                          {}
func (nopLogger) Error(format string, v ...interface{})                         {}
func (nopLogger) DebugRTDE(direction string, packageType uint8, payload []byte) {}
