package mobie

import "time"

// ModeFlag is the lowest severity that gets logged.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
)

var (
	// Verbose turns on debug messages regardless of the log mode.
	Verbose bool

	mode = InfoMode
)

// Logger is the sink for messages of all severities.  Formatting follows fmt.Printf.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed, e.g.,
// SetLogMode(mobie.WarningMode) drops Debugf and Infof messages.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

func debugOn() bool {
	return mode <= DebugMode || Verbose
}

func Debugf(format string, args ...interface{}) {
	if debugOn() {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// Shutdown closes the package logger.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time since its creation to messages, e.g.
//
//	timedLog := mobie.NewTimeLog()
//	...
//	timedLog.Infof("%s finished", job)
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{logger, time.Now()}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		t.logger.Infof(format+": %s\n", append(args, time.Since(t.start))...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	t.logger.Errorf(format+": %s\n", append(args, time.Since(t.start))...)
}
