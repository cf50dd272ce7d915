package log

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type level int

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var levelPrefixes = map[level]string{
	levelDebug: "\033[37m[DBG]\033[0m", // White
	levelInfo:  "\033[36m[INF]\033[0m", // Cyan
	levelWarn:  "\033[33m[WRN]\033[0m", // Yellow
	levelError: "\033[31m[ERR]\033[0m", // Red
}

var (
	mu          sync.Mutex
	verbose     = false
	disableLogs = false
	forceStdErr = false

	// Overridable in tests.
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetVerbose sets the logging verbosity. If true, debug messages are displayed.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose logging is enabled.
func IsVerbose() bool {
	mu.Lock()
	defer mu.Unlock()
	return verbose
}

// SetForceStdErr redirects all levels to stderr, keeping stdout clean for
// command output.
func SetForceStdErr(v bool) {
	mu.Lock()
	defer mu.Unlock()
	forceStdErr = v
}

// DisableLogs disables all logging.
func DisableLogs() {
	mu.Lock()
	defer mu.Unlock()
	disableLogs = true
}

// Debugf logs a debug message if verbose is enabled.
func Debugf(format string, args ...interface{}) {
	logMessage(levelDebug, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	logMessage(levelInfo, format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...interface{}) {
	logMessage(levelWarn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	logMessage(levelError, format, args...)
}

// Fatalf logs an error message and exits the program.
func Fatalf(format string, args ...interface{}) {
	logMessage(levelError, format, args...)
	os.Exit(1)
}

func logMessage(lvl level, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if disableLogs {
		return
	}
	if lvl == levelDebug && !verbose {
		return
	}

	out := stdout
	if forceStdErr || lvl == levelError {
		out = stderr
	}

	_, _ = fmt.Fprintf(out, "%s %s\n", levelPrefixes[lvl], fmt.Sprintf(format, args...))
}
