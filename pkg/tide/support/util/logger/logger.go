// Package logger provides the levelled logging utility used across tide.
// It wraps the standard `log` package and filters messages by level, so every
// component (queue, engine, store, publisher) writes through the same sink.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is used for detailed diagnostic output such as per-iteration progress.
	LevelDebug LogLevel = iota
	// LevelInfo is used for lifecycle messages (delivery received, work finished).
	LevelInfo
	// LevelWarn is used for recoverable anomalies (dropped payloads, cancellations, publish drops).
	LevelWarn
	// LevelError is used for failures that abort a delivery.
	LevelError
	// LevelFatal terminates the process after logging.
	LevelFatal
)

var (
	mu       sync.RWMutex
	logLevel = LevelInfo
	std      = log.New(os.Stderr, "", log.LstdFlags)
)

// ParseLevel converts a level name ("DEBUG", "INFO", "WARN", "ERROR", "FATAL",
// case-insensitive) into a LogLevel. The boolean is false for unknown names.
func ParseLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG", "TRACE":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

// SetLogLevel sets the global log level.
// Unknown values fall back to INFO and a notice is printed to standard output.
func SetLogLevel(level string) {
	lvl, ok := ParseLevel(level)
	if !ok {
		fmt.Printf("Unknown log level '%s' specified. Defaulting to INFO level.\n", level)
	}
	mu.Lock()
	logLevel = lvl
	mu.Unlock()
}

// GetLogLevel returns the current global log level.
func GetLogLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	std.SetOutput(w)
	mu.Unlock()
}

func enabled(level LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel <= level
}

func output(prefix, format string, v ...interface{}) {
	_ = std.Output(3, prefix+fmt.Sprintf(format, v...))
}

// Debugf formats and outputs a DEBUG level log message.
func Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		output("[DEBUG] ", format, v...)
	}
}

// Infof formats and outputs an INFO level log message.
func Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		output("[INFO] ", format, v...)
	}
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	if enabled(LevelWarn) {
		output("[WARN] ", format, v...)
	}
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		output("[ERROR] ", format, v...)
	}
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	output("[FATAL] ", format, v...)
	os.Exit(1)
}
