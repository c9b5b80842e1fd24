package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// current holds the active level; readers never block writers
var current atomic.Int32

func init() {
	current.Store(int32(INFO))
}

// ParseLogLevel converts a config string to a LogLevel, defaulting to INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the global log level from a config string
func SetLogLevel(level string) {
	current.Store(int32(ParseLogLevel(level)))
}

// GetLogLevel returns the active level as a string
func GetLogLevel() string {
	switch LogLevel(current.Load()) {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func logMessage(level LogLevel, tag string, format string, v ...interface{}) {
	if level < LogLevel(current.Load()) {
		return
	}
	log.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs debug level messages
func Debug(format string, v ...interface{}) {
	logMessage(DEBUG, "DEBUG", format, v...)
}

// Info logs info level messages
func Info(format string, v ...interface{}) {
	logMessage(INFO, "INFO", format, v...)
}

// Warn logs warning level messages
func Warn(format string, v ...interface{}) {
	logMessage(WARN, "WARN", format, v...)
}

// Error logs error level messages
func Error(format string, v ...interface{}) {
	logMessage(ERROR, "ERROR", format, v...)
}
