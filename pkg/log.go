package pkg

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component identifies a subsystem for log filtering.
type Component string

// Adapter stack component identifiers.
const (
	ComponentDevice    Component = "device"
	ComponentHost      Component = "host"
	ComponentCAN       Component = "can"
	ComponentControl   Component = "control"
	ComponentTransport Component = "transport"
	ComponentPool      Component = "pool"
	ComponentStack     Component = "stack"
	ComponentEndpoint  Component = "endpoint"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the adapter stack.
	DefaultLogger *logrus.Logger

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	DefaultLogger = logrus.New()
	DefaultLogger.SetOutput(os.Stderr)
	DefaultLogger.SetLevel(logrus.WarnLevel)
}

// SetLogLevel sets the minimum log level for all adapter stack logging.
func SetLogLevel(level logrus.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.SetLevel(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() logrus.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger.GetLevel()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *logrus.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat configures the default logger's formatter.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	switch format {
	case LogFormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		DefaultLogger.SetFormatter(&logrus.TextFormatter{})
	}
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	return l
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

func entry(component Component, kv []interface{}) *logrus.Entry {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()

	fields := logrus.Fields{"component": string(component)}
	for i := 0; i < len(kv); {
		if f, ok := kv[i].(logrus.Fields); ok {
			for k, v := range f {
				fields[k] = v
			}
			i++
			continue
		}
		if i+1 >= len(kv) {
			break
		}
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
		i += 2
	}
	return logger.WithFields(fields)
}

// LogDebug logs a debug message with the given component, followed by
// alternating key/value pairs (e.g. "request", setup.String()).
func LogDebug(component Component, msg string, kv ...interface{}) {
	entry(component, kv).Debug(msg)
}

// LogInfo logs an info message with the given component and key/value pairs.
func LogInfo(component Component, msg string, kv ...interface{}) {
	entry(component, kv).Info(msg)
}

// LogWarn logs a warning message with the given component and key/value pairs.
func LogWarn(component Component, msg string, kv ...interface{}) {
	entry(component, kv).Warn(msg)
}

// LogError logs an error message with the given component and key/value pairs.
func LogError(component Component, msg string, kv ...interface{}) {
	entry(component, kv).Error(msg)
}
