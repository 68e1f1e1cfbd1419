package godotgrpc

import (
	"os"

	"github.com/rs/zerolog"
)

// Verbosity levels accepted by SetLogLevel. Each level includes
// everything below it; LogLevelNone silences the client entirely.
const (
	LogLevelNone = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

func defaultLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Str("component", "godotgrpc").Logger()
}

func zerologLevel(level int) zerolog.Level {
	switch level {
	case LogLevelNone:
		return zerolog.Disabled
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SetLogLevel adjusts the client's verbosity. Levels outside
// [LogLevelNone, LogLevelTrace] are clamped. Streams already running
// keep the level they were started with.
func (c *Client) SetLogLevel(level int) {
	if level < LogLevelNone {
		level = LogLevelNone
	}
	if level > LogLevelTrace {
		level = LogLevelTrace
	}
	c.mu.Lock()
	c.setLevelLocked(level)
	c.mu.Unlock()
}

// LogLevel reports the current verbosity.
func (c *Client) LogLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *Client) setLevelLocked(level int) {
	c.level = level
	c.logger = c.base.Level(zerologLevel(level))
	c.channel.setLogger(c.logger)
}

func (c *Client) log() *zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	logger := c.logger
	return &logger
}
