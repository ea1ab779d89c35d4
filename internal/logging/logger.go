/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package logging provides the structured logging framework for flyedge.
It supports multiple log levels, structured key/value fields, and either
human-readable console output or one JSON object per line. Both renderings
are produced by zerolog; this package keeps the component-scoped API the
rest of the broker logs through.
*/
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Level represents the severity of a log message.
type Level int

const (
	// DEBUG level for detailed debugging information.
	DEBUG Level = iota
	// INFO level for general operational information.
	INFO
	// WARN level for warning conditions.
	WARN
	// ERROR level for error conditions.
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string into a Level.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DEBUG
	case "INFO", "info":
		return INFO
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured logging for one component.
type Logger struct {
	component string
}

// Config holds logger configuration options.
type Config struct {
	Level    Level
	Output   io.Writer
	JSONMode bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:    INFO,
		Output:   os.Stdout,
		JSONMode: false,
	}
}

// timeFormat matches the console timestamp layout used across flyedge.
const timeFormat = "2006-01-02T15:04:05.000Z"

var (
	globalConfig = DefaultConfig()
	globalBase   = newBase(globalConfig)
	globalMu     sync.RWMutex
)

func init() {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// newBase builds the zerolog logger for cfg.
func newBase(cfg Config) zerolog.Logger {
	if cfg.JSONMode {
		return zerolog.New(cfg.Output).With().Timestamp().Logger()
	}
	cw := zerolog.ConsoleWriter{
		Out:        cfg.Output,
		NoColor:    !isTerminal(cfg.Output),
		TimeFormat: timeFormat,
		FormatLevel: func(i interface{}) string {
			return fmt.Sprintf("[%-5s]", strings.ToUpper(fmt.Sprint(i)))
		},
	}
	return zerolog.New(cw).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func reconfigure(mutate func(*Config)) {
	globalMu.Lock()
	defer globalMu.Unlock()
	mutate(&globalConfig)
	globalBase = newBase(globalConfig)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level Level) {
	reconfigure(func(c *Config) { c.Level = level })
}

// SetGlobalOutput sets the global log output.
func SetGlobalOutput(w io.Writer) {
	reconfigure(func(c *Config) { c.Output = w })
}

// SetJSONMode enables or disables JSON output mode.
func SetJSONMode(enabled bool) {
	reconfigure(func(c *Config) { c.JSONMode = enabled })
}

// NewLogger creates a new Logger for the specified component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// log writes a log entry at the specified level.
func (l *Logger) log(level Level, msg string, args ...interface{}) {
	globalMu.RLock()
	minLevel := globalConfig.Level
	jsonMode := globalConfig.JSONMode
	base := globalBase
	globalMu.RUnlock()

	if level < minLevel {
		return
	}

	ev := base.WithLevel(level.zerolog())
	if jsonMode {
		ev = ev.Str("component", l.component)
	} else {
		msg = "[" + l.component + "] " + msg
	}

	for i := 0; i < len(args)-1; i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		ev = appendField(ev, key, args[i+1])
	}
	if len(args)%2 != 0 {
		ev = appendField(ev, "extra", args[len(args)-1])
	}

	ev.Msg(msg)
}

func appendField(ev *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case error:
		return ev.AnErr(key, v)
	case string:
		return ev.Str(key, v)
	case fmt.Stringer:
		return ev.Stringer(key, v)
	default:
		return ev.Interface(key, v)
	}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(DEBUG, msg, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(INFO, msg, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(WARN, msg, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(ERROR, msg, args...)
}
