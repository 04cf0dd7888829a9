// Package logger provides the process-wide structured logger: JSON output,
// rotated per level via lumberjack, mirrored to stdout for local runs.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Logger *logrus.Logger

// Init initializes the global logger with file rotation and the given level.
func Init(logLevel string) error {
	Logger = logrus.New()

	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	errorLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "error.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	infoLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "info.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
	debugLogger := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "debug.log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)

	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
	})

	Logger.AddHook(&fileHook{
		errorWriter: errorLogger,
		infoWriter:  infoLogger,
		debugWriter: debugLogger,
	})

	Logger.SetOutput(os.Stdout)

	return nil
}

// fileHook fans log entries out to per-level rotated files.
type fileHook struct {
	errorWriter io.Writer
	infoWriter  io.Writer
	debugWriter io.Writer
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		_, err = h.errorWriter.Write([]byte(line))
	case logrus.WarnLevel, logrus.InfoLevel:
		_, err = h.infoWriter.Write([]byte(line))
	case logrus.DebugLevel, logrus.TraceLevel:
		_, err = h.debugWriter.Write([]byte(line))
	}
	return err
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// sensitiveFields names the structured-log keys this module's callers are
// known to pass around that carry Instagram session material or payment
// credentials (credential.Pair's Cookie/UserAgent, gateway card tokens and
// HMAC secrets). Logging any of them verbatim would leak a live session or
// a reusable charge credential into rotated log files on disk.
var sensitiveFields = map[string]struct{}{
	"cookie":       {},
	"user_agent":   {},
	"card_token":   {},
	"api_secret":   {},
	"access_token": {},
	"session_id":   {},
}

// redact replaces any sensitive field's value with a fixed placeholder
// before it reaches logrus, leaving everything else untouched.
func redact(fields map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return fields
	}
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if _, sensitive := sensitiveFields[strings.ToLower(k)]; sensitive {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

// Convenience wrappers used throughout the module instead of touching
// Logger directly; they no-op before Init is called so unit tests that
// never initialize logging don't panic.

func Error(msg string, fields map[string]interface{}) {
	if Logger != nil {
		Logger.WithFields(redact(fields)).Error(msg)
	}
}

func Info(msg string, fields map[string]interface{}) {
	if Logger != nil {
		Logger.WithFields(redact(fields)).Info(msg)
	}
}

func Debug(msg string, fields map[string]interface{}) {
	if Logger != nil {
		Logger.WithFields(redact(fields)).Debug(msg)
	}
}

func Warn(msg string, fields map[string]interface{}) {
	if Logger != nil {
		Logger.WithFields(redact(fields)).Warn(msg)
	}
}

func ErrorMsg(msg string) { Error(msg, nil) }
func InfoMsg(msg string)  { Info(msg, nil) }
func DebugMsg(msg string) { Debug(msg, nil) }
func WarnMsg(msg string)  { Warn(msg, nil) }
