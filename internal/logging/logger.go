// Package logging provides structured logging functionality for the meetings recorder
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nicliuqi/test-opengauss-meetings/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

func (l LogLevel) logrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type contextKey string

// RequestIDKey is the context key for request IDs
const RequestIDKey contextKey = "request_id"

// MeetingIDKey is the context key for the meeting a job works on
const MeetingIDKey contextKey = "meeting_id"

// Fields is a set of structured log fields
type Fields map[string]interface{}

// Logger defines the interface for logging operations
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})

	DebugWithContext(ctx context.Context, format string, args ...interface{})
	InfoWithContext(ctx context.Context, format string, args ...interface{})
	WarnWithContext(ctx context.Context, format string, args ...interface{})
	ErrorWithContext(ctx context.Context, format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields Fields) Logger

	LogJobEvent(event string, meetingID string, metadata map[string]interface{})
	LogPerformance(metrics PerformanceMetrics)
	LogAPIRequest(request APIRequest)
	LogAPIResponse(response APIResponse)

	GetLevel() LogLevel
	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
	Close() error
}

// PerformanceMetrics represents performance data for logging
type PerformanceMetrics struct {
	Operation      string
	Duration       time.Duration
	BytesProcessed int64
	Success        bool
	Error          string
	Metadata       map[string]interface{}
}

// APIRequest represents API request data for logging
type APIRequest struct {
	Method    string
	URL       string
	Headers   map[string]string
	RequestID string
}

// APIResponse represents API response data for logging
type APIResponse struct {
	StatusCode int
	RequestID  string
	Duration   time.Duration
	Success    bool
	Error      string
}

// logrusLogger implements Logger on top of a logrus entry
type logrusLogger struct {
	base       *logrus.Logger
	entry      *logrus.Entry
	level      LogLevel
	fileHandle *os.File
}

// NewLogger creates a new Logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	base := logrus.New()
	base.SetLevel(level.logrusLevel())
	if cfg.JSONFormat {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	logger := &logrusLogger{base: base, level: level}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		logger.fileHandle = file
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		base.SetOutput(io.Discard)
	} else {
		base.SetOutput(io.MultiWriter(writers...))
	}

	logger.entry = logrus.NewEntry(base)
	return logger, nil
}

// parseLogLevel converts a string to LogLevel
func parseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *logrusLogger) withContext(ctx context.Context) *logrus.Entry {
	entry := l.entry
	if ctx == nil {
		return entry
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		entry = entry.WithField(string(RequestIDKey), requestID)
	}
	if meetingID, ok := ctx.Value(MeetingIDKey).(string); ok {
		entry = entry.WithField(string(MeetingIDKey), meetingID)
	}
	return entry
}

func (l *logrusLogger) Debug(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) DebugWithContext(ctx context.Context, format string, args ...interface{}) {
	l.withContext(ctx).Debugf(format, args...)
}

func (l *logrusLogger) InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	l.withContext(ctx).Infof(format, args...)
}

func (l *logrusLogger) WarnWithContext(ctx context.Context, format string, args ...interface{}) {
	l.withContext(ctx).Warnf(format, args...)
}

func (l *logrusLogger) ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	l.withContext(ctx).Errorf(format, args...)
}

// WithFields returns a child logger sharing output and level
func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{
		base:  l.base,
		entry: l.entry.WithFields(logrus.Fields(fields)),
		level: l.level,
	}
}

// LogJobEvent logs a pipeline event for one meeting
func (l *logrusLogger) LogJobEvent(event string, meetingID string, metadata map[string]interface{}) {
	fields := logrus.Fields{
		"event":      event,
		"meeting_id": meetingID,
	}
	for key, value := range metadata {
		fields[key] = value
	}
	l.entry.WithFields(fields).Infof("meeting %s: %s", meetingID, event)
}

// LogPerformance logs performance metrics
func (l *logrusLogger) LogPerformance(metrics PerformanceMetrics) {
	fields := logrus.Fields{
		"operation":       metrics.Operation,
		"duration_ms":     metrics.Duration.Milliseconds(),
		"bytes_processed": metrics.BytesProcessed,
		"success":         metrics.Success,
	}
	if metrics.Error != "" {
		fields["error"] = metrics.Error
	}
	for key, value := range metrics.Metadata {
		fields[key] = value
	}
	l.entry.WithFields(fields).Infof("Performance: %s completed in %v", metrics.Operation, metrics.Duration)
}

// LogAPIRequest logs outbound API requests; credentials are masked
func (l *logrusLogger) LogAPIRequest(request APIRequest) {
	fields := logrus.Fields{
		"method":     request.Method,
		"url":        request.URL,
		"request_id": request.RequestID,
	}
	if len(request.Headers) > 0 {
		sanitized := make(map[string]string, len(request.Headers))
		for key, value := range request.Headers {
			switch strings.ToLower(key) {
			case "authorization", "x-access-token", "cookie":
				sanitized[key] = "***"
			default:
				sanitized[key] = value
			}
		}
		fields["headers"] = sanitized
	}
	l.entry.WithFields(fields).Debugf("API Request: %s %s", request.Method, request.URL)
}

// LogAPIResponse logs API responses
func (l *logrusLogger) LogAPIResponse(response APIResponse) {
	fields := logrus.Fields{
		"status_code": response.StatusCode,
		"request_id":  response.RequestID,
		"duration_ms": response.Duration.Milliseconds(),
		"success":     response.Success,
	}
	if response.Error != "" {
		fields["error"] = response.Error
	}
	l.entry.WithFields(fields).Debugf("API Response: %d (%v)", response.StatusCode, response.Duration)
}

// GetLevel returns the current log level
func (l *logrusLogger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *logrusLogger) SetLevel(level LogLevel) {
	l.level = level
	l.base.SetLevel(level.logrusLevel())
}

// SetOutput sets the output writer (mainly for testing)
func (l *logrusLogger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// Close closes the logger and any open file handles
func (l *logrusLogger) Close() error {
	if l.fileHandle != nil {
		return l.fileHandle.Close()
	}
	return nil
}

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger
)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger, or a discarding logger when none is set
func GetDefaultLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultLogger == nil {
		return NewNopLogger()
	}
	return defaultLogger
}

// InitializeLogging initializes the global logger with the provided configuration
func InitializeLogging(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetDefaultLogger(logger)
	return nil
}

// NewNopLogger returns a logger that writes nowhere
func NewNopLogger() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &logrusLogger{base: base, entry: logrus.NewEntry(base), level: InfoLevel}
}

// Package-level convenience functions that use the default logger

// Debug logs a debug message using the default logger
func Debug(format string, args ...interface{}) { GetDefaultLogger().Debug(format, args...) }

// Info logs an info message using the default logger
func Info(format string, args ...interface{}) { GetDefaultLogger().Info(format, args...) }

// Warn logs a warning message using the default logger
func Warn(format string, args ...interface{}) { GetDefaultLogger().Warn(format, args...) }

// Error logs an error message using the default logger
func Error(format string, args ...interface{}) { GetDefaultLogger().Error(format, args...) }

// InfoWithContext logs an info message with context using the default logger
func InfoWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().InfoWithContext(ctx, format, args...)
}

// ErrorWithContext logs an error message with context using the default logger
func ErrorWithContext(ctx context.Context, format string, args ...interface{}) {
	GetDefaultLogger().ErrorWithContext(ctx, format, args...)
}

// WithRequestID creates a context with a request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithMeetingID creates a context tagged with a meeting id
func WithMeetingID(ctx context.Context, meetingID string) context.Context {
	return context.WithValue(ctx, MeetingIDKey, meetingID)
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// GenerateRequestID generates a random request ID
func GenerateRequestID() string {
	return "req-" + uuid.NewString()
}
