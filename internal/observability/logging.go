package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with request correlation and sensitive
// data redaction.
//
// Built on Go's slog package:
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - JSON output for scripted use, text for interactive sessions
//   - Automatic session/agent correlation from context
//   - Redaction of API keys, tokens, and passwords before emission
//
// Usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "text",
//	})
//	logger.Info(ctx, "tool executed", "tool", "read_file", "duration_ms", 12)
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stderr so logs
	// never interleave with streamed agent text on stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data.
	// Default patterns already cover common secrets.
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	// SessionIDKey is the context key for REPL session IDs.
	SessionIDKey ContextKey = "session_id"

	// AgentKey is the context key for the active agent name.
	AgentKey ContextKey = "agent"
)

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,

	// OpenAI-style API keys
	`sk-[a-zA-Z0-9]{48,}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
}

// NewLogger creates a structured logger with the given configuration.
// Level defaults to "info", format to "text", output to os.Stderr.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "text"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0)
	allPatterns := append(DefaultRedactPatterns, config.RedactPatterns...)
	for _, pattern := range allPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs an info-level message with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs a warning-level message with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message with optional key-value pairs.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redactedArgs := make([]any, len(args))
	for i, arg := range args {
		redactedArgs[i] = l.redactValue(arg)
	}

	attrs := make([]any, 0, len(redactedArgs)+4)
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if agent, ok := ctx.Value(AgentKey).(string); ok && agent != "" {
		attrs = append(attrs, "agent", agent)
	}
	attrs = append(attrs, redactedArgs...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	default:
		if b, err := json.Marshal(v); err == nil && strings.ContainsAny(string(b), "{[") {
			return l.redactString(string(b))
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	sensitiveKeys := map[string]bool{
		"password":      true,
		"secret":        true,
		"token":         true,
		"api_key":       true,
		"apikey":        true,
		"authorization": true,
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		lowerKey := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveKeys[lowerKey] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = l.redactValue(v)
		}
	}
	return result
}

// WithFields returns a new logger with the given fields added to all records.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		config:  l.config,
		redacts: l.redacts,
	}
}

// AddSessionID adds a session ID to the context for log correlation.
func AddSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// AddAgent adds the active agent name to the context for log correlation.
func AddAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, AgentKey, agent)
}

// GetSessionID retrieves the session ID from the context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
