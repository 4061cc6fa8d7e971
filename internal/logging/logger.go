package logging

import (
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "HTTPCORE_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks HTTPCORE_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(lvl string) error {
	if lvl == "" {
		lvl = os.Getenv(LogLevelEnvVar)
	}

	if lvl == "" {
		SetLogger(zap.NewNop())
		return nil
	}

	zapLevel, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(zapLevel)

	config := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(l)
	return nil
}

// ParseLevel maps a level name to its zap level.
func ParseLevel(lvl string) (zapcore.Level, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", lvl)
	}
}

// SetLevel changes the level of a running logger built by Initialize.
func SetLevel(lvl string) error {
	zapLevel, err := ParseLevel(lvl)
	if err != nil {
		return err
	}
	level.SetLevel(zapLevel)
	return nil
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}

// SetLogger replaces the global logger. Tests use it to observe output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	logger = l
	mu.Unlock()
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogConnection logs a connection event
func LogConnection(connID, remoteAddr, event string) {
	Info("Connection event",
		zap.String("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.String("event", event),
	)
}

// LogTLSHandshake logs TLS handshake details
func LogTLSHandshake(remoteAddr string, state tls.ConnectionState) {
	Info("TLS handshake completed",
		zap.String("remote_addr", remoteAddr),
		zap.String("tls_version", tls.VersionName(state.Version)),
		zap.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		zap.String("server_name", state.ServerName),
		zap.String("alpn", state.NegotiatedProtocol),
	)
}

// LogRequest logs a completed request/response exchange
func LogRequest(connID, method, path string, status int, duration time.Duration) {
	Info("HTTP request",
		zap.String("conn_id", connID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
	)
}

// LogWebSocketMessage logs a WebSocket message
func LogWebSocketMessage(remoteAddr, direction string, opcode int, data []byte) {
	fields := []zap.Field{
		zap.String("remote_addr", remoteAddr),
		zap.String("direction", direction),
		zap.String("message_type", wsMessageTypeName(opcode)),
		zap.Int("length", len(data)),
	}
	if opcode == 1 {
		fields = append(fields, zap.String("content", string(data)))
	} else {
		fields = append(fields, zap.String("hex_dump", hexDump(data)))
	}
	Debug("WebSocket message", fields...)
}

// LogRawBytes logs raw bytes (useful for debugging protocol issues)
func LogRawBytes(label string, data []byte, fields ...zap.Field) {
	if !GetLogger().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	fields = append(fields,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
	Debug(label, fields...)
}

func wsMessageTypeName(opcode int) string {
	switch opcode {
	case 0:
		return "continuation"
	case 1:
		return "text"
	case 2:
		return "binary"
	case 8:
		return "close"
	case 9:
		return "ping"
	case 10:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", opcode)
	}
}

const dumpLimit = 256

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > dumpLimit {
		return hex.EncodeToString(data[:dumpLimit]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > dumpLimit {
		data = data[:dumpLimit]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = GetLogger().Sync()
}
