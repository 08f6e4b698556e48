package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/hub-companion/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "companion"

// redacted replaces the value of any credential-bearing attribute.
const redacted = "[redacted]"

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"token":            true,
	"access_token":     true,
	"refresh_token":    true,
	"supervisor_token": true,
	"authorization":    true,
	"password":         true,
}

// Logger is the companion's structured logger. Components derive their own
// with Component so every hub, registry and irrigation record can be
// filtered by origin.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by cfg. Records carry service=companion
// and the build version; credential attributes are redacted.
func New(cfg config.LoggingConfig, version string) *Logger {
	output := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return newWithWriter(cfg, version, output)
}

func newWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler = slog.NewJSONHandler(output, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler).With("service", serviceName, "version", version)
	return &Logger{Logger: logger}
}

// redactSecrets hides the values of credential attributes, including
// those nested in groups.
func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps a configured level name to slog. Unknown names log at info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger carrying extra attributes.
//
//	valveLog := logger.With("valve", "switch.garden_valve")
//	valveLog.Info("valve started", "seconds", 210)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags records with component=name.
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the logger used until the configuration has been read: JSON
// at info level on stdout.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
