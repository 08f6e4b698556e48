// Package logging provides structured logging for the hub companion.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same handler, level and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	hubLog := logger.Component("hub")
//	hubLog.Info("connected", "url", cfg.Hub.URL)
//
// Never log access tokens. Log their length or a short prefix instead.
package logging
