// Package logging provides structured logging for thingbridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape: JSON in production, text during development, and
// default service/version fields on every entry.
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
//	log := logger.ForThing("esp32", "bridge")
//	log.Info("device link up")
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
