// Package logging provides structured logging for Console Core.
//
// It wraps the standard library log/slog with configuration-driven
// format and level selection, plus default service fields applied to
// every record.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("session established", "user", claims.Username)
package logging
