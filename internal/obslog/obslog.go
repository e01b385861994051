// Package obslog wraps go.uber.org/zap with the small set of structured
// log call shapes the reactor and session lifecycle need: per-frame
// protocol tracing and per-connection lifecycle events.
package obslog

import (
	"go.uber.org/zap"
)

// Direction labels which way a frame travelled.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// New builds a production or development zap.Logger depending on
// verbose, matching the reference emulator's --verbose flag switching
// between INFO and DEBUG level. logFile, if non-empty, replaces stderr
// as the log destination.
func New(verbose bool, logFile string) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	if logFile != "" {
		cfg.OutputPaths = []string{logFile}
		cfg.ErrorOutputPaths = []string{logFile}
	}
	return cfg.Build()
}

// Frame logs one decoded or about-to-be-sent protocol message at debug
// level, keyed by session id and trace id so an operator can grep one
// connection's trace out of a busy server's log stream, on-box or once
// shipped off to a log aggregator.
func Frame(logger *zap.Logger, dir Direction, sessionID uint64, traceID string, typ byte, length int, summary string) {
	logger.Debug("frame",
		zap.Uint64("session", sessionID),
		zap.String("trace", traceID),
		zap.String("dir", string(dir)),
		zap.String("type", string(typ)),
		zap.Int("length", length),
		zap.String("summary", summary),
	)
}

// Connected logs a session reaching PhaseReady.
func Connected(logger *zap.Logger, sessionID uint64, traceID, user, database, remote string) {
	logger.Info("session authenticated",
		zap.Uint64("session", sessionID),
		zap.String("trace", traceID),
		zap.String("user", user),
		zap.String("database", database),
		zap.String("remote", remote),
	)
}

// Disconnected logs a session ending, with the reason it ended.
func Disconnected(logger *zap.Logger, sessionID uint64, traceID string, reason error) {
	if reason == nil {
		logger.Info("session closed", zap.Uint64("session", sessionID), zap.String("trace", traceID))
		return
	}
	logger.Info("session closed", zap.Uint64("session", sessionID), zap.String("trace", traceID), zap.Error(reason))
}
