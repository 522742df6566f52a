// Package logging bootstraps the process-wide zap logger, grounded on the
// teacher's pkg/operator/logging setup (stripped of its go-logr/zapr
// bridge, since nothing in this module's call graph accepts a logr.Logger
// — every collaborator here takes a *zap.SugaredLogger directly).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger (callers take Sugar() from it). Development mode (human-readable,
// debug-level) is selected by setting LOG_DEVEL=true; production mode
// (JSON, info-level) is the default, matching how a long-running
// EC2-calling process in this corpus is normally deployed.
func New() (*zap.Logger, error) {
	if os.Getenv("LOG_DEVEL") == "true" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}
