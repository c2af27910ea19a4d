// Package logging constructs the structured zap logger every component
// receives, mirroring tradSys's services/common/logging.go
// StructuredLogger pattern.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bscheinman/cixrs/internal/config"
)

// New builds a *zap.Logger from cfg, tagged with the service name and
// process id as initial fields.
func New(cfg config.LoggingConfig, service string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(
		zap.String("service", service),
		zap.Int("pid", os.Getpid()),
	), nil
}
