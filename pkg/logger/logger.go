package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pdai-labs/pdai/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// level is shared by every logger built here so debug mode can be switched
// while a session runs.
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// NewLogger builds the process logger. Interactive sessions own the terminal,
// so output goes to SYS_LOG_<timestamp>.log under the log dir when one is
// configured. The level starts at info in every environment; SetDebug raises
// it when the session enables debug mode.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Environment {
	case "prod":
		zc = zap.NewProductionConfig()
	case "test":
		return zap.NewExample(), nil
	default:
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	level.SetLevel(zap.InfoLevel)
	zc.Level = level

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		path := filepath.Join(cfg.LogDir, LogFileName(time.Now()))
		zc.OutputPaths = []string{path}
		zc.ErrorOutputPaths = []string{path}
	}

	return zc.Build()
}

// LogFileName matches the SYS_LOG_<timestamp>.log naming of earlier releases.
func LogFileName(t time.Time) string {
	return "SYS_LOG_" + t.Format("2006_01_02-15_04") + ".log"
}

// SetDebug switches the shared level between debug and info at runtime.
func SetDebug(on bool) {
	if on {
		level.SetLevel(zap.DebugLevel)
		return
	}
	level.SetLevel(zap.InfoLevel)
}
