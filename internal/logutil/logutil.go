// Package logutil builds the zap logger shared by every copy component.
package logutil

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig describes where and how logs are written.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max-size"`
	MaxDays    int    `mapstructure:"max-days"`
	MaxBackups int    `mapstructure:"max-backups"`
}

// LevelNone disables logging entirely.
const LevelNone = "none"

var levelNames = map[string]zapcore.Level{
	"error":   zapcore.ErrorLevel,
	"warning": zapcore.WarnLevel,
	"warn":    zapcore.WarnLevel,
	"info":    zapcore.InfoLevel,
	"debug":   zapcore.DebugLevel,
	"debug1":  zapcore.DebugLevel,
	"debug2":  zapcore.DebugLevel,
	"debug3":  zapcore.DebugLevel,
}

// ValidLevel reports whether name is accepted by --log-level.
func ValidLevel(name string) bool {
	name = strings.ToLower(name)
	if name == LevelNone {
		return true
	}
	_, ok := levelNames[name]
	return ok
}

func (cfg *LogConfig) getLevel() zap.AtomicLevel {
	lvl, ok := levelNames[strings.ToLower(cfg.Level)]
	if !ok {
		lvl = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(lvl)
}

func (cfg *LogConfig) getEncoder() (zapcore.Encoder, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		return zapcore.NewConsoleEncoder(encCfg), nil
	case "json":
		return zapcore.NewJSONEncoder(encCfg), nil
	}
	return nil, errors.Newf("unsupported log format: %s", cfg.Format)
}

// logs never go to stdout, it carries the status lines
func (cfg *LogConfig) getSyncer() zapcore.WriteSyncer {
	if cfg.Filename == "" {
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  true,
	})
}

// NewLogger builds a logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	if !ValidLevel(cfg.Level) && cfg.Level != "" {
		return nil, errors.Newf("invalid argument '%s' for option --log-level", cfg.Level)
	}
	if strings.ToLower(cfg.Level) == LevelNone {
		return zap.NewNop(), nil
	}
	enc, err := cfg.getEncoder()
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(enc, cfg.getSyncer(), cfg.getLevel())
	return zap.New(core, zap.AddStacktrace(zapcore.FatalLevel)), nil
}
