// Package logging builds the zap loggers of the threadline binaries.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func openFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
}

func fields(sessionName string) zap.Option {
	return zap.Fields(
		zap.String("session", sessionName),
		zap.Int("pid", os.Getpid()),
	)
}

// New creates a zap logger that writes JSON to the given log file path
// and also writes to stderr. Session name and PID are included as initial fields.
func New(logPath, sessionName string) (*zap.Logger, error) {
	file, err := openFile(logPath)
	if err != nil {
		return nil, err
	}

	encoderCfg := encoderConfig()
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), zapcore.InfoLevel)
	stderrCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), zapcore.InfoLevel)

	return zap.New(zapcore.NewTee(fileCore, stderrCore), fields(sessionName)), nil
}

// NewFile creates a JSON file logger for programs that own the terminal.
func NewFile(logPath, sessionName string, level zapcore.Level) (*zap.Logger, error) {
	file, err := openFile(logPath)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(file), level)
	return zap.New(core, fields(sessionName)), nil
}
