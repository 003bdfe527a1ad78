package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger writes JSON logs to a rotated file in logDir, and also to stdout
// when console is set. Unknown levels fall back to info.
func NewLogger(logDir, level string, console bool) (*zap.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	lvl := zap.InfoLevel
	if level != "" {
		if l, err := zapcore.ParseLevel(level); err == nil {
			lvl = l
		}
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	enc := zapcore.NewJSONEncoder(cfg)

	file := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, "sitewatch.log"),
		MaxSize:    10, // MB
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	})
	core := zapcore.NewCore(enc, file, lvl)
	if console {
		core = zapcore.NewTee(core, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), lvl))
	}
	return zap.New(core), nil
}
