// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"cvrpbc/internal/config"
)

// Setup applies cfg to the standard logger. When cfg.File is set, output goes
// to stdout and to a rotated file. The returned closer flushes the file.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return configure(log.StandardLogger(), cfg, os.Stdout)
}

func configure(l *log.Logger, cfg config.LogConfig, stdout io.Writer) (io.Closer, error) {
	level := log.InfoLevel
	if cfg.Level != "" {
		lv, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = lv
	}
	l.SetLevel(level)
	l.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.File == "" {
		l.SetOutput(stdout)
		return nopCloser{}, nil
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	l.SetOutput(io.MultiWriter(stdout, file))
	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
