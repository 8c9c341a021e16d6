package main

import (
	"log"
	"os"
	"time"

	gateway "github.com/adonese/bloog/apigateway"
	"github.com/adonese/bloog/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	defaultLogSamplingTick  = 5 * time.Second
	defaultLogSamplingAfter = 2 * time.Second
)

// configureLogger sets up the process logger from cfg. gin's route dump
// and anything written through the log package end up in it too.
func configureLogger(cfg models.BloogConfig) {
	logrusLogger.SetOutput(os.Stderr)
	logrusLogger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
	})
	level := logrus.InfoLevel
	if cfg.IsDebug {
		level = logrus.DebugLevel
	}
	logrusLogger.SetLevel(level)
	logrusLogger.SetReportCaller(cfg.IsDebug)

	gin.DefaultWriter = logrusLogger.WriterLevel(logrus.DebugLevel)
	gin.DefaultErrorWriter = logrusLogger.WriterLevel(logrus.ErrorLevel)
	log.SetFlags(0)
	log.SetOutput(logrusLogger.WriterLevel(logrus.InfoLevel))

	logSampling = gateway.LogSamplingConfig{
		Tick:  millis(cfg.LogSamplingTickMs, defaultLogSamplingTick),
		After: millis(cfg.LogSamplingAfterMs, defaultLogSamplingAfter),
	}
	logrusLogger.WithFields(logrus.Fields{
		"level":       level.String(),
		"sample_tick": logSampling.Tick.String(),
		"slow_after":  logSampling.After.String(),
	}).Debug("logger configured")
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
