package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

// ZerologGormLogger implements gorm.io/gorm/logger.Interface
type ZerologGormLogger struct {
	Log           zerolog.Logger
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
}

func NewZerologGormLogger(l zerolog.Logger, logLevel logger.LogLevel) *ZerologGormLogger {
	return &ZerologGormLogger{
		Log:           l.With().Str("component", "gorm").Logger(),
		LogLevel:      logLevel,
		SlowThreshold: 200 * time.Millisecond,
	}
}

func (l *ZerologGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *ZerologGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.Log.Info().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *ZerologGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.Log.Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *ZerologGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.Log.Error().Msg(fmt.Sprintf(msg, data...))
	}
}

func (l *ZerologGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	ms := float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil && l.LogLevel >= logger.Error && !errors.Is(err, logger.ErrRecordNotFound):
		l.Log.Error().Err(err).
			Str("file", utils.FileWithLineNum()).
			Str("sql", sql).
			Int64("rows", rows).
			Float64("duration_ms", ms).
			Msg("gorm.query")
	case elapsed > l.SlowThreshold && l.SlowThreshold != 0 && l.LogLevel >= logger.Warn:
		l.Log.Warn().
			Str("file", utils.FileWithLineNum()).
			Str("sql", sql).
			Int64("rows", rows).
			Float64("duration_ms", ms).
			Dur("threshold", l.SlowThreshold).
			Msg("gorm.slow_query")
	case l.LogLevel == logger.Info:
		l.Log.Debug().
			Str("file", utils.FileWithLineNum()).
			Str("sql", sql).
			Int64("rows", rows).
			Float64("duration_ms", ms).
			Msg("gorm.query")
	}
}
