package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"
)

const defaultSlowThreshold = 200 * time.Millisecond

// gormLogger implements GORM's logger.Interface on zerolog. Statements are
// logged through the request-scoped logger when the query context carries
// one, so SQL lines share the request_id of the HTTP call.
type gormLogger struct {
	base  zerolog.Logger
	slow  time.Duration
	level logger.LogLevel
}

// NewGormLogger returns a GORM logger writing to base. Queries slower than
// slow are logged at WARN; failures at ERROR; everything else at DEBUG.
func NewGormLogger(base zerolog.Logger, slow time.Duration) logger.Interface {
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	return &gormLogger{base: base, slow: slow, level: logger.Info}
}

// LogMode implements logger.Interface.
func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

// Info implements logger.Interface.
func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.from(ctx).Info().Msg(fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface.
func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.from(ctx).Warn().Msg(fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface.
func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.from(ctx).Error().Msg(fmt.Sprintf(msg, data...))
	}
}

// Trace implements logger.Interface.
func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	log := l.from(ctx)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		log.Error().Err(err).
			Dur("elapsed", elapsed).
			Int64("rows", rows).
			Str("sql", sql).
			Msg("db_query_failed")
	case elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		log.Warn().
			Dur("elapsed", elapsed).
			Dur("threshold", l.slow).
			Int64("rows", rows).
			Str("sql", sql).
			Msg("db_slow_query")
	case log.GetLevel() <= zerolog.DebugLevel && zerolog.GlobalLevel() <= zerolog.DebugLevel:
		sql, rows := fc()
		log.Debug().
			Dur("elapsed", elapsed).
			Int64("rows", rows).
			Str("sql", sql).
			Msg("db_query")
	}
}

func (l *gormLogger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if cl := zerolog.Ctx(ctx); cl != nil && cl.GetLevel() != zerolog.Disabled && cl != zerolog.DefaultContextLogger {
			return cl
		}
	}
	return &l.base
}

// InstrumentGorm installs the OpenTelemetry tracing plugin so every query
// becomes a child span of the calling request or job. Bound values are left
// out of span attributes since they carry message content.
func InstrumentGorm(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics(), tracing.WithoutQueryVariables()))
}
