package querysource

import (
	"context"
	"time"

	"github.com/Sternrassler/query-metrics/pkg/querycount"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormPlugin installs a GormLogger on the database it is used with.
type GormPlugin struct {
	alias  string
	logger zerolog.Logger
}

// NewGormPlugin creates a plugin reporting queries under alias.
func NewGormPlugin(alias string, logger zerolog.Logger) *GormPlugin {
	return &GormPlugin{alias: alias, logger: logger}
}

// Name implements gorm.Plugin.
func (p *GormPlugin) Name() string {
	return "querysource:" + p.alias
}

// Initialize implements gorm.Plugin by wrapping the configured logger.
func (p *GormPlugin) Initialize(db *gorm.DB) error {
	db.Logger = NewGormLogger(db.Logger, p.alias, p.logger)
	return nil
}

// GormLogger forwards to the wrapped gorm logger and reports every traced
// statement to querycount.
type GormLogger struct {
	next   gormlogger.Interface
	alias  string
	logger zerolog.Logger
}

// NewGormLogger wraps next. A nil next discards gorm's own log output.
func NewGormLogger(next gormlogger.Interface, alias string, logger zerolog.Logger) *GormLogger {
	if next == nil {
		next = gormlogger.Discard
	}
	return &GormLogger{next: next, alias: alias, logger: logger}
}

// LogMode sets the log level of the wrapped logger.
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &GormLogger{next: l.next.LogMode(level), alias: l.alias, logger: l.logger}
}

// Info forwards to the wrapped logger.
func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.next.Info(ctx, msg, data...)
}

// Warn forwards to the wrapped logger.
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.next.Warn(ctx, msg, data...)
}

// Error forwards to the wrapped logger.
func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.next.Error(ctx, msg, data...)
}

// Trace records the statement into the current counter, then forwards.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	if querycount.Current(ctx) != nil {
		sql, _ := fc()
		report(ctx, l.logger, l.alias, sql, elapsed)
	}

	l.next.Trace(ctx, begin, fc, err)
}

// report hands one event to querycount. Misuse errors are logged, never
// returned to the query path.
func report(ctx context.Context, logger zerolog.Logger, alias, identity string, elapsed time.Duration) {
	if err := querycount.OnQueryExecuted(ctx, alias, identity, elapsed); err != nil {
		logger.Error().
			Err(err).
			Str("db", alias).
			Str("query", identity).
			Dur("duration", elapsed).
			Msg("Failed to record query event")
	}
}

var (
	_ gorm.Plugin          = (*GormPlugin)(nil)
	_ gormlogger.Interface = (*GormLogger)(nil)
)
