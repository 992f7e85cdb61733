package database

import (
	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
)

// newTracer returns a statement tracer logging through zerolog, or nil when
// tracing is off.
func newTracer(level string, logger *zerolog.Logger) pgx.QueryTracer {
	if level == "" || level == "none" {
		return nil
	}
	lvl, err := tracelog.LogLevelFromString(level)
	if err != nil {
		logger.Warn().Str("trace_level", level).Msg("unknown trace level, statement tracing disabled")
		return nil
	}
	return &tracelog.TraceLog{
		Logger:   pgxzerolog.NewLogger(logger.With().Str("component", "pgx").Logger()),
		LogLevel: lvl,
	}
}
