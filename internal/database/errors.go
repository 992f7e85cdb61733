package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Errors
var (
	ErrPoolExhausted = errors.New("pool exhausted: timed out waiting for a connection")
	ErrPoolClosed    = errors.New("pool closed")
	ErrNotReady      = errors.New("pool not ready")
)

// ConnectError is returned by Initialize when the server could not be
// reached within the retry budget.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// QueryError carries the diagnostics of a failed statement. Error returns the
// underlying driver message unchanged.
type QueryError struct {
	Statement string
	Code      string
	Detail    string
	Hint      string
	Err       error
}

func (e *QueryError) Error() string { return e.Err.Error() }

func (e *QueryError) Unwrap() error { return e.Err }

func newQueryError(sql string, err error) *QueryError {
	d := diagnose(err)
	return &QueryError{
		Statement: sql,
		Code:      d.code,
		Detail:    d.detail,
		Hint:      d.hint,
		Err:       err,
	}
}

// IdleConnectionError reports a pooled connection that broke while no caller
// held it.
type IdleConnectionError struct {
	PID uint32
	Err error
}

func (e *IdleConnectionError) Error() string {
	return fmt.Sprintf("idle connection %d failed: %v", e.PID, e.Err)
}

func (e *IdleConnectionError) Unwrap() error { return e.Err }

type diagnostics struct {
	code   string
	detail string
	hint   string
}

// diagnose extracts server-side error fields when err came from PostgreSQL.
func diagnose(err error) diagnostics {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return diagnostics{code: pgErr.Code, detail: pgErr.Detail, hint: pgErr.Hint}
	}
	return diagnostics{}
}
