package database

import (
	"context"
	"sync"
)

// Lease is exclusive use of one pooled connection. Exactly one of Release or
// Discard takes effect; later calls are no-ops.
type Lease struct {
	conn Conn
	pool *Pool
	once sync.Once
}

// Query runs sql on the leased connection under the pool's query timeout.
func (l *Lease) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.pool.opts.QueryTimeout)
	defer cancel()

	res, err := l.conn.Query(ctx, sql, args...)
	if err != nil {
		qerr := newQueryError(sql, err)
		l.pool.logger.Error().
			Err(err).
			Str("code", qerr.Code).
			Str("detail", qerr.Detail).
			Str("hint", qerr.Hint).
			Str("statement", sql).
			Msg("query failed")
		return nil, qerr
	}
	return res, nil
}

// PID returns the server process ID of the leased connection.
func (l *Lease) PID() uint32 {
	return l.conn.PID()
}

// Release returns the connection to the pool.
func (l *Lease) Release() {
	l.finish(l.conn.Release)
}

// Discard closes the connection instead of returning it. Use it when the
// connection is known to be broken or left in an unknown state.
func (l *Lease) Discard() {
	l.finish(l.conn.Discard)
}

func (l *Lease) finish(fn func()) {
	l.once.Do(func() {
		l.pool.leased.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				l.pool.logger.Error().Interface("panic", r).Msg("panic while returning connection")
			}
		}()
		fn()
	})
}
