package database

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/saranga-ayurveda/backend/internal/logging"
)

const discardTimeout = 5 * time.Second

// PgxDriver opens pgxpool backends.
type PgxDriver struct {
	logger *zerolog.Logger
}

// NewPgxDriver returns the production driver. A nil logger uses the global
// logger.
func NewPgxDriver(logger *zerolog.Logger) *PgxDriver {
	return &PgxDriver{logger: logging.OrDefault(logger)}
}

// Open builds a pgxpool from opts. pgxpool dials lazily, so this only fails
// on configuration errors.
func (d *PgxDriver) Open(ctx context.Context, opts Options, emit func(Signal)) (Backend, error) {
	poolCfg, err := pgxpool.ParseConfig(opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MaxConns = int32(opts.MaxConns)
	poolCfg.MinConns = int32(opts.MinConns)
	if opts.IdleTimeout > 0 {
		poolCfg.MaxConnIdleTime = opts.IdleTimeout
	}

	connCfg := poolCfg.ConnConfig
	connCfg.ConnectTimeout = opts.ConnectTimeout
	if opts.ApplicationName != "" {
		connCfg.RuntimeParams["application_name"] = opts.ApplicationName
	}
	if opts.StatementTimeout > 0 {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}
	if opts.KeepaliveInterval > 0 {
		dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: opts.KeepaliveInterval}
		connCfg.DialFunc = dialer.DialContext
	}
	if tracer := newTracer(opts.TraceLevel, d.logger); tracer != nil {
		connCfg.Tracer = tracer
	}

	poolCfg.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		emit(Signal{Kind: SignalConnected, PID: conn.PgConn().PID(), At: time.Now()})
		return nil
	}
	poolCfg.BeforeClose = func(conn *pgx.Conn) {
		emit(Signal{Kind: SignalRemoved, PID: conn.PgConn().PID(), At: time.Now()})
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &pgxBackend{pool: pool, emit: emit}, nil
}

type pgxBackend struct {
	pool *pgxpool.Pool
	emit func(Signal)
}

func (b *pgxBackend) Acquire(ctx context.Context) (Conn, error) {
	c, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c, emit: b.emit}, nil
}

func (b *pgxBackend) AcquireIdle(ctx context.Context) []Conn {
	idle := b.pool.AcquireAllIdle(ctx)
	conns := make([]Conn, len(idle))
	for i, c := range idle {
		conns[i] = &pgxConn{conn: c, emit: b.emit}
	}
	return conns
}

func (b *pgxBackend) Stat() BackendStat {
	s := b.pool.Stat()
	return BackendStat{
		Total: int(s.TotalConns()),
		Idle:  int(s.IdleConns()),
		Max:   int(s.MaxConns()),
	}
}

func (b *pgxBackend) Close() {
	b.pool.Close()
}

type pgxConn struct {
	conn *pgxpool.Conn
	emit func(Signal)
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	tag := rows.CommandTag()
	return &Result{
		Columns:      columns,
		Rows:         records,
		RowsAffected: tag.RowsAffected(),
		Command:      tag.String(),
	}, nil
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) PID() uint32 {
	return c.conn.Conn().PgConn().PID()
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

// Discard hijacks the connection out of the pool and closes it. Hijacked
// connections skip BeforeClose, so the removal is signalled here.
func (c *pgxConn) Discard() {
	raw := c.conn.Hijack()
	pid := raw.PgConn().PID()

	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()
	_ = raw.Close(ctx)

	c.emit(Signal{Kind: SignalRemoved, PID: pid, At: time.Now()})
}
