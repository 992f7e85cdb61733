package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

// fakeDriver is an in-memory Driver. Probes fail while failProbes is
// non-zero (negative fails forever); gate, when set, blocks every probe
// until closed.
type fakeDriver struct {
	mu         sync.Mutex
	opens      int
	failProbes int
	probes     int
	gate       chan struct{}
	onQuery    func(ctx context.Context, sql string, args []any) (*Result, error)
	statements []string
	backends   []*fakeBackend
}

func (d *fakeDriver) Open(_ context.Context, opts Options, emit func(Signal)) (Backend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	b := &fakeBackend{
		driver: d,
		emit:   emit,
		slots:  make(chan struct{}, opts.MaxConns),
	}
	d.backends = append(d.backends, b)
	return b, nil
}

func (d *fakeDriver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *fakeDriver) Probes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.probes
}

func (d *fakeDriver) Statements() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.statements...)
}

func (d *fakeDriver) backend() *fakeBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backends[len(d.backends)-1]
}

func (d *fakeDriver) probe(ctx context.Context) (*Result, error) {
	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes++
	if d.failProbes != 0 {
		if d.failProbes > 0 {
			d.failProbes--
		}
		return nil, errRefused
	}
	return &Result{
		Columns: []string{"db", "user", "version"},
		Rows: []map[string]any{{
			"db":      "shop",
			"user":    "shop",
			"version": "PostgreSQL 16.4",
		}},
		Command: "SELECT 1",
	}, nil
}

type fakeBackend struct {
	driver *fakeDriver
	emit   func(Signal)
	slots  chan struct{} // one token per connection in use
	stall  chan struct{} // when set, Acquire waits on it as a slow dial would

	mu      sync.Mutex
	idle    []*fakeConn
	total   int
	nextPID uint32
	closed  bool
}

func (b *fakeBackend) Acquire(ctx context.Context) (Conn, error) {
	b.mu.Lock()
	stall := b.stall
	b.mu.Unlock()
	if stall != nil {
		select {
		case <-stall:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	if n := len(b.idle); n > 0 {
		c := b.idle[n-1]
		b.idle = b.idle[:n-1]
		b.mu.Unlock()
		return c, nil
	}
	b.total++
	b.nextPID++
	c := &fakeConn{backend: b, pid: b.nextPID}
	b.mu.Unlock()

	b.emit(Signal{Kind: SignalConnected, PID: c.pid})
	return c, nil
}

func (b *fakeBackend) AcquireIdle(context.Context) []Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	conns := make([]Conn, 0, len(b.idle))
	for _, c := range b.idle {
		b.slots <- struct{}{}
		conns = append(conns, c)
	}
	b.idle = nil
	return conns
}

func (b *fakeBackend) Stat() BackendStat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackendStat{Total: b.total, Idle: len(b.idle), Max: cap(b.slots)}
}

func (b *fakeBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func (b *fakeBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// breakIdle makes every idle connection fail its next ping.
func (b *fakeBackend) breakIdle() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.idle {
		c.broken.Store(true)
	}
	return len(b.idle)
}

// panicIdleDiscard makes Discard panic on every idle connection.
func (b *fakeBackend) panicIdleDiscard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.idle {
		c.panics.Store(true)
	}
}

type fakeConn struct {
	backend   *fakeBackend
	pid       uint32
	broken    atomic.Bool
	discarded atomic.Bool
	panics    atomic.Bool // Discard panics, as a misbehaving driver would
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	if c.broken.Load() {
		return nil, errors.New("conn closed")
	}
	if sql == probeSQL {
		return c.backend.driver.probe(ctx)
	}

	d := c.backend.driver
	d.mu.Lock()
	d.statements = append(d.statements, sql)
	onQuery := d.onQuery
	d.mu.Unlock()

	if onQuery != nil {
		return onQuery(ctx, sql, args)
	}
	return &Result{Command: "SELECT 0"}, nil
}

func (c *fakeConn) Ping(context.Context) error {
	if c.broken.Load() {
		return errors.New("unexpected EOF")
	}
	return nil
}

func (c *fakeConn) PID() uint32 { return c.pid }

func (c *fakeConn) Release() {
	b := c.backend
	b.mu.Lock()
	b.idle = append(b.idle, c)
	b.mu.Unlock()
	<-b.slots
}

func (c *fakeConn) Discard() {
	if c.panics.Load() {
		panic("close of nil socket")
	}
	c.discarded.Store(true)
	b := c.backend
	b.mu.Lock()
	b.total--
	b.mu.Unlock()
	<-b.slots
	b.emit(Signal{Kind: SignalRemoved, PID: c.pid, At: time.Now()})
}
