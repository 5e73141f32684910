package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

var (
	ErrMissingURI        = errors.New("database uri is not configured")
	ErrRetriesExhausted  = errors.New("database connection retries exhausted")
	ErrConnectInProgress = errors.New("database connection attempt already in progress")
	ErrClosed            = errors.New("database connection manager is closed")
	ErrNotConnected      = errors.New("database is not connected")
)

// ConnectionError is a single failed dial. It is transient and retried while
// the budget allows.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Conn is an established database connection (pool).
type Conn interface {
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

type Dialer func(ctx context.Context, uri string) (Conn, error)

type Observer interface {
	ConnectionStateChanged(from, to ConnectionState)
}

type ObserverFunc func(from, to ConnectionState)

func (f ObserverFunc) ConnectionStateChanged(from, to ConnectionState) { f(from, to) }

type Option func(*Manager)

func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.retryDelay = delay
	}
}

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithSleep replaces the wait between attempts. Tests use it to avoid real
// delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager owns the database connection lifecycle. It is the only writer of
// ConnectionState.
type Manager struct {
	uri        string
	dialer     Dialer
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	observers  []Observer
	log        *zap.Logger

	mu       sync.Mutex
	state    ConnectionState
	conn     Conn
	attempts int
	closed   bool
	cancel   context.CancelFunc // in-flight Connect
	done     chan struct{}
}

func NewManager(uri string, opts ...Option) *Manager {
	m := &Manager{
		uri:        uri,
		maxRetries: 5,
		retryDelay: 5 * time.Second,
		sleep:      sleepContext,
		log:        zap.NewNop(),
		state:      Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = MongoDialer(MongoOptions{})
	}
	return m
}

// State never blocks on an in-flight attempt.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts is the total number of dials made over the manager's lifetime.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Conn returns the live connection or ErrNotConnected.
func (m *Manager) Conn() (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// Database returns the default database of a MongoDB connection.
func (m *Manager) Database() (*mongo.Database, error) {
	c, err := m.Conn()
	if err != nil {
		return nil, err
	}
	mc, ok := c.(*MongoConn)
	if !ok {
		return nil, ErrNotConnected
	}
	return mc.Database(), nil
}

type Result struct {
	State ConnectionState
	Err   error
}

// Start runs Connect in the background and reports its outcome on the
// returned channel.
func (m *Manager) Start(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		st, err := m.Connect(ctx)
		out <- Result{State: st, Err: err}
	}()
	return out
}

// Connect dials until it succeeds or the retry budget runs out. A failed
// attempt is followed by a fixed delay, so maxRetries failures cost
// maxRetries+1 dials. Only one Connect runs at a time.
func (m *Manager) Connect(ctx context.Context) (ConnectionState, error) {
	m.mu.Lock()
	switch {
	case m.closed:
		st := m.state
		m.mu.Unlock()
		return st, ErrClosed
	case m.done != nil:
		st := m.state
		m.mu.Unlock()
		return st, ErrConnectInProgress
	case m.state == Connected:
		m.mu.Unlock()
		return Connected, nil
	case m.uri == "":
		m.mu.Unlock()
		m.transition(Error)
		m.log.Error("database uri missing, not connecting")
		return Error, ErrMissingURI
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.cancel, m.done = nil, nil
		m.mu.Unlock()
		cancel()
		close(done)
	}()

	budget := RetryBudget{Remaining: m.maxRetries, Delay: m.retryDelay}
	for {
		m.transition(Connecting)

		conn, err := m.attempt(ctx)
		if err == nil {
			m.mu.Lock()
			if m.closed {
				m.mu.Unlock()
				_ = conn.Disconnect(context.Background())
				m.transition(Disconnected)
				return Disconnected, ErrClosed
			}
			m.conn = conn
			m.mu.Unlock()
			m.transition(Connected)
			m.log.Info("database connected", zap.Int("attempts", m.Attempts()))
			return Connected, nil
		}

		if ctx.Err() != nil {
			m.transition(Disconnected)
			return Disconnected, ctx.Err()
		}

		m.transition(Error)
		if budget.Remaining <= 0 {
			m.log.Error("database connection failed, giving up", zap.Error(err))
			return Error, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}
		budget.Remaining--
		m.log.Warn("database connection failed, retrying",
			zap.Error(err),
			zap.Duration("delay", budget.Delay),
			zap.Int("retries_left", budget.Remaining),
		)

		if err := m.sleep(ctx, budget.Delay); err != nil {
			m.transition(Disconnected)
			return Disconnected, err
		}
	}
}

func (m *Manager) attempt(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	m.attempts++
	n := m.attempts
	m.mu.Unlock()

	conn, err := m.dialer(ctx, m.uri)
	if err != nil {
		return nil, &ConnectionError{Attempt: n, Err: err}
	}
	return conn, nil
}

// Close stops any in-flight Connect and releases the connection. Disconnect
// waits for operations in progress, bounded by ctx. Calls after the first are
// no-ops.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for connect to stop: %w", ctx.Err())
		}
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		if m.State() == Error {
			m.transition(Disconnected)
		}
		return nil
	}

	err := conn.Disconnect(ctx)
	m.transition(Disconnected)
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	m.log.Info("database connection closed")
	return nil
}

func (m *Manager) transition(to ConnectionState) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	if !CanTransition(from, to) {
		m.mu.Unlock()
		m.log.Error("illegal connection state transition",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		return
	}
	m.state = to
	observers := m.observers
	m.mu.Unlock()

	for _, o := range observers {
		o.ConnectionStateChanged(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
