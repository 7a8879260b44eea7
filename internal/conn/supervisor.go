// Package conn implements the connection supervisor: it owns the single
// TCP connection to a device, dials and redials it with backoff, feeds
// complete response lines to the transfer queue, and pauses or resumes
// the queue as the connection comes and goes.
package conn

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gcunified/client/internal/gcerr"
	"github.com/gcunified/client/internal/netstat"
	"github.com/gcunified/client/internal/protocol"
	"github.com/gcunified/client/internal/transfer"
)

// State is a position in the connection supervisor's state machine.
type State int

const (
	StateStopped State = iota
	StateOpening
	StateOpened
	StateClosing
	StateClosed
	StateReopening
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReopening:
		return "reopening"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Value renders the state as a metrics-friendly number.
func (s State) Value() float64 { return float64(s) }

// EventKind classifies an Event emitted by the supervisor.
type EventKind int

const (
	EventConnecting EventKind = iota
	EventConnected
	EventDisconnected
	EventReconnecting
	EventFailed
	EventClosed
)

// Event is published on the supervisor's event channel whenever its state
// changes, so the client facade can surface connection lifecycle to
// callers without polling State().
type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// Dialer opens the underlying transport. Tests supply a fake; production
// code uses net.Dialer via NewTCPDialer.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// NewTCPDialer returns a Dialer that dials plain TCP, optionally enabling
// keepalive on the resulting connection.
func NewTCPDialer(keepAlive bool, keepAliveInterval time.Duration) Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{}
		raw, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if tcpConn, ok := raw.(*net.TCPConn); ok && keepAlive {
			_ = tcpConn.SetKeepAlive(true)
			if keepAliveInterval > 0 {
				_ = tcpConn.SetKeepAlivePeriod(keepAliveInterval)
			}
		}
		return raw, nil
	}
}

// Config configures a Supervisor. Zero values for the backoff fields fall
// back to sane defaults in New.
type Config struct {
	Host string
	Port int

	Dialer Dialer
	Clock  clockwork.Clock
	Logger *logrus.Entry

	Queue  *transfer.Queue
	Framer *protocol.Framer

	Reconnect         bool
	ConnectionTimeout time.Duration

	// ReconnectDelay is the flat wait before the first reconnect attempt
	// after a drop, distinct from the backoff curve used for attempts
	// after that one.
	ReconnectDelay time.Duration

	// BackoffStrategy selects the curve used for attempts after the
	// first: BackoffExponential (default) or BackoffFibonacci.
	BackoffStrategy     string
	BackoffInitialDelay time.Duration
	BackoffMaxDelay     time.Duration
	// BackoffFailAfter caps the number of reconnect attempts (the
	// ReconnectDelay-gated first attempt counts as one) before the
	// supervisor gives up and transitions to failed. Zero retries
	// forever.
	BackoffFailAfter    int
	RandomizationFactor float64
}

// Backoff strategy names; mirrors the root package's Backoff.Strategy
// constants so callers configuring a Config directly use the same
// vocabulary.
const (
	BackoffExponential = "exponential"
	BackoffFibonacci   = "fibonacci"
)

// Supervisor owns exactly one logical connection to a device at a time,
// dialing, redialing, and reading from it in the background, and exposes
// its lifecycle as a State plus an Event stream.
type Supervisor struct {
	cfg Config
	addr string

	mu         sync.Mutex
	state      State
	conn       *netstat.Conn
	reconnects int

	events chan Event
	stop   chan struct{}
	done   chan struct{}
}

// New builds a Supervisor in StateStopped. Call Start to begin
// connecting.
func New(cfg Config) *Supervisor {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 5 * time.Second
	}
	if cfg.BackoffStrategy == "" {
		cfg.BackoffStrategy = BackoffExponential
	}
	if cfg.BackoffInitialDelay <= 0 {
		cfg.BackoffInitialDelay = 500 * time.Millisecond
	}
	if cfg.BackoffMaxDelay <= 0 {
		cfg.BackoffMaxDelay = 30 * time.Second
	}
	if cfg.RandomizationFactor == 0 {
		cfg.RandomizationFactor = 0.5
	}
	return &Supervisor{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		state:  StateStopped,
		events: make(chan Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Events returns the channel Event values are published on. The channel
// is never closed, not even by Stop.
func (s *Supervisor) Events() <-chan Event { return s.events }

// State reports the supervisor's current position in its state machine.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns the byte counters of the current connection (zero while
// none is open) and the reconnect count, for the metrics collector.
func (s *Supervisor) Stats() (bytesSent, bytesReceived int64, reconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		bytesSent = s.conn.TxBytes
		bytesReceived = s.conn.RxBytes
	}
	return bytesSent, bytesReceived, s.reconnects
}

func (s *Supervisor) setState(state State, kind EventKind, err error) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	select {
	case s.events <- Event{Kind: kind, State: state, Err: err}:
	default:
		s.cfg.Logger.Warn("dropping event, subscriber too slow")
	}
}

// Start dials the device once, synchronously, respecting
// ConnectionTimeout. On success the supervisor begins reading in the
// background and resumes the queue. On failure, if Reconnect is set, the
// supervisor keeps retrying with backoff in the background and Start
// still returns the original error so the caller knows the first attempt
// failed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateOpening, EventConnecting, nil)

	conn, err := s.dial(ctx)
	if err != nil {
		wrapped := gcerr.NewConnection(gcerr.CodeTimedOut, s.cfg.Host, s.cfg.Port, err)
		if s.cfg.Reconnect {
			s.setState(StateReopening, EventReconnecting, wrapped)
			go s.reconnectLoop()
		} else {
			s.setState(StateFailed, EventFailed, wrapped)
		}
		return wrapped
	}

	s.becomeOpen(conn)
	go s.readLoop(conn)
	return nil
}

func (s *Supervisor) becomeOpen(conn *netstat.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(StateOpened, EventConnected, nil)
	s.cfg.Queue.Resume(func(raw string) error {
		_, err := conn.Write([]byte(raw))
		return err
	})
}

func (s *Supervisor) dial(ctx context.Context) (*netstat.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	defer cancel()
	raw, err := s.cfg.Dialer(dialCtx, s.addr)
	if err != nil {
		return nil, err
	}
	return netstat.Wrap(s.cfg.Clock, raw), nil
}

func (s *Supervisor) readLoop(conn *netstat.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range s.cfg.Framer.Push(buf[:n]) {
				s.cfg.Queue.HandleResponse(line, protocol.Classify(line))
			}
		}
		if err != nil {
			s.cfg.Framer.Reset()
			s.handleDisconnect(conn, err)
			return
		}
	}
}

func (s *Supervisor) handleDisconnect(conn *netstat.Conn, cause error) {
	select {
	case <-s.stop:
		return // torn down deliberately; Stop's caller owns the queue
	default:
	}

	connErr := gcerr.NewConnection(gcerr.CodeConnLost, s.cfg.Host, s.cfg.Port, cause)
	s.cfg.Queue.Pause(connErr)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	if !s.cfg.Reconnect {
		s.setState(StateFailed, EventFailed, connErr)
		return
	}
	s.setState(StateReopening, EventReconnecting, connErr)
	go s.reconnectLoop()
}

// reconnectLoop retries dialing until it succeeds, the supervisor is
// stopped, or BackoffFailAfter attempts have been made. The first attempt
// waits the flat ReconnectDelay; every attempt after that waits on the
// configured backoff curve. All waits use the supervisor's injected
// clock so tests don't sleep in real time.
func (s *Supervisor) reconnectLoop() {
	strategy := s.newBackoffStrategy()
	wait := s.cfg.ReconnectDelay
	attempt := 0

	for {
		if wait > 0 {
			select {
			case <-s.stop:
				return
			case <-s.cfg.Clock.After(wait):
			}
		} else {
			select {
			case <-s.stop:
				return
			default:
			}
		}

		attempt++
		conn, err := s.dial(context.Background())
		if err != nil {
			s.cfg.Logger.WithError(err).Debug("reconnect attempt failed")
			if s.cfg.BackoffFailAfter > 0 && attempt >= s.cfg.BackoffFailAfter {
				s.setState(StateFailed, EventFailed, gcerr.NewConnection(gcerr.CodeTimedOut, s.cfg.Host, s.cfg.Port, err))
				return
			}
			wait = strategy.Next()
			continue
		}

		s.mu.Lock()
		s.reconnects++
		conn.SetReconnects(s.reconnects)
		s.mu.Unlock()

		s.becomeOpen(conn)
		go s.readLoop(conn)
		return
	}
}

// backoffStrategy produces successive wait durations for reconnect
// attempts after the first (ReconnectDelay-gated) one.
type backoffStrategy interface {
	Next() time.Duration
}

func (s *Supervisor) newBackoffStrategy() backoffStrategy {
	if s.cfg.BackoffStrategy == BackoffFibonacci {
		return newFibonacciBackoff(s.cfg.BackoffInitialDelay, s.cfg.BackoffMaxDelay, s.cfg.RandomizationFactor)
	}
	return newExponentialBackoff(s.cfg.BackoffInitialDelay, s.cfg.BackoffMaxDelay, s.cfg.RandomizationFactor)
}

// exponentialBackoff wraps cenkalti/backoff's ExponentialBackOff for the
// interval math; MaxElapsedTime is left at zero since BackoffFailAfter
// (an attempt count) bounds retrying instead, not wall-clock elapsed time.
type exponentialBackoff struct {
	bo *backoff.ExponentialBackOff
}

func newExponentialBackoff(initial, max time.Duration, randomization float64) *exponentialBackoff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.RandomizationFactor = randomization
	bo.MaxElapsedTime = 0
	return &exponentialBackoff{bo: bo}
}

func (e *exponentialBackoff) Next() time.Duration {
	d := e.bo.NextBackOff()
	if d == backoff.Stop {
		return e.bo.MaxInterval
	}
	return d
}

// fibonacciBackoff grows waits along a Fibonacci sequence rather than
// doubling, capped at max and jittered by randomization the same way the
// exponential strategy is.
type fibonacciBackoff struct {
	max           time.Duration
	randomization float64
	prev, cur     time.Duration
}

func newFibonacciBackoff(initial, max time.Duration, randomization float64) *fibonacciBackoff {
	return &fibonacciBackoff{max: max, randomization: randomization, prev: 0, cur: initial}
}

func (f *fibonacciBackoff) Next() time.Duration {
	next := f.prev + f.cur
	if next <= 0 {
		next = f.cur
	}
	f.prev, f.cur = f.cur, next
	d := next
	if f.max > 0 && d > f.max {
		d = f.max
	}
	return jitter(d, f.randomization)
}

// jitter randomizes d by +/- factor, matching cenkalti/backoff's own
// RandomizationFactor semantics.
func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	delta := factor * float64(d)
	lo := float64(d) - delta
	hi := float64(d) + delta
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

// Stop closes the current connection (if any) and prevents further
// reconnect attempts. It does not touch the queue; callers that also want
// to resolve or clear outstanding requests should call Queue.Close or
// Queue.Clear themselves.
func (s *Supervisor) Stop() {
	s.setState(StateClosing, EventDisconnected, nil)
	close(s.stop)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.setState(StateClosed, EventClosed, nil)
}
