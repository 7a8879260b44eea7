package gcunified

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/gcunified/client/internal/conn"
	"github.com/gcunified/client/internal/gcerr"
	"github.com/gcunified/client/internal/metrics"
	"github.com/gcunified/client/internal/protocol"
	"github.com/gcunified/client/internal/transfer"
)

// Option configures ambient, construction-only concerns of a Client: the
// things a caller wires once and never overrides per-call. Per-call
// tunables (timeouts, host/port, backoff, reconnect) live in Options
// instead and are set with SetOptions.
type Option func(*Client)

// WithLogger overrides the logrus entry a Client logs through. By default
// a Client builds its own logrus.Logger writing to stderr.
func WithLogger(entry *logrus.Entry) Option {
	return func(c *Client) { c.log = entry }
}

// WithClock overrides the clockwork.Clock a Client uses for every timer
// in the transfer queue and connection supervisor. Tests inject a fake
// clock; production code never needs this.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithRegisterer registers the Client's prometheus.Collector against reg.
// Without it the Client builds no collector and registers nothing.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithMessages supplies the ErrorMessages table used to decode device
// error codes into human-readable text. Without this, DefaultMessages is
// used.
func WithMessages(msgs ErrorMessages) Option {
	return func(c *Client) { c.messages = msgs }
}

// WithDialer overrides how the Client opens its TCP connection. Tests use
// this to supply an in-memory transport; production code never needs
// this.
func WithDialer(d conn.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// CloseOption configures a single call to Client.Close.
type CloseOption func(*closeConfig)

type closeConfig struct {
	drain time.Duration
}

// WithDrain makes Close wait up to timeout for the queue to empty before
// tearing the connection down, instead of abandoning whatever is still
// pending.
func WithDrain(timeout time.Duration) CloseOption {
	return func(cc *closeConfig) { cc.drain = timeout }
}

// Client is the library's single entry point: one Client manages one
// logical connection to one device, queues and correlates every command
// sent through Send, and reconnects in the background according to its
// Options.
type Client struct {
	sessionID xid.ID
	nextID    atomic.Uint64

	log        *logrus.Entry
	clock      clockwork.Clock
	registerer prometheus.Registerer
	messages   ErrorMessages
	dialer     conn.Dialer

	mu   sync.Mutex
	opts Options

	queue      *transfer.Queue
	framer     *protocol.Framer
	supervisor *conn.Supervisor
	collector  *metrics.Collector

	// retire signals the forwardEvents goroutine reading from the current
	// supervisor to exit, so a reconnect-after-close can swap in a fresh
	// supervisor without leaking the old forwarder.
	retire chan struct{}

	events chan Event
	done   chan struct{}
}

// New builds a Client from opts and any ambient Options. The client is
// not connected until Connect is called.
func New(opts Options, clientOpts ...Option) *Client {
	c := &Client{
		sessionID: xid.New(),
		opts:      opts.WithDefaults(),
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
	}
	for _, o := range clientOpts {
		o(c)
	}
	if c.log == nil {
		l := logrus.New()
		c.log = logrus.NewEntry(l)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.messages == nil {
		c.messages = DefaultMessages
	}
	c.log = c.log.WithField("session_id", c.sessionID.String())

	c.framer = protocol.NewFramer()
	c.queue = transfer.NewQueue(c.clock, c.log, c.opts.RetryInterval)

	if c.dialer == nil {
		c.dialer = conn.NewTCPDialer(*c.opts.TCPKeepAlive, c.opts.TCPKeepAliveInitialDelay)
	}
	c.supervisor = c.buildSupervisor()

	if c.registerer != nil {
		c.collector = metrics.New("gcunified", prometheus.Labels{
			"host": c.opts.Host,
			"port": fmt.Sprintf("%d", c.opts.Port),
		}, c.snapshotStats)
		_ = c.registerer.Register(c.collector)
	}

	c.retire = make(chan struct{})
	go c.forwardEvents(c.supervisor, c.retire)
	return c
}

// buildSupervisor constructs a connection supervisor from the Client's
// current Options. Called once at New, and again by scheduleReconnect
// after Close tears a supervisor down for good but Reconnect remains set.
func (c *Client) buildSupervisor() *conn.Supervisor {
	return conn.New(conn.Config{
		Host:                c.opts.Host,
		Port:                c.opts.Port,
		Dialer:              c.dialer,
		Clock:               c.clock,
		Logger:              c.log,
		Queue:               c.queue,
		Framer:              c.framer,
		Reconnect:           *c.opts.Reconnect,
		ConnectionTimeout:   c.opts.ConnectionTimeout,
		ReconnectDelay:      c.opts.ReconnectDelay,
		BackoffStrategy:     c.opts.Backoff.Strategy,
		BackoffInitialDelay: c.opts.Backoff.InitialDelay,
		BackoffMaxDelay:     c.opts.Backoff.MaxDelay,
		BackoffFailAfter:    c.opts.Backoff.FailAfter,
		RandomizationFactor: c.opts.Backoff.RandomizationFactor,
	})
}

// currentSupervisor returns the supervisor a Client is currently using,
// guarding against the swap scheduleReconnect performs after Close.
func (c *Client) currentSupervisor() *conn.Supervisor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.supervisor
}

func (c *Client) snapshotStats() metrics.Stats {
	bytesSent, bytesReceived, reconnects := c.currentSupervisor().Stats()
	return metrics.Stats{
		QueueDepth:      c.queue.Depth(),
		InFlight:        c.queue.InFlight(),
		Reconnects:      reconnects,
		BytesSent:       bytesSent,
		BytesReceived:   bytesReceived,
		ConnectionState: c.currentSupervisor().State().Value(),
	}
}

func (c *Client) forwardEvents(sv *conn.Supervisor, retire <-chan struct{}) {
	for {
		select {
		case ev, ok := <-sv.Events():
			if !ok {
				return
			}
			select {
			case c.events <- translateEvent(ev):
			default:
				c.log.Warn("dropping event, subscriber too slow")
			}
		case <-retire:
			return
		case <-c.done:
			return
		}
	}
}

// Events returns the channel Event values are published on.
func (c *Client) Events() <-chan Event { return c.events }

// State reports the supervisor's current connection state.
func (c *Client) State() State { return c.currentSupervisor().State() }

// SetOptions overlays next onto the Client's current Options. Fields left
// at their zero value in next are unchanged. QueueTimeout and SendTimeout
// changes apply to requests sent from this point on, and Close reads
// Reconnect and ReconnectDelay when it runs. Host, Port,
// ConnectionTimeout, Backoff and the supervisor's own Reconnect setting
// take effect only when Close builds a fresh supervisor for a reconnect;
// Connect dials with the values the current supervisor was built with.
// RetryInterval, TCPKeepAlive and TCPKeepAliveInitialDelay keep the
// values given to New.
func (c *Client) SetOptions(next Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = c.opts.Merge(next)
}

// Connect dials the device once. If it fails and Reconnect is enabled,
// the supervisor keeps retrying in the background and the returned error
// reflects only the first attempt.
func (c *Client) Connect(ctx context.Context) error {
	return c.currentSupervisor().Start(ctx)
}

// Close pauses and clears the queue, cancels every pending timer, and
// stops the supervisor. If Reconnect is still enabled, it then schedules a
// fresh connection attempt after ReconnectDelay instead of tearing the
// client down for good; the queue and event stream stay usable across that
// gap, so Send calls made before the reconnect completes simply queue. With
// WithDrain, Close first waits up to the given timeout for the queue to
// empty on its own before any of this happens.
func (c *Client) Close(opts ...CloseOption) error {
	cfg := closeConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.drain > 0 {
		c.waitForDrain(cfg.drain)
	}

	c.mu.Lock()
	reconnect := *c.opts.Reconnect
	delay := c.opts.ReconnectDelay
	c.mu.Unlock()

	c.currentSupervisor().Stop()
	c.queue.Pause(gcerr.New(gcerr.CodeQueueCleared))
	c.queue.Clear(gcerr.CodeQueueCleared)

	if reconnect {
		c.scheduleReconnect(delay)
		return nil
	}

	c.teardown()
	return nil
}

// scheduleReconnect waits delay, then builds a fresh supervisor in place
// of the one Close just stopped for good (Supervisor.Stop permanently
// closes its internal channels, so the old instance can't be reused) and
// starts it. The old forwardEvents goroutine is retired before the new one
// starts so events are never read off two supervisors at once.
func (c *Client) scheduleReconnect(delay time.Duration) {
	go func() {
		select {
		case <-c.clock.After(delay):
		case <-c.done:
			return
		}

		c.mu.Lock()
		close(c.retire)
		c.supervisor = c.buildSupervisor()
		c.retire = make(chan struct{})
		sv, retire := c.supervisor, c.retire
		c.mu.Unlock()

		go c.forwardEvents(sv, retire)
		_ = sv.Start(context.Background())
	}()
}

// teardown performs the final, non-reconnecting half of Close: it
// permanently closes the queue's mailbox, unregisters the metrics
// collector, and stops the event forwarder.
func (c *Client) teardown() {
	c.queue.Close()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.collector != nil && c.registerer != nil {
		c.registerer.Unregister(c.collector)
	}
}

// waitForDrain blocks until the queue empties or timeout elapses,
// whichever comes first.
func (c *Client) waitForDrain(timeout time.Duration) {
	deadline := c.clock.After(timeout)
	for c.queue.Depth() > 0 || c.queue.InFlight() {
		select {
		case <-deadline:
			return
		case <-c.clock.After(time.Millisecond):
		}
	}
}

// Send queues raw (a single Unified TCP API command, without its trailing
// \r) and blocks until the device responds, the command is superseded or
// purged, or one of the configured timeouts elapses.
func (c *Client) Send(ctx context.Context, raw string) (string, error) {
	c.mu.Lock()
	id := c.nextID.Add(1)
	prefix := protocol.ExpectedPrefix(raw)
	priority := isPriority(raw)
	req := transfer.NewRequest(id, raw, logSafePrefix(raw), prefix, priority, c.opts.QueueTimeout, c.opts.SendTimeout, c.clock)
	c.mu.Unlock()

	if err := c.queue.Push(req); err != nil {
		return "", err
	}

	select {
	case res := <-req.Done():
		if res.Err != nil {
			return "", c.decorateError(res.Err)
		}
		return res.Response, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// decorateError fills in the human-readable message on a device-error
// response using the Client's configured ErrorMessages table.
func (c *Client) decorateError(err error) error {
	respErr, ok := err.(*gcerr.Response)
	if !ok || respErr.Message != "" {
		return err
	}
	if text, found := c.messages.Message(respErr.Code); found {
		return gcerr.NewResponse(respErr.Code, text)
	}
	return err
}

func isPriority(raw string) bool {
	return strings.HasPrefix(raw, "stopir,") || raw == "stopir"
}

// logSafePrefix returns the first three comma-separated fields of raw, so
// log lines identify a command and its connector without dumping an
// entire sendir IR-payload blob.
func logSafePrefix(raw string) string {
	fields := strings.SplitN(raw, ",", 4)
	if len(fields) > 3 {
		fields = fields[:3]
	}
	return strings.Join(fields, ",")
}
