// Package netstat wraps a net.Conn to track the byte counters and
// timestamps the connection supervisor and metrics collector need,
// without requiring access to any platform-specific socket internals.
package netstat

import (
	"net"

	"github.com/jonboulle/clockwork"
)

// Conn wraps a net.Conn, counting bytes and recording the first/last
// activity timestamps on each side. Reconnects is set by the caller after
// wrapping, since the wrapper itself has no notion of a reconnect
// sequence.
type Conn struct {
	net.Conn

	clock clockwork.Clock

	OpenedAt   int64
	ClosedAt   int64
	FirstRxAt  int64
	LastRxAt   int64
	FirstTxAt  int64
	LastTxAt   int64
	TxBytes    int64
	RxBytes    int64
	RxErr      error
	TxErr      error
	Reconnects int
}

// Wrap returns conn instrumented with byte and timestamp tracking.
func Wrap(clock clockwork.Clock, conn net.Conn) *Conn {
	return &Conn{
		Conn:     conn,
		clock:    clock,
		OpenedAt: clock.Now().UnixNano(),
	}
}

// SetReconnects records how many times the connection had been
// re-established when this one opened, for the caller to surface via
// metrics.
func (c *Conn) SetReconnects(n int) {
	c.Reconnects = n
}

func (c *Conn) Close() error {
	c.ClosedAt = c.clock.Now().UnixNano()
	return c.Conn.Close()
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		ts := c.clock.Now().UnixNano()
		if c.FirstRxAt == 0 {
			c.FirstRxAt = ts
		}
		c.LastRxAt = ts
	}
	c.RxBytes += int64(n)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		c.RxErr = err
	} else if err != nil && !ok {
		c.RxErr = err
	}
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		ts := c.clock.Now().UnixNano()
		if c.FirstTxAt == 0 {
			c.FirstTxAt = ts
		}
		c.LastTxAt = ts
	}
	c.TxBytes += int64(n)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		c.TxErr = err
	} else if err != nil && !ok {
		c.TxErr = err
	}
	return n, err
}
