package gcunified

import "time"

// Default values applied by WithDefaults wherever a field is left at its
// zero value, mirroring the teacher's Config.setDefaults() pattern.
const (
	DefaultPort                     = 4998
	DefaultReconnectDelay           = time.Second
	DefaultConnectionTimeout        = 5 * time.Second
	DefaultQueueTimeout             = 5 * time.Second
	DefaultSendTimeout              = 3 * time.Second
	DefaultRetryInterval            = 200 * time.Millisecond
	DefaultTCPKeepAliveInitialDelay = 30 * time.Second
)

// Backoff strategies recognized by Backoff.Strategy.
const (
	BackoffExponential = "exponential"
	BackoffFibonacci   = "fibonacci"
)

// DefaultBackoff is the reconnect backoff used when Options.Backoff is
// left at its zero value.
var DefaultBackoff = Backoff{
	Strategy:            BackoffExponential,
	InitialDelay:        500 * time.Millisecond,
	MaxDelay:            30 * time.Second,
	RandomizationFactor: 0.5,
}

// Backoff configures the connection supervisor's reconnect strategy, used
// for every reconnect attempt after the first (the first attempt after a
// drop waits the flat Options.ReconnectDelay instead).
type Backoff struct {
	// Strategy selects how the wait grows between attempts:
	// BackoffExponential (default) or BackoffFibonacci.
	Strategy string
	// InitialDelay is the wait before the second reconnect attempt (the
	// first step of the backoff curve).
	InitialDelay time.Duration
	// MaxDelay caps how long any single wait between attempts grows to.
	MaxDelay time.Duration
	// FailAfter bounds the number of reconnect attempts before the
	// supervisor gives up and transitions to the failed state. Zero
	// means retry forever.
	FailAfter int
	// RandomizationFactor jitters each wait by +/- this fraction.
	RandomizationFactor float64
}

// Options is the facade's configuration record. Every field corresponds
// to one of the recognized options in spec.md §3; a zero-valued field
// means "use the current default", so overlaying a partially-populated
// Options never clobbers settings the caller didn't mention.
type Options struct {
	Host string
	Port int

	// Reconnect is a pointer so "explicitly false" and "not specified"
	// are distinguishable during Merge.
	Reconnect      *bool
	ReconnectDelay time.Duration
	Backoff        Backoff

	ConnectionTimeout time.Duration
	QueueTimeout      time.Duration
	SendTimeout       time.Duration
	RetryInterval     time.Duration

	// TCPKeepAlive is a pointer for the same reason as Reconnect.
	TCPKeepAlive             *bool
	TCPKeepAliveInitialDelay time.Duration
}

// WithDefaults returns a copy of o with every zero-valued field replaced
// by the package default.
func (o Options) WithDefaults() Options {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Reconnect == nil {
		o.Reconnect = boolPtr(true)
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Backoff.Strategy == "" {
		o.Backoff.Strategy = DefaultBackoff.Strategy
	}
	if o.Backoff.InitialDelay == 0 {
		o.Backoff.InitialDelay = DefaultBackoff.InitialDelay
	}
	if o.Backoff.MaxDelay == 0 {
		o.Backoff.MaxDelay = DefaultBackoff.MaxDelay
	}
	if o.Backoff.RandomizationFactor == 0 {
		o.Backoff.RandomizationFactor = DefaultBackoff.RandomizationFactor
	}
	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	if o.QueueTimeout == 0 {
		o.QueueTimeout = DefaultQueueTimeout
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	if o.RetryInterval == 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.TCPKeepAlive == nil {
		o.TCPKeepAlive = boolPtr(true)
	}
	if o.TCPKeepAliveInitialDelay == 0 {
		o.TCPKeepAliveInitialDelay = DefaultTCPKeepAliveInitialDelay
	}
	return o
}

// Merge overlays non-zero fields of next onto o and returns the result;
// o is left untouched. This is the "shallow overlay" SetOptions uses.
func (o Options) Merge(next Options) Options {
	if next.Host != "" {
		o.Host = next.Host
	}
	if next.Port != 0 {
		o.Port = next.Port
	}
	if next.Reconnect != nil {
		o.Reconnect = next.Reconnect
	}
	if next.ReconnectDelay != 0 {
		o.ReconnectDelay = next.ReconnectDelay
	}
	if next.Backoff.Strategy != "" {
		o.Backoff.Strategy = next.Backoff.Strategy
	}
	if next.Backoff.InitialDelay != 0 {
		o.Backoff.InitialDelay = next.Backoff.InitialDelay
	}
	if next.Backoff.MaxDelay != 0 {
		o.Backoff.MaxDelay = next.Backoff.MaxDelay
	}
	if next.Backoff.FailAfter != 0 {
		o.Backoff.FailAfter = next.Backoff.FailAfter
	}
	if next.Backoff.RandomizationFactor != 0 {
		o.Backoff.RandomizationFactor = next.Backoff.RandomizationFactor
	}
	if next.ConnectionTimeout != 0 {
		o.ConnectionTimeout = next.ConnectionTimeout
	}
	if next.QueueTimeout != 0 {
		o.QueueTimeout = next.QueueTimeout
	}
	if next.SendTimeout != 0 {
		o.SendTimeout = next.SendTimeout
	}
	if next.RetryInterval != 0 {
		o.RetryInterval = next.RetryInterval
	}
	if next.TCPKeepAlive != nil {
		o.TCPKeepAlive = next.TCPKeepAlive
	}
	if next.TCPKeepAliveInitialDelay != 0 {
		o.TCPKeepAliveInitialDelay = next.TCPKeepAliveInitialDelay
	}
	return o
}

func boolPtr(b bool) *bool { return &b }
