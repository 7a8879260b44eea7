package transfer

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Result is what a Request resolves to: either a decoded response string
// or an error (ResponseError, QUEUE_TIMEOUT, SEND_TIMEOUT, QUEUE_CLEARED,
// or a connection error the request was in flight for).
type Result struct {
	Response string
	Err      error
}

// Request is one command queued for the device. It owns its own timers so
// the queue goroutine only has to react to them, never schedule arbitrary
// wakeups.
type Request struct {
	ID   uint64
	Raw  string // exact bytes to send, without the trailing \r
	Log  string // redacted form safe to put in a log line

	ExpectedPrefix string
	Priority       bool // true for stopir, which jumps the queue

	QueueTimeout time.Duration
	SendTimeout  time.Duration

	EnqueuedAt time.Time

	done chan Result

	// state used only by the queue goroutine; never touched concurrently.
	queueTimer  clockwork.Timer
	sendTimer   clockwork.Timer
	firstSentAt time.Time // set once, kept across busy retries to budget SendTimeout
}

// NewRequest builds a Request ready to push onto a Queue. clock is used
// only to stamp EnqueuedAt so fake-clock tests see a deterministic value.
func NewRequest(id uint64, raw, log string, expectedPrefix string, priority bool, queueTimeout, sendTimeout time.Duration, clock clockwork.Clock) *Request {
	return &Request{
		ID:             id,
		Raw:            raw,
		Log:            log,
		ExpectedPrefix: expectedPrefix,
		Priority:       priority,
		QueueTimeout:   queueTimeout,
		SendTimeout:    sendTimeout,
		EnqueuedAt:     clock.Now(),
		done:           make(chan Result, 1),
	}
}

// Done returns the channel the request resolves on. Reading always
// succeeds exactly once.
func (r *Request) Done() <-chan Result {
	return r.done
}

// resolve completes the request exactly once; later calls are no-ops so
// queue code can resolve defensively without tracking whether it already
// did.
func (r *Request) resolve(res Result) {
	select {
	case r.done <- res:
	default:
	}
}

func (r *Request) cancelTimers() {
	if r.queueTimer != nil {
		r.queueTimer.Stop()
	}
	if r.sendTimer != nil {
		r.sendTimer.Stop()
	}
}
