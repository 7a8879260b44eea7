// Package transfer implements the queue that turns a stream of commands
// into correlated request/response pairs: it holds commands until a
// connection is available, dispatches one at a time, retries on a busy
// signal within the send-timeout budget, and resolves each request from
// the classified response the connection supervisor hands it.
package transfer

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/gcunified/client/internal/gcerr"
	"github.com/gcunified/client/internal/protocol"
)

// Queue is a single-goroutine actor: every field below is touched only
// from its mailbox goroutine, so there are no locks anywhere in this
// package. Callers interact with it exclusively through the exported
// methods, which post closures onto the mailbox and, where a value must
// come back, wait on a private result channel.
type Queue struct {
	clock         clockwork.Clock
	logger        *logrus.Entry
	retryInterval time.Duration

	mailbox chan func()
	closed  chan struct{}
	once    sync.Once

	pending  []*Request
	inFlight *Request
	writeFn  func(string) error
	paused   bool
}

// NewQueue builds a Queue and starts its mailbox goroutine. The queue
// starts paused: nothing is sent until the connection supervisor calls
// Resume with a writer.
func NewQueue(clock clockwork.Clock, logger *logrus.Entry, retryInterval time.Duration) *Queue {
	q := &Queue{
		clock:         clock,
		logger:        logger,
		retryInterval: retryInterval,
		mailbox:       make(chan func(), 64),
		closed:        make(chan struct{}),
		paused:        true,
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	for {
		select {
		case fn := <-q.mailbox:
			fn()
		case <-q.closed:
			return
		}
	}
}

func (q *Queue) exec(fn func()) {
	select {
	case q.mailbox <- fn:
	case <-q.closed:
	}
}

// Push enqueues req. Priority requests (stopir) jump to the head of the
// line; everything else is FIFO. Push never blocks on dispatch: it
// returns as soon as the request is queued, and the caller waits on
// req.Done() for the outcome.
func (q *Queue) Push(req *Request) error {
	select {
	case <-q.closed:
		return gcerr.New(gcerr.CodeQueueCleared)
	default:
	}
	q.exec(func() { q.handlePush(req) })
	return nil
}

func (q *Queue) handlePush(req *Request) {
	if isSendir(req) && q.collapseDuplicateSendir(req) {
		q.dispatch()
		return
	}
	if req.Priority {
		q.pending = append([]*Request{req}, q.pending...)
	} else {
		q.pending = append(q.pending, req)
	}
	req.queueTimer = q.clock.AfterFunc(req.QueueTimeout, func() {
		q.exec(func() { q.handleQueueTimeout(req) })
	})
	q.dispatch()
}

// collapseDuplicateSendir implements the continuous-IR-repeat rule: if an
// identical, still-unsent sendir request is already queued, the stale one
// is resolved immediately with a synthetic "repeatir" response and req
// takes its place in the queue (same position, same queue timer
// treatment), rather than enqueuing a second copy.
func (q *Queue) collapseDuplicateSendir(req *Request) bool {
	for i, existing := range q.pending {
		if existing.Raw != req.Raw {
			continue
		}
		existing.cancelTimers()
		existing.resolve(Result{Response: "repeatir"})
		q.pending[i] = req
		req.queueTimer = q.clock.AfterFunc(req.QueueTimeout, func() {
			q.exec(func() { q.handleQueueTimeout(req) })
		})
		return true
	}
	return false
}

func (q *Queue) handleQueueTimeout(req *Request) {
	idx := q.indexPending(req)
	if idx < 0 {
		return // already dispatched, resolved, or purged
	}
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	req.resolve(Result{Err: gcerr.New(gcerr.CodeQueueTimeout)})
}

func (q *Queue) indexPending(req *Request) int {
	for i, r := range q.pending {
		if r == req {
			return i
		}
	}
	return -1
}

// dispatch sends the head of the queue if the connection is up and
// nothing else is currently in flight. Only one request is ever on the
// wire at a time, matching the device's own serial command processing.
func (q *Queue) dispatch() {
	if q.paused || q.writeFn == nil || q.inFlight != nil || len(q.pending) == 0 {
		return
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	req.queueTimer.Stop()
	q.inFlight = req
	req.firstSentAt = q.clock.Now()
	q.send(req)
}

func (q *Queue) send(req *Request) {
	q.logger.WithFields(logrus.Fields{"id": req.ID, "cmd": req.Log}).Debug("sending request")
	if err := q.writeFn(req.Raw + "\r"); err != nil {
		q.inFlight = nil
		req.resolve(Result{Err: err})
		return
	}
	if req.SendTimeout <= 0 {
		// Fire-and-forget: nothing correlates a response to this request,
		// so resolve as soon as the write succeeds.
		q.inFlight = nil
		req.resolve(Result{})
		q.dispatch()
		return
	}
	if req.sendTimer == nil {
		req.sendTimer = q.clock.AfterFunc(req.SendTimeout, func() {
			q.exec(func() { q.handleSendTimeout(req) })
		})
	}
}

func (q *Queue) handleSendTimeout(req *Request) {
	if q.inFlight != req {
		return
	}
	q.inFlight = nil
	req.resolve(Result{Err: gcerr.New(gcerr.CodeSendTimeout)})
	q.dispatch()
}

// HandleResponse is called by the connection supervisor with every
// complete line the framer yields, already classified.
func (q *Queue) HandleResponse(line string, cls protocol.Classification) {
	q.exec(func() { q.handleResponse(line, cls) })
}

func (q *Queue) handleResponse(line string, cls protocol.Classification) {
	switch cls.Kind {
	case protocol.KindBusy:
		q.handleBusy()
	case protocol.KindStopAck:
		q.handleStopAck(cls.Connector, line)
	case protocol.KindDeviceError:
		q.handleDeviceError(cls.ErrorCode)
	default:
		q.handleOK(line)
	}
}

// busyRetrySafetyMargin is the cushion a retry must clear within the
// send-timeout budget beyond the retryInterval itself: retrying only to
// have the send timer fire moments later would surface the wrong error
// (SEND_TIMEOUT instead of BUSY_IR) for what is really still a busy device.
const busyRetrySafetyMargin = 100 * time.Millisecond

// handleBusy implements the retry heuristic: as long as enough of the
// send-timeout budget remains for another retryInterval plus a safety
// margin, wait and resend; otherwise give up with a busy-specific error
// rather than the generic send timeout, since the device, not the network,
// is the reason.
func (q *Queue) handleBusy() {
	req := q.inFlight
	if req == nil {
		q.logger.Debug("dropping busy signal with no request in flight")
		return
	}
	elapsed := q.clock.Now().Sub(req.firstSentAt)
	remaining := req.SendTimeout - elapsed
	if remaining <= q.retryInterval+busyRetrySafetyMargin {
		req.cancelTimers()
		q.inFlight = nil
		req.resolve(Result{Err: gcerr.New(gcerr.CodeBusyIR)})
		q.dispatch()
		return
	}
	q.clock.AfterFunc(q.retryInterval, func() {
		q.exec(func() { q.retrySend(req) })
	})
}

func (q *Queue) retrySend(req *Request) {
	if q.inFlight != req {
		return // superseded by a send timeout or resolved already
	}
	q.send(req)
}

// handleStopAck correlates a stopir acknowledgement to the in-flight
// request if that's what produced it, then purges any other sendir
// requests (still queued) targeting the same connector: once the device
// has stopped transmitting on a port, those requests can never complete as
// sent.
//
// Two requests can be "what produced it": an in-flight sendir on this
// connector, stopped mid-transmission, resolves successfully with the
// stopir line itself as its response rather than the completeir it was
// expecting. An in-flight stopir resolves the ordinary way, against its
// own expected prefix.
func (q *Queue) handleStopAck(connector, line string) {
	if req := q.inFlight; req != nil && isSendir(req) && protocol.FamilyFromCommand(req.Raw) == connector {
		req.cancelTimers()
		q.inFlight = nil
		req.resolve(Result{Response: line})
		q.purgeSendirFor(connector)
		q.dispatch()
		return
	}
	if req := q.inFlight; req != nil && req.ExpectedPrefix != "" && strings.HasPrefix(line, req.ExpectedPrefix) {
		req.cancelTimers()
		q.inFlight = nil
		req.resolve(Result{Response: line})
		q.purgeSendirFor(connector)
		q.dispatch()
		return
	}
	q.purgeSendirFor(connector)
}

func (q *Queue) purgeSendirFor(connector string) {
	kept := q.pending[:0]
	for _, r := range q.pending {
		if isSendir(r) && protocol.FamilyFromCommand(r.Raw) == connector {
			r.cancelTimers()
			r.resolve(Result{Err: gcerr.New(gcerr.CodeQueueCleared)})
			continue
		}
		kept = append(kept, r)
	}
	q.pending = kept
}

func isSendir(r *Request) bool {
	return strings.HasPrefix(r.Raw, "sendir,")
}

// handleDeviceError resolves the in-flight request with the device's own
// error. The protocol guarantees requests are processed strictly in
// order with at most one in flight, so the in-flight request is always
// the oldest outstanding one and therefore the correct correlation target
// even though the error line itself carries no request id.
func (q *Queue) handleDeviceError(code string) {
	req := q.inFlight
	if req == nil {
		q.logger.WithField("code", code).Debug("dropping device error with no request in flight")
		return
	}
	req.cancelTimers()
	q.inFlight = nil
	req.resolve(Result{Err: gcerr.NewResponse(code, "")})
	q.dispatch()
}

func (q *Queue) handleOK(line string) {
	req := q.inFlight
	// An empty ExpectedPrefix marks an unrecognized command as
	// unmatchable by design (protocol.ExpectedPrefix's "none"): without
	// this guard strings.HasPrefix(line, "") would match any response.
	if req == nil || req.ExpectedPrefix == "" || !strings.HasPrefix(line, req.ExpectedPrefix) {
		q.logger.WithField("line", line).Debug("dropping unmatched response")
		return
	}
	req.cancelTimers()
	q.inFlight = nil
	req.resolve(Result{Response: line})
	q.purgeSuperseded(req)
	q.dispatch()
}

// purgeSuperseded drops queued-but-unsent requests older than resolved
// (lower ID) that share its "command,connector" prefix: a later write to
// the same connector makes an earlier, still-unsent write to that
// connector moot (e.g. repeated set_IR configuration writes). Newer
// requests stay queued. Purged requests are resolved with QUEUE_CLEARED
// rather than left hanging, since every push() must settle.
func (q *Queue) purgeSuperseded(resolved *Request) {
	connector := protocol.FamilyFromCommand(resolved.Raw)
	if connector == "" {
		return
	}
	verb := resolved.Raw
	if i := strings.Index(verb, ","); i >= 0 {
		verb = verb[:i]
	}
	prefix := verb + "," + connector
	kept := q.pending[:0]
	for _, r := range q.pending {
		if r.ID < resolved.ID && strings.HasPrefix(r.Raw, prefix) {
			r.cancelTimers()
			r.resolve(Result{Err: gcerr.New(gcerr.CodeQueueCleared)})
			q.logger.WithField("id", r.ID).Debug("purging superseded request")
			continue
		}
		kept = append(kept, r)
	}
	q.pending = kept
}

// Pause stops dispatch (used when the connection drops) and resolves
// whatever was in flight with connErr, since that request was genuinely
// lost mid-transit. Queued-but-undispatched requests are left alone: they
// stay queued until Resume or Clear.
func (q *Queue) Pause(connErr error) {
	q.exec(func() {
		q.paused = true
		q.writeFn = nil
		if req := q.inFlight; req != nil {
			req.cancelTimers()
			q.inFlight = nil
			req.resolve(Result{Err: connErr})
		}
	})
}

// Resume supplies a writer for the newly (re)established connection and
// restarts dispatch.
func (q *Queue) Resume(writeFn func(string) error) {
	q.exec(func() {
		q.paused = false
		q.writeFn = writeFn
		q.dispatch()
	})
}

// Clear purges every queued and in-flight request with the given code,
// without closing the queue. Used when the caller asks for the backlog to
// be dropped rather than drained.
func (q *Queue) Clear(code string) {
	q.exec(func() { q.clearLocked(code) })
}

func (q *Queue) clearLocked(code string) {
	for _, r := range q.pending {
		r.cancelTimers()
		r.resolve(Result{Err: gcerr.New(code)})
	}
	q.pending = nil
	if req := q.inFlight; req != nil {
		req.cancelTimers()
		q.inFlight = nil
		req.resolve(Result{Err: gcerr.New(code)})
	}
}

// Close purges the queue with QUEUE_CLEARED and stops the mailbox
// goroutine. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() {
		done := make(chan struct{})
		select {
		case q.mailbox <- func() {
			q.clearLocked(gcerr.CodeQueueCleared)
			close(done)
		}:
			<-done
		case <-q.closed:
		}
		close(q.closed)
	})
}

// Depth reports how many requests are waiting to be dispatched (not
// counting one in flight). It is synchronous: it waits for the mailbox to
// answer, so it reflects a consistent snapshot.
func (q *Queue) Depth() int {
	result := make(chan int, 1)
	select {
	case q.mailbox <- func() { result <- len(q.pending) }:
		return <-result
	case <-q.closed:
		return 0
	}
}

// InFlight reports whether a request is currently on the wire.
func (q *Queue) InFlight() bool {
	result := make(chan bool, 1)
	select {
	case q.mailbox <- func() { result <- q.inFlight != nil }:
		return <-result
	case <-q.closed:
		return false
	}
}
