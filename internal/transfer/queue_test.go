package transfer

import (
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/gcunified/client/internal/gcerr"
	"github.com/gcunified/client/internal/protocol"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestRequest(clock clockwork.Clock, id uint64, raw, expected string, priority bool) *Request {
	return NewRequest(id, raw, raw, expected, priority, time.Second, time.Second, clock)
}

// writeRecorder stands in for the connection supervisor's writer.
type writeRecorder struct {
	writes []string
}

func (w *writeRecorder) write(s string) error {
	w.writes = append(w.writes, s)
	return nil
}

func TestQueueDispatchAndResolve(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 50*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "getversion", "version", false)
	require.NoError(t, q.Push(req))

	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	require.Equal(t, []string{"getversion\r"}, rec.writes)

	q.HandleResponse("version,1.0", protocol.Classify("version,1.0"))

	res := <-req.Done()
	require.NoError(t, res.Err)
	require.Equal(t, "version,1.0", res.Response)
}

func TestQueueTimeoutWhilePaused(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 50*time.Millisecond)
	defer q.Close()

	req := newTestRequest(clock, 1, "getversion", "version", false)
	req.QueueTimeout = 100 * time.Millisecond
	require.NoError(t, q.Push(req))

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond)

	res := <-req.Done()
	gErr, ok := res.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeQueueTimeout, gErr.Code)
}

func TestQueueSendTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 50*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "getversion", "version", false)
	req.SendTimeout = 200 * time.Millisecond
	require.NoError(t, q.Push(req))

	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	clock.BlockUntil(1)
	clock.Advance(200 * time.Millisecond)

	res := <-req.Done()
	gErr, ok := res.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeSendTimeout, gErr.Code)
}

func TestQueueBusyRetryThenSuccess(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "sendir,1:1,27,38000,1,1,96,24", "completeir,1:1", false)
	req.SendTimeout = time.Second
	require.NoError(t, q.Push(req))

	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	q.HandleResponse("busyIR,1:1", protocol.Classify("busyIR,1:1"))

	// Two blockers are now registered: the original send-timeout deadline
	// and the freshly scheduled busy-retry wait.
	clock.BlockUntil(2)
	clock.Advance(10 * time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.writes) == 2 }, time.Second, time.Millisecond)

	q.HandleResponse("completeir,1:1,12", protocol.Classify("completeir,1:1,12"))
	res := <-req.Done()
	require.NoError(t, res.Err)
}

func TestQueueBusyGivesUpWhenBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 100*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "sendir,1:1,27,38000,1,1,96,24", "completeir,1:1", false)
	req.SendTimeout = 50 * time.Millisecond // smaller than the retry interval
	require.NoError(t, q.Push(req))

	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	q.HandleResponse("busyIR,1:1", protocol.Classify("busyIR,1:1"))

	res := <-req.Done()
	gErr, ok := res.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeBusyIR, gErr.Code)
}

func TestQueuePriorityJumpsAheadOfFIFO(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}

	first := newTestRequest(clock, 1, "getdevices", "device", false)
	stop := newTestRequest(clock, 2, "stopir,1:1", "stopir,1:1", true)

	require.NoError(t, q.Push(first))
	require.NoError(t, q.Push(stop))
	require.Equal(t, 2, q.Depth())

	q.Resume(rec.write)
	require.Eventually(t, func() bool { return len(rec.writes) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, "stopir,1:1\r", rec.writes[0])

	// getdevices must not be written until the stopir reply resolves it,
	// not merely because stopir was written first (S6's full flow).
	require.Never(t, func() bool { return len(rec.writes) > 1 }, 20*time.Millisecond, time.Millisecond)

	q.HandleResponse("stopir,1:1", protocol.Classify("stopir,1:1"))
	res := <-stop.Done()
	require.NoError(t, res.Err)

	require.Eventually(t, func() bool { return len(rec.writes) == 2 }, time.Second, time.Millisecond)
	require.Equal(t, "getdevices\r", rec.writes[1])
}

func TestQueueDeviceErrorResolvesInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "getstate,3:1", "getstate,3:1", false)
	require.NoError(t, q.Push(req))
	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)

	q.HandleResponse("ERR_3:1,014", protocol.Classify("ERR_3:1,014"))

	res := <-req.Done()
	respErr, ok := res.Err.(*gcerr.Response)
	require.True(t, ok)
	require.Equal(t, "014", respErr.Code)
}

func TestQueueStopAckPurgesMatchingSendir(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	// Keep the connection paused so both requests sit in the pending
	// queue, letting us exercise the purge-while-queued path.
	queued := newTestRequest(clock, 1, "sendir,1:1,27,38000,1,1,96,24", "completeir,1:1", false)
	other := newTestRequest(clock, 2, "sendir,2:1,27,38000,1,1,96,24", "completeir,2:1", false)
	require.NoError(t, q.Push(queued))
	require.NoError(t, q.Push(other))
	require.Equal(t, 2, q.Depth())

	q.HandleResponse("stopir,1:1", protocol.Classify("stopir,1:1"))

	res := <-queued.Done()
	gErr, ok := res.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeQueueCleared, gErr.Code)

	require.Equal(t, 1, q.Depth())
}

// TestQueueStopAckResolvesInFlightSendir exercises S7's primary case: a
// stopir ack for the connector an in-flight sendir is targeting resolves
// that sendir successfully with the stopir line itself, rather than the
// completeir it was dispatched expecting.
func TestQueueStopAckResolvesInFlightSendir(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}
	q.Resume(rec.write)

	req := newTestRequest(clock, 1, "sendir,1:1,7,38000,1,1,96,24", "completeir,1:1", false)
	require.NoError(t, q.Push(req))
	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)

	q.HandleResponse("stopir,1:1", protocol.Classify("stopir,1:1"))

	res := <-req.Done()
	require.NoError(t, res.Err)
	require.Equal(t, "stopir,1:1", res.Response)
	require.False(t, q.InFlight())

	// A subsequent completeir for the same, now-resolved request has
	// nothing in flight to match and is dropped.
	q.HandleResponse("completeir,1:1,7", protocol.Classify("completeir,1:1,7"))
}

// TestQueueDeviceErrorCorrelatesOldestOfTwo covers S5: with two pending
// requests, a device error always resolves the oldest (the one
// in-flight), leaving the newer one untouched and still pending.
func TestQueueDeviceErrorCorrelatesOldestOfTwo(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}

	older := newTestRequest(clock, 1, "getstate,1:1", "state,1:1", false)
	newer := newTestRequest(clock, 2, "get_IR,1:2", "IR,1:2", false)
	require.NoError(t, q.Push(older))
	require.NoError(t, q.Push(newer))
	require.Equal(t, 2, q.Depth())

	q.Resume(rec.write)
	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	require.Equal(t, "getstate,1:1\r", rec.writes[0])

	q.HandleResponse("ERR_1:1,014", protocol.Classify("ERR_1:1,014"))

	res := <-older.Done()
	respErr, ok := res.Err.(*gcerr.Response)
	require.True(t, ok)
	require.Equal(t, "014", respErr.Code)

	select {
	case <-newer.Done():
		t.Fatal("newer request resolved, expected it to still be pending")
	default:
	}
	require.Equal(t, 0, q.Depth())
	require.True(t, q.InFlight())
}

func TestQueueClearPurgesEverything(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	req := newTestRequest(clock, 1, "getversion", "version", false)
	require.NoError(t, q.Push(req))

	q.Clear(gcerr.CodeQueueCleared)

	res := <-req.Done()
	gErr, ok := res.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeQueueCleared, gErr.Code)
	require.Equal(t, 0, q.Depth())
}

func TestQueueCollapsesDuplicateSendirWhileQueued(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	raw := "sendir,1:1,27,38000,1,1,96,24"
	first := newTestRequest(clock, 1, raw, "completeir,1:1", false)
	second := newTestRequest(clock, 2, raw, "completeir,1:1", false)

	require.NoError(t, q.Push(first))
	require.NoError(t, q.Push(second))

	res := <-first.Done()
	require.NoError(t, res.Err)
	require.Equal(t, "repeatir", res.Response)

	require.Equal(t, 1, q.Depth())
}

func TestQueuePurgesSupersededConfigWrites(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewQueue(clock, testLogger(), 10*time.Millisecond)
	defer q.Close()

	rec := &writeRecorder{}

	// The newer write is pushed with priority so it is dispatched while the
	// older write to the same connector is still queued.
	stillQueued := newTestRequest(clock, 1, "set_IR,1:2,1", "IR,1:2", false)
	dispatched := newTestRequest(clock, 2, "set_IR,1:2,2", "IR,1:2", true)
	require.NoError(t, q.Push(stillQueued))
	require.NoError(t, q.Push(dispatched))

	q.Resume(rec.write)
	require.Eventually(t, func() bool { return q.InFlight() }, time.Second, time.Millisecond)
	require.Equal(t, "set_IR,1:2,2\r", rec.writes[0])

	q.HandleResponse("IR,1:2,2", protocol.Classify("IR,1:2,2"))
	res := <-dispatched.Done()
	require.NoError(t, res.Err)
	require.Equal(t, "IR,1:2,2", res.Response)

	res2 := <-stillQueued.Done()
	gErr, ok := res2.Err.(*gcerr.Base)
	require.True(t, ok)
	require.Equal(t, gcerr.CodeQueueCleared, gErr.Code)
}
