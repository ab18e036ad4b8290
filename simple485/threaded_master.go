package simple485

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Me-Phew/simple485-remastered/internal/pool"
)

// pollInterval is how long the background loop sleeps between ticks. Kept
// short so the receive path stays responsive at high bit rates.
const pollInterval = 100 * time.Microsecond

// callGraceTime pads the bounded wait in Call beyond the worst-case
// request lifetime, covering poll scheduling jitter.
const callGraceTime = 500 * time.Millisecond

// callResult carries one request outcome from the poll goroutine to the
// blocked caller.
type callResult struct {
	msg        *ReceivedMessage
	rtt        time.Duration
	retryCount int
}

// ThreadedMaster wraps a Master with a background poll goroutine and a
// blocking, goroutine-safe request/response API.
//
// Callers use Call; the embedded Master's state is touched only under
// stateMu, shared with the poll loop. Each Call owns the bus exclusively
// from send to outcome, serialized by callMu, which matches the Master's
// single-active-request model.
type ThreadedMaster struct {
	master *Master

	// callMu serializes callers; stateMu guards Master state between the
	// poll loop and the sending caller.
	callMu  sync.Mutex
	stateMu sync.Mutex

	// replyChans maps a request's destination address to the channel its
	// caller blocks on. Keyed by address rather than transaction id because
	// retries allocate fresh transaction ids mid-flight.
	replyChans *xsync.MapOf[byte, chan *callResult]

	running  atomic.Bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	// failureAsResponse makes Call return a failed Response instead of an
	// error when retries are exhausted.
	failureAsResponse bool
}

// ThreadedMasterOption is a functional option for configuring a ThreadedMaster.
type ThreadedMasterOption interface {
	applyThreaded(*ThreadedMaster) error
}

type threadedOptFunc func(*ThreadedMaster) error

func (f threadedOptFunc) applyThreaded(t *ThreadedMaster) error { return f(t) }

// WithFailureAsResponse makes Call report exhausted retries as a Response
// with Success set to false instead of returning an error.
func WithFailureAsResponse() ThreadedMasterOption {
	return threadedOptFunc(func(t *ThreadedMaster) error {
		t.failureAsResponse = true

		return nil
	})
}

// WithMasterOptions forwards options to the wrapped Master.
func WithMasterOptions(opts ...MasterOption) ThreadedMasterOption {
	return threadedOptFunc(func(t *ThreadedMaster) error {
		for _, opt := range opts {
			if err := opt.applyMaster(t.master); err != nil {
				return err
			}
		}

		return nil
	})
}

// NewThreadedMaster creates a stopped ThreadedMaster for the bus described
// by cfg. Run starts it.
func NewThreadedMaster(cfg *Config, opts ...ThreadedMasterOption) (*ThreadedMaster, error) {
	m, err := NewMaster(cfg)
	if err != nil {
		return nil, err
	}

	t := &ThreadedMaster{
		master:     m,
		replyChans: xsync.NewMapOf[byte, chan *callResult](),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	// The wrapped Master's handlers deliver outcomes to the blocked caller.
	m.onResponse = t.deliverResponse
	m.onRetriesExceeded = t.deliverFailure

	for _, opt := range opts {
		if err := opt.applyThreaded(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Run opens the bus and starts the background poll loop. It blocks until
// Stop is called, so it is typically launched in its own goroutine.
func (t *ThreadedMaster) Run() error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("simple485: threaded master is already running")
	}

	if err := t.master.Open(); err != nil {
		t.running.Store(false)

		return err
	}

	defer func() {
		if err := t.master.Close(); err != nil {
			t.master.logger.Error("simple485: failed to close bus", "error", err)
		}

		t.running.Store(false)
		close(t.doneCh)
	}()

	t.master.logger.Info("simple485: threaded master started")

	for {
		select {
		case <-t.stopCh:
			t.master.logger.Info("simple485: threaded master stopping")
			return nil
		default:
		}

		t.stateMu.Lock()
		t.master.Poll()
		t.stateMu.Unlock()

		time.Sleep(pollInterval)
	}
}

// Stop signals the poll loop to exit and waits for it to finish. Stop is
// idempotent and safe to call even if Run was never started.
func (t *ThreadedMaster) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })

	if t.running.Load() {
		<-t.doneCh
	}
}

// IsRunning reports whether the background poll loop is active.
func (t *ThreadedMaster) IsRunning() bool {
	return t.running.Load()
}

// Metrics returns the underlying bus metrics.
func (t *ThreadedMaster) Metrics() *BusMetrics {
	return t.master.Metrics()
}

// Call sends a request and blocks until a response arrives, retries are
// exhausted, or the bounded internal wait expires.
//
// Exhausted retries yield a *RequestError wrapping ErrMaxRetriesExceeded,
// or a failed Response when the master was built WithFailureAsResponse.
// Call is goroutine-safe; concurrent calls are served one at a time.
func (t *ThreadedMaster) Call(dst byte, payload []byte, opts ...RequestOption) (*Response, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	if !t.running.Load() {
		return nil, ErrNotRunning
	}

	resultCh := make(chan *callResult, 1)
	t.replyChans.Store(dst, resultCh)
	defer t.replyChans.Delete(dst)

	t.stateMu.Lock()
	err := t.master.SendRequest(dst, payload, opts...)

	var timeout time.Duration
	var retries int
	if err == nil {
		timeout = t.master.activeRequest.timeout
		retries = t.master.activeRequest.maxRetries
	}
	t.stateMu.Unlock()

	if err != nil {
		return nil, err
	}

	// The request is resolved by the poll goroutine within
	// timeout*(retries+1); anything beyond that plus grace is a bug.
	maxWait := timeout*time.Duration(retries+1) + callGraceTime

	timer := pool.GetTimer(maxWait)
	defer pool.PutTimer(timer)

	select {
	case result := <-resultCh:
		if result.msg == nil {
			resp := &Response{
				Success:       false,
				FailureReason: fmt.Sprintf("no response from %d after %d retries", dst, result.retryCount),
				RetryCount:    result.retryCount,
			}

			if t.failureAsResponse {
				return resp, nil
			}

			return resp, &RequestError{Response: resp}
		}

		return &Response{
			Success:    true,
			RTT:        result.rtt,
			RetryCount: result.retryCount,
			Length:     result.msg.Length(),
			Payload:    result.msg.Payload(),
		}, nil

	case <-timer.C:
		// The master guarantees an outcome within the bounded lifetime, so
		// reaching this point means the request state machine broke.
		t.master.logger.Error("simple485: request outcome never arrived",
			"dst", dst, "maxWait", maxWait)

		return nil, fmt.Errorf("%w: request to %d produced no outcome within %v",
			ErrInternalState, dst, maxWait)
	}
}

// FireAndForget sends a unicast message that expects no response.
// Goroutine-safe.
func (t *ThreadedMaster) FireAndForget(dst byte, payload []byte) error {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	if !t.running.Load() {
		return ErrNotRunning
	}

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	return t.master.SendFireAndForget(dst, payload)
}

// Broadcast sends a message to all slaves. Goroutine-safe.
func (t *ThreadedMaster) Broadcast(payload []byte) error {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	if !t.running.Load() {
		return ErrNotRunning
	}

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	return t.master.SendBroadcast(payload)
}

// deliverResponse runs on the poll goroutine when the active request gets
// a matching reply.
func (t *ThreadedMaster) deliverResponse(req *Request, msg *ReceivedMessage, rtt time.Duration) {
	ch, ok := t.replyChans.Load(req.DstAddress())
	if !ok {
		t.master.logger.Warn("simple485: response with no waiting caller, dropping",
			"dst", req.DstAddress())

		return
	}

	ch <- &callResult{msg: msg, rtt: rtt, retryCount: req.RetryCount()}
}

// deliverFailure runs on the poll goroutine when the active request
// exhausts its retries.
func (t *ThreadedMaster) deliverFailure(req *Request) {
	ch, ok := t.replyChans.Load(req.DstAddress())
	if !ok {
		t.master.logger.Warn("simple485: failure with no waiting caller, dropping",
			"dst", req.DstAddress())

		return
	}

	ch <- &callResult{retryCount: req.RetryCount()}
}
