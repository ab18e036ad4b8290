package simple485

import (
	"fmt"
	"time"
)

// Default request parameters.
const (
	// DefaultRequestTimeout is the default time to wait for a slave's
	// response before retrying.
	DefaultRequestTimeout = time.Second

	// DefaultMaxRetries is the default number of retries per request.
	DefaultMaxRetries = 3
)

// ResponseHandler is invoked when a matching response to the active request
// arrives. req is a snapshot of the completed request; rtt is the elapsed
// time since the request was queued.
type ResponseHandler func(req *Request, msg *ReceivedMessage, rtt time.Duration)

// RetriesExceededHandler is invoked exactly once when a request has timed
// out with no retries left.
type RetriesExceededHandler func(req *Request)

// Master is the single node (address 0) that initiates request/response
// exchanges on the bus.
//
// A Master tracks at most one active request at a time. Each Poll drives the
// bus, correlates incoming messages against the active request by source
// address and transaction id, and handles timeout-driven retries. Poll and
// the send methods must not be called concurrently; use ThreadedMaster for a
// goroutine-safe blocking API.
type Master struct {
	node

	requestTimeout time.Duration
	maxRetries     int

	// lastTransactionID is the most recently allocated transaction id; the
	// allocator wraps within [1, 255], skipping the no-reply sentinel 0.
	lastTransactionID byte

	activeRequest *Request

	onResponse        ResponseHandler
	onRetriesExceeded RetriesExceededHandler
}

// MasterOption is a functional option for configuring a Master.
type MasterOption interface {
	applyMaster(*Master) error
}

type masterOptFunc func(*Master) error

func (f masterOptFunc) applyMaster(m *Master) error { return f(m) }

// WithRequestTimeout sets the default per-attempt response timeout.
func WithRequestTimeout(d time.Duration) MasterOption {
	return masterOptFunc(func(m *Master) error {
		if d <= 0 {
			return fmt.Errorf("%w: request timeout %v must be positive", ErrInvalidTiming, d)
		}
		m.requestTimeout = d

		return nil
	})
}

// WithMaxRetries sets the default number of retries per request.
func WithMaxRetries(n int) MasterOption {
	return masterOptFunc(func(m *Master) error {
		if n < 0 {
			return fmt.Errorf("simple485: max retries %d must not be negative", n)
		}
		m.maxRetries = n

		return nil
	})
}

// WithResponseHandler sets the handler invoked on each matched response.
func WithResponseHandler(h ResponseHandler) MasterOption {
	return masterOptFunc(func(m *Master) error {
		m.onResponse = h

		return nil
	})
}

// WithRetriesExceededHandler sets the handler invoked when a request
// exhausts all retries.
func WithRetriesExceededHandler(h RetriesExceededHandler) MasterOption {
	return masterOptFunc(func(m *Master) error {
		m.onRetriesExceeded = h

		return nil
	})
}

// NewMaster creates the Master node for the bus described by cfg.
// The Master always uses the reserved MasterAddress.
func NewMaster(cfg *Config, opts ...MasterOption) (*Master, error) {
	if cfg == nil {
		return nil, fmt.Errorf("simple485: master config is nil")
	}

	bus, err := NewBus(cfg, MasterAddress)
	if err != nil {
		return nil, err
	}

	m := &Master{
		node: node{
			bus:    bus,
			logger: cfg.logger.With("role", "master"),
		},
		requestTimeout: DefaultRequestTimeout,
		maxRetries:     DefaultMaxRetries,
	}

	for _, opt := range opts {
		if err := opt.applyMaster(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RequestTimeout returns the default per-attempt response timeout.
func (m *Master) RequestTimeout() time.Duration { return m.requestTimeout }

// SetRequestTimeout changes the default per-attempt response timeout.
func (m *Master) SetRequestTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: request timeout %v must be positive", ErrInvalidTiming, d)
	}

	m.requestTimeout = d

	return nil
}

// PendingRequest reports whether a request is active and awaiting a response.
func (m *Master) PendingRequest() bool {
	return m.activeRequest != nil
}

// nextTransactionID allocates the next transaction id, wrapping from 255
// back to 1 so the no-reply sentinel 0 is never allocated.
func (m *Master) nextTransactionID() byte {
	if m.lastTransactionID == 255 {
		m.lastTransactionID = 1
	} else {
		m.lastTransactionID++
	}

	return m.lastTransactionID
}

// RequestOption overrides per-request parameters in SendRequest.
type RequestOption func(*Request) error

// RequestTimeout overrides the response timeout for a single request.
func RequestTimeout(d time.Duration) RequestOption {
	return func(r *Request) error {
		if d <= 0 {
			return fmt.Errorf("%w: request timeout %v must be positive", ErrInvalidTiming, d)
		}
		r.timeout = d

		return nil
	}
}

// RequestMaxRetries overrides the retry budget for a single request.
func RequestMaxRetries(n int) RequestOption {
	return func(r *Request) error {
		if n < 0 {
			return fmt.Errorf("simple485: max retries %d must not be negative", n)
		}
		r.maxRetries = n

		return nil
	}
}

// SendRequest sends a unicast request and tracks it as the active request.
//
// It fails with ErrRequestPending while another request is active; the
// existing request is never silently replaced.
func (m *Master) SendRequest(dst byte, payload []byte, opts ...RequestOption) error {
	if m.PendingRequest() {
		m.logger.Warn("simple485: cannot send a new request while another is active",
			"active", m.activeRequest.String())

		return ErrRequestPending
	}

	req := &Request{
		dstAddress: dst,
		payload:    payload,
		timeout:    m.requestTimeout,
		maxRetries: m.maxRetries,
		bus:        m.bus,
	}

	for _, opt := range opts {
		if err := opt(req); err != nil {
			return err
		}
	}

	req.transactionID = m.nextTransactionID()
	req.sentAt = time.Now()

	if err := m.sendUnicast(dst, payload, req.transactionID); err != nil {
		return err
	}

	m.activeRequest = req
	m.logger.Info("simple485: sent request", "dst", dst, "txn", req.transactionID)

	return nil
}

// SendFireAndForget sends a unicast message that expects no response.
// It never populates the active-request slot.
func (m *Master) SendFireAndForget(dst byte, payload []byte) error {
	if err := m.sendUnicast(dst, payload, NoReplyTransactionID); err != nil {
		return err
	}

	m.logger.Info("simple485: sent fire-and-forget message", "dst", dst)

	return nil
}

// SendBroadcast sends a message to all slaves. Broadcasts expect no response
// and never populate the active-request slot.
func (m *Master) SendBroadcast(payload []byte) error {
	if err := m.sendBroadcast(payload, NoReplyTransactionID); err != nil {
		return err
	}

	m.logger.Info("simple485: sent broadcast message")

	return nil
}

// Poll runs one processing tick: bus I/O, response correlation, and
// timeout/retry bookkeeping for the active request. It must be called
// frequently.
func (m *Master) Poll() {
	m.pollOnce(m)
	m.checkActiveRequest()
}

// handleMessage correlates an incoming message against the active request.
func (m *Master) handleMessage(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool) {
	if msg.SrcAddress() == MasterAddress || msg.IsBroadcast() {
		m.logger.Warn("simple485: master received a message from an invalid source, ignoring",
			"src", msg.SrcAddress(), "broadcast", msg.IsBroadcast())

		return
	}

	if m.activeRequest == nil {
		m.logger.Warn("simple485: received message without an active request, ignoring",
			"msg", msg.String())

		return
	}

	if msg.TransactionID() != m.activeRequest.transactionID {
		m.logger.Warn("simple485: transaction id mismatch, ignoring",
			"got", msg.TransactionID(), "want", m.activeRequest.transactionID)

		return
	}

	if msg.SrcAddress() != m.activeRequest.dstAddress {
		m.logger.Warn("simple485: response from wrong address, ignoring",
			"got", msg.SrcAddress(), "want", m.activeRequest.dstAddress)

		return
	}

	req := m.activeRequest
	m.activeRequest = nil

	m.logger.Info("simple485: received valid response", "src", msg.SrcAddress(), "rtt", elapsed)

	if m.onResponse != nil {
		if !hasElapsed {
			elapsed = 0
		}
		m.onResponse(req, msg, elapsed)
	}
}

// checkActiveRequest drives the timeout/retry state of the active request.
func (m *Master) checkActiveRequest() {
	if m.activeRequest == nil {
		return
	}

	if !m.activeRequest.timedOut(time.Now()) {
		return
	}

	if m.activeRequest.retriesLeft() > 0 {
		newID := m.nextTransactionID()
		m.logger.Warn("simple485: request timed out, retrying",
			"dst", m.activeRequest.dstAddress, "newTxn", newID)

		if err := m.activeRequest.retry(newID, time.Now()); err != nil {
			m.logger.Error("simple485: retry failed", "error", err)
			return
		}

		m.bus.metrics.incRequestRetry()

		return
	}

	failed := m.activeRequest
	m.activeRequest = nil
	m.bus.metrics.incRequestFail()

	m.logger.Error("simple485: request exceeded max retries",
		"dst", failed.dstAddress, "retries", failed.retryCount)

	if m.onRetriesExceeded != nil {
		m.onRetriesExceeded(failed)
	}
}
