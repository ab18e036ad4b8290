package simple485

import (
	"fmt"
	"time"
)

// replier is the non-owning handle a ReceivedMessage or Request keeps to the
// bus that produced it, used only to queue a correlated reply or a retry.
type replier interface {
	SendMessage(dst byte, payload []byte, transactionID byte) error
}

// ReceivedMessage is a fully parsed, validated message read from the bus.
//
// It is immutable after creation. The payload slice is owned by the message;
// callers must not modify it.
type ReceivedMessage struct {
	srcAddress    byte
	dstAddress    byte
	transactionID byte
	payload       []byte

	bus replier
}

// SrcAddress returns the address of the node that sent the message.
func (m *ReceivedMessage) SrcAddress() byte { return m.srcAddress }

// DstAddress returns the destination address (this node's address or the
// broadcast address).
func (m *ReceivedMessage) DstAddress() byte { return m.dstAddress }

// TransactionID returns the correlation byte linking a request to its reply.
// Zero means no reply is expected.
func (m *ReceivedMessage) TransactionID() byte { return m.transactionID }

// Length returns the payload length in bytes.
func (m *ReceivedMessage) Length() int { return len(m.payload) }

// Payload returns the message payload. The returned slice must be treated
// as read-only.
func (m *ReceivedMessage) Payload() []byte { return m.payload }

// IsBroadcast reports whether the message was sent to the broadcast address.
func (m *ReceivedMessage) IsBroadcast() bool {
	return m.dstAddress == BroadcastAddress
}

// Respond queues a reply to the original sender, reusing the message's
// transaction id so the Master can correlate it.
//
// Replying to a broadcast is rejected: multiple slaves answering the same
// broadcast would collide on the bus.
func (m *ReceivedMessage) Respond(payload []byte) error {
	if m.bus == nil {
		return ErrDetachedMessage
	}

	if m.IsBroadcast() {
		return ErrBroadcastReply
	}

	return m.bus.SendMessage(m.srcAddress, payload, m.transactionID)
}

func (m *ReceivedMessage) String() string {
	return fmt.Sprintf("msg(src=%d dst=%d txn=%d len=%d)",
		m.srcAddress, m.dstAddress, m.transactionID, len(m.payload))
}

// Request tracks one outgoing Master request through its lifecycle:
// initial send, timeout-driven retries, and final success or exhaustion.
// At most one Request is active per Master at any time.
type Request struct {
	dstAddress    byte
	payload       []byte
	transactionID byte
	sentAt        time.Time
	timeout       time.Duration
	maxRetries    int
	retryCount    int

	bus replier
}

// DstAddress returns the slave address the request was sent to.
func (r *Request) DstAddress() byte { return r.dstAddress }

// Payload returns the request payload.
func (r *Request) Payload() []byte { return r.payload }

// TransactionID returns the transaction id of the most recent send attempt.
func (r *Request) TransactionID() byte { return r.transactionID }

// RetryCount returns how many times the request has been retried.
func (r *Request) RetryCount() int { return r.retryCount }

// Timeout returns the per-attempt response timeout.
func (r *Request) Timeout() time.Duration { return r.timeout }

// MaxRetries returns the total number of retries allowed.
func (r *Request) MaxRetries() int { return r.maxRetries }

// timedOut reports whether the most recent attempt has exceeded its timeout.
func (r *Request) timedOut(now time.Time) bool {
	return now.Sub(r.sentAt) > r.timeout
}

// retriesLeft returns the number of remaining retries.
func (r *Request) retriesLeft() int {
	return r.maxRetries - r.retryCount
}

// retry re-sends the request with a fresh transaction id, refreshing the
// sent timestamp and incrementing the retry counter.
//
// The new transaction id must be non-zero and differ from the current one;
// reusing an id would let a stale reply match the new attempt.
func (r *Request) retry(newTransactionID byte, now time.Time) error {
	if r.bus == nil {
		return ErrDetachedRequest
	}

	if newTransactionID == NoReplyTransactionID || newTransactionID == r.transactionID {
		return fmt.Errorf("%w: retry id %d after %d", ErrInvalidTransactionID, newTransactionID, r.transactionID)
	}

	if r.retriesLeft() <= 0 {
		return ErrNoRetriesLeft
	}

	r.retryCount++
	r.transactionID = newTransactionID
	r.sentAt = now

	return r.bus.SendMessage(r.dstAddress, r.payload, r.transactionID)
}

func (r *Request) String() string {
	return fmt.Sprintf("request(dst=%d txn=%d len=%d retries=%d/%d)",
		r.dstAddress, r.transactionID, len(r.payload), r.retryCount, r.maxRetries)
}

// Response summarizes the outcome of one request/response cycle for the
// application layer. It is produced by ThreadedMaster.Call.
type Response struct {
	// Success is true if any reply was received. The caller is responsible
	// for inspecting the payload to determine logical success.
	Success bool

	// FailureReason describes why the request failed, when Success is false.
	FailureReason string

	// RTT is the round-trip time of a successful request, measured from the
	// moment the request was queued (so bus congestion shows up in it).
	RTT time.Duration

	// RetryCount is the number of retries the request went through.
	RetryCount int

	// Length is the reply payload length of a successful request.
	Length int

	// Payload is the reply payload of a successful request.
	Payload []byte
}

func (r *Response) String() string {
	if r.Success {
		return fmt.Sprintf("response(ok rtt=%v retries=%d len=%d)", r.RTT, r.RetryCount, r.Length)
	}

	return fmt.Sprintf("response(failed retries=%d reason=%q)", r.RetryCount, r.FailureReason)
}

// RequestError is the typed error a failed blocking call carries. It wraps
// ErrMaxRetriesExceeded and holds the failed Response for diagnostics.
type RequestError struct {
	Response *Response
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMaxRetriesExceeded, e.Response.FailureReason)
}

// Unwrap lets errors.Is match a RequestError against ErrMaxRetriesExceeded.
func (e *RequestError) Unwrap() error {
	return ErrMaxRetriesExceeded
}
