package simple485

import "errors"

// Sentinel errors for the protocol engine.
var (
	// Construction errors.
	ErrTransportNil         = errors.New("simple485: transport is nil")
	ErrInvalidAddress       = errors.New("simple485: invalid node address")
	ErrInvalidSlaveAddress  = errors.New("simple485: invalid slave address")
	ErrInvalidToggleTime    = errors.New("simple485: transceiver toggle time must be positive")
	ErrInvalidTiming        = errors.New("simple485: timing parameter out of range")
	ErrConflictingTxControl = errors.New("simple485: both transmit pin and RTS transceiver control configured")
	ErrRTSUnsupported       = errors.New("simple485: transport does not expose RTS line control")

	// Argument errors (fatal to the call, not to the engine).
	ErrEmptyPayload         = errors.New("simple485: payload is empty")
	ErrPayloadTooLarge      = errors.New("simple485: payload exceeds maximum length")
	ErrNoMessagesAvailable  = errors.New("simple485: no messages available to read")
	ErrInvalidTransactionID = errors.New("simple485: invalid transaction id")

	// Reply errors.
	ErrBroadcastReply  = errors.New("simple485: cannot reply to a broadcast message")
	ErrDetachedMessage = errors.New("simple485: message is not attached to a bus")
	ErrDetachedRequest = errors.New("simple485: request is not attached to a bus")

	// Request lifecycle errors.
	ErrRequestPending     = errors.New("simple485: another request is already active")
	ErrNoRetriesLeft      = errors.New("simple485: no retries left for this request")
	ErrMaxRetriesExceeded = errors.New("simple485: request failed after exhausting all retries")

	// Facade errors.
	ErrNotRunning    = errors.New("simple485: background poll loop is not running")
	ErrInternalState = errors.New("simple485: internal state violation")
)
