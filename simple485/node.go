package simple485

import (
	"time"

	"github.com/Me-Phew/simple485-remastered/logger"
)

// messageHandler is the per-role dispatch capability. Master and Slave form
// a closed set of implementations; the shared node base routes every
// completed message through it.
type messageHandler interface {
	// handleMessage processes one validated incoming message. elapsed is
	// the time between this node's last send and the message's arrival;
	// hasElapsed is false if the node has not sent anything yet.
	handleMessage(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool)
}

// node is the shared base of the role layer: it owns the bus and drains
// completed messages into the role's handler.
type node struct {
	bus    *Bus
	logger logger.Logger

	// lastSentAt is the time the node last queued a unicast message. The
	// derived elapsed time therefore includes queueing delay on purpose:
	// bus congestion shows up in measured round-trip times.
	lastSentAt time.Time
}

// pollOnce runs one bus tick and dispatches every completed message.
// Handler panics or rejected messages never interrupt the loop.
func (n *node) pollOnce(h messageHandler) {
	n.bus.Poll()

	for n.bus.Available() > 0 {
		msg, err := n.bus.Read()
		if err != nil {
			n.logger.Error("simple485: failed to read queued message", "error", err)
			return
		}

		var elapsed time.Duration
		hasElapsed := !n.lastSentAt.IsZero()
		if hasElapsed {
			elapsed = n.bus.LastBusActivity().Sub(n.lastSentAt)
		}

		h.handleMessage(msg, elapsed, hasElapsed)
	}
}

// sendUnicast queues a message to a specific node address.
func (n *node) sendUnicast(dst byte, payload []byte, transactionID byte) error {
	if !IsValidNodeAddress(dst) {
		return ErrInvalidAddress
	}

	if err := n.bus.SendMessage(dst, payload, transactionID); err != nil {
		return err
	}

	n.lastSentAt = time.Now()

	return nil
}

// sendBroadcast queues a message to all slaves.
func (n *node) sendBroadcast(payload []byte, transactionID byte) error {
	return n.bus.SendMessage(BroadcastAddress, payload, transactionID)
}

// --- Lifecycle and bus passthroughs shared by both roles ---

// Open opens the underlying bus.
func (n *node) Open() error { return n.bus.Open() }

// Close closes the underlying bus.
func (n *node) Close() error { return n.bus.Close() }

// IsOpen reports whether the underlying bus is open.
func (n *node) IsOpen() bool { return n.bus.IsOpen() }

// Address returns the node's current bus address.
func (n *node) Address() byte { return n.bus.Address() }

// PendingSend reports whether the bus has messages queued for transmission.
func (n *node) PendingSend() bool { return n.bus.PendingSend() }

// Metrics returns the underlying bus metrics.
func (n *node) Metrics() *BusMetrics { return n.bus.Metrics() }
