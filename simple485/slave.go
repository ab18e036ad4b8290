package simple485

import (
	"fmt"
	"time"
)

// UnicastHandler processes a request addressed to this slave. The handler
// replies by calling msg.Respond; elapsed is the time since this slave last
// transmitted (zero duration with hasElapsed false when it never has).
type UnicastHandler func(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool)

// BroadcastHandler processes a broadcast message. Broadcast handlers must
// not reply; msg.Respond fails with ErrBroadcastReply.
type BroadcastHandler func(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool)

// Slave is an addressed node that serves requests from the Master.
//
// A Slave accepts only messages originating from MasterAddress and addressed
// to it (or broadcast), and dispatches them to the configured handlers. Poll
// must be called frequently, typically from a dedicated loop.
type Slave struct {
	node

	onUnicast   UnicastHandler
	onBroadcast BroadcastHandler
}

// SlaveOption is a functional option for configuring a Slave.
type SlaveOption interface {
	applySlave(*Slave) error
}

type slaveOptFunc func(*Slave) error

func (f slaveOptFunc) applySlave(s *Slave) error { return f(s) }

// WithUnicastHandler sets the handler for requests addressed to this slave.
func WithUnicastHandler(h UnicastHandler) SlaveOption {
	return slaveOptFunc(func(s *Slave) error {
		s.onUnicast = h

		return nil
	})
}

// WithBroadcastHandler sets the handler for broadcast messages.
func WithBroadcastHandler(h BroadcastHandler) SlaveOption {
	return slaveOptFunc(func(s *Slave) error {
		s.onBroadcast = h

		return nil
	})
}

// NewSlave creates a Slave bound to address on the bus described by cfg.
// The address must be in the slave range [FirstSlaveAddress, LastSlaveAddress].
func NewSlave(cfg *Config, address byte, opts ...SlaveOption) (*Slave, error) {
	if cfg == nil {
		return nil, fmt.Errorf("simple485: slave config is nil")
	}

	if !IsValidSlaveAddress(address) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlaveAddress, address)
	}

	bus, err := NewBus(cfg, address)
	if err != nil {
		return nil, err
	}

	s := &Slave{
		node: node{
			bus:    bus,
			logger: cfg.logger.With("role", "slave", "address", address),
		},
	}

	for _, opt := range opts {
		if err := opt.applySlave(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// SetAddress rebinds the slave to a new address. The new address must be in
// the slave range.
func (s *Slave) SetAddress(address byte) error {
	if !IsValidSlaveAddress(address) {
		return fmt.Errorf("%w: %d", ErrInvalidSlaveAddress, address)
	}

	return s.bus.SetAddress(address)
}

// Poll runs one processing tick: bus I/O plus handler dispatch for any
// complete messages. It must be called frequently.
func (s *Slave) Poll() {
	s.pollOnce(s)
}

// handleMessage dispatches a received message to the matching handler.
// Only messages from the Master are served.
func (s *Slave) handleMessage(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool) {
	if msg.SrcAddress() != MasterAddress {
		s.logger.Warn("simple485: message from a non-master node, ignoring",
			"src", msg.SrcAddress())

		return
	}

	if msg.IsBroadcast() {
		s.logger.Info("simple485: received broadcast message", "len", msg.Length())

		if s.onBroadcast != nil {
			s.onBroadcast(msg, elapsed, hasElapsed)
		}

		return
	}

	s.logger.Info("simple485: received request", "txn", msg.TransactionID(), "len", msg.Length())

	if s.onUnicast == nil {
		return
	}

	// Replies go out via msg.Respond, straight to the bus queue; a newly
	// queued reply counts as this node's last send for elapsed tracking.
	queuedBefore := s.bus.outbox.Length()
	s.onUnicast(msg, elapsed, hasElapsed)
	if s.bus.outbox.Length() > queuedBefore {
		s.lastSentAt = time.Now()
	}
}
