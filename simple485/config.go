package simple485

import (
	"errors"
	"fmt"
	"time"

	"github.com/Me-Phew/simple485-remastered/logger"
)

// Default timing values.
const (
	// DefaultTransceiverToggleTime is the settling delay applied before and
	// after flipping the transceiver direction.
	DefaultTransceiverToggleTime = 100 * time.Microsecond

	// DefaultLineReadyTime is the minimum bus idle time before this node may
	// start transmitting (collision avoidance).
	DefaultLineReadyTime = 10 * time.Millisecond

	// DefaultPacketTimeout is the maximum time allowed to assemble one
	// incoming packet from its SOH; a stalled accumulator past this is reset.
	DefaultPacketTimeout = 500 * time.Millisecond
)

// Timing range limits.
const (
	MaxTransceiverToggleTime = time.Second

	MinLineReadyTime = time.Millisecond
	MaxLineReadyTime = time.Second

	MinPacketTimeout = 10 * time.Millisecond
	MaxPacketTimeout = 10 * time.Second
)

// Config holds all configuration for a bus node.
type Config struct {
	transport Transport

	// transceiverToggleTime must be strictly positive: transceivers need a
	// nonzero settling time, and a zero value usually hides a
	// misconfiguration. Verify against the actual hardware datasheet.
	transceiverToggleTime time.Duration

	lineReadyTime time.Duration
	packetTimeout time.Duration

	// Transceiver direction control. At most one mechanism may be set;
	// with neither set, the transceiver is assumed to switch automatically.
	transmitPin  Pin
	useRTS       bool
	txActiveHigh bool

	logger logger.Logger
}

// NewConfig creates a bus configuration for the given transport.
// opts are functional options applied in order; see With* functions.
func NewConfig(transport Transport, opts ...Option) (*Config, error) {
	if transport == nil {
		return nil, ErrTransportNil
	}

	cfg := &Config{
		transport:             transport,
		transceiverToggleTime: DefaultTransceiverToggleTime,
		lineReadyTime:         DefaultLineReadyTime,
		packetTimeout:         DefaultPacketTimeout,
		txActiveHigh:          true,
		logger:                logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.transmitPin != nil && cfg.useRTS {
		return nil, ErrConflictingTxControl
	}

	if cfg.useRTS {
		if _, ok := transport.(RTSController); !ok {
			return nil, ErrRTSUnsupported
		}
	}

	return cfg, nil
}

// --- Getters ---

// Transport returns the configured transport.
func (cfg *Config) Transport() Transport { return cfg.transport }

// TransceiverToggleTime returns the transceiver settling delay.
func (cfg *Config) TransceiverToggleTime() time.Duration { return cfg.transceiverToggleTime }

// LineReadyTime returns the minimum bus idle time before transmitting.
func (cfg *Config) LineReadyTime() time.Duration { return cfg.lineReadyTime }

// PacketTimeout returns the packet assembly timeout.
func (cfg *Config) PacketTimeout() time.Duration { return cfg.packetTimeout }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTransceiverToggleTime sets the settling delay applied before and after
// each transceiver direction flip. Must be in (0, MaxTransceiverToggleTime].
func WithTransceiverToggleTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidToggleTime, d)
		}
		if d > MaxTransceiverToggleTime {
			return fmt.Errorf("%w: toggle time %v exceeds %v", ErrInvalidTiming, d, MaxTransceiverToggleTime)
		}
		cfg.transceiverToggleTime = d

		return nil
	})
}

// WithLineReadyTime sets the minimum bus idle time before this node may
// transmit. Must be in [MinLineReadyTime, MaxLineReadyTime].
func WithLineReadyTime(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinLineReadyTime || d > MaxLineReadyTime {
			return fmt.Errorf("%w: line ready time %v out of range [%v, %v]",
				ErrInvalidTiming, d, MinLineReadyTime, MaxLineReadyTime)
		}
		cfg.lineReadyTime = d

		return nil
	})
}

// WithPacketTimeout sets the packet assembly timeout.
// Must be in [MinPacketTimeout, MaxPacketTimeout].
func WithPacketTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPacketTimeout || d > MaxPacketTimeout {
			return fmt.Errorf("%w: packet timeout %v out of range [%v, %v]",
				ErrInvalidTiming, d, MinPacketTimeout, MaxPacketTimeout)
		}
		cfg.packetTimeout = d

		return nil
	})
}

// WithTransmitPin configures a digital output that drives the transceiver's
// transmit-enable input. Mutually exclusive with WithRTSTransmitControl.
func WithTransmitPin(pin Pin) Option {
	return optFunc(func(cfg *Config) error {
		if pin == nil {
			return errors.New("simple485: transmit pin must not be nil")
		}
		cfg.transmitPin = pin

		return nil
	})
}

// WithRTSTransmitControl uses the transport's RTS line to drive the
// transceiver direction. The transport must implement RTSController.
// Mutually exclusive with WithTransmitPin.
func WithRTSTransmitControl() Option {
	return optFunc(func(cfg *Config) error {
		cfg.useRTS = true

		return nil
	})
}

// WithTxActiveLow inverts the transceiver direction polarity: transmit mode
// is asserted by driving the pin (or RTS line) low instead of high.
func WithTxActiveLow() Option {
	return optFunc(func(cfg *Config) error {
		cfg.txActiveHigh = false

		return nil
	})
}

// WithLogger sets the logger for the node.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("simple485: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
