package simple485

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlave(t *testing.T, transport Transport, address byte, opts ...SlaveOption) *Slave {
	t.Helper()

	s, err := NewSlave(newTestConfig(t, transport), address, opts...)
	if err != nil {
		t.Fatalf("failed to create test slave: %v", err)
	}

	if err := s.Open(); err != nil {
		t.Fatalf("failed to open test slave: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestNewSlaveValidatesAddress(t *testing.T) {
	transport := newStubTransport()

	_, err := NewSlave(newTestConfig(t, transport), MasterAddress)
	assert.ErrorIs(t, err, ErrInvalidSlaveAddress)

	_, err = NewSlave(newTestConfig(t, transport), BroadcastAddress)
	assert.ErrorIs(t, err, ErrInvalidSlaveAddress)

	s, err := NewSlave(newTestConfig(t, transport), FirstSlaveAddress)
	require.NoError(t, err)
	assert.Equal(t, FirstSlaveAddress, s.Address())
}

func TestSlaveServesRequest(t *testing.T) {
	transport := newStubTransport()
	s := newTestSlave(t, transport, 5,
		WithUnicastHandler(func(msg *ReceivedMessage, _ time.Duration, _ bool) {
			require.NoError(t, msg.Respond([]byte("pong")))
		}),
	)

	transport.feedInput(BuildPacket(5, MasterAddress, 9, []byte("ping")))
	s.Poll()

	// The reply is queued; once the line goes idle it is transmitted with
	// the request's transaction id, addressed back to the master.
	require.True(t, s.PendingSend())
	s.bus.lastBusActivity = time.Now().Add(-time.Second)
	s.Poll()

	assert.Equal(t, BuildPacket(MasterAddress, 5, 9, []byte("pong")), transport.out)
}

func TestSlaveIgnoresNonMasterTraffic(t *testing.T) {
	transport := newStubTransport()

	served := 0
	s := newTestSlave(t, transport, 5,
		WithUnicastHandler(func(*ReceivedMessage, time.Duration, bool) { served++ }),
	)

	// A message from another slave address passes framing but is rejected
	// at the role layer.
	transport.feedInput(BuildPacket(5, 7, 1, []byte("peer")))
	s.Poll()

	assert.Equal(t, 0, served)
	assert.False(t, s.PendingSend())
}

func TestSlaveBroadcastDispatchAndNoReply(t *testing.T) {
	transport := newStubTransport()

	var replyErr error
	broadcasts := 0
	unicasts := 0
	s := newTestSlave(t, transport, 5,
		WithUnicastHandler(func(*ReceivedMessage, time.Duration, bool) { unicasts++ }),
		WithBroadcastHandler(func(msg *ReceivedMessage, _ time.Duration, _ bool) {
			broadcasts++
			replyErr = msg.Respond([]byte("must fail"))
		}),
	)

	transport.feedInput(BuildPacket(BroadcastAddress, MasterAddress, NoReplyTransactionID, []byte("all")))
	s.Poll()

	assert.Equal(t, 1, broadcasts)
	assert.Equal(t, 0, unicasts)
	assert.ErrorIs(t, replyErr, ErrBroadcastReply)
	assert.False(t, s.PendingSend())
}

func TestSlaveSetAddress(t *testing.T) {
	transport := newStubTransport()

	served := 0
	s := newTestSlave(t, transport, 5,
		WithUnicastHandler(func(*ReceivedMessage, time.Duration, bool) { served++ }),
	)

	require.ErrorIs(t, s.SetAddress(MasterAddress), ErrInvalidSlaveAddress)
	require.NoError(t, s.SetAddress(9))
	assert.Equal(t, byte(9), s.Address())

	// Traffic for the old address no longer reaches the handler.
	transport.feedInput(BuildPacket(5, MasterAddress, 1, []byte("old")))
	s.Poll()
	assert.Equal(t, 0, served)

	transport.feedInput(BuildPacket(9, MasterAddress, 2, []byte("new")))
	s.Poll()
	assert.Equal(t, 1, served)
}

func TestSlaveElapsedSinceLastSend(t *testing.T) {
	transport := newStubTransport()

	var sawElapsed bool
	var elapsedValid bool
	s := newTestSlave(t, transport, 5,
		WithUnicastHandler(func(msg *ReceivedMessage, elapsed time.Duration, hasElapsed bool) {
			sawElapsed = hasElapsed
			elapsedValid = elapsed >= 0
			_ = msg.Respond([]byte("ok"))
		}),
	)

	// First request: the slave has never transmitted, so no elapsed time
	// is available.
	transport.feedInput(BuildPacket(5, MasterAddress, 1, []byte("first")))
	s.Poll()
	assert.False(t, sawElapsed)

	// Flush the queued reply so lastSentAt is set, then serve another.
	s.bus.lastBusActivity = time.Now().Add(-time.Second)
	s.Poll()

	transport.feedInput(BuildPacket(5, MasterAddress, 2, []byte("second")))
	s.Poll()
	assert.True(t, sawElapsed)
	assert.True(t, elapsedValid)
}
