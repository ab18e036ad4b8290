package busintegration

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Me-Phew/simple485-remastered/logger"
	"github.com/Me-Phew/simple485-remastered/simple485"
	"github.com/Me-Phew/simple485-remastered/transport/loopback"
)

// nopLogger keeps integration output readable; failure scenarios are
// exercised on purpose and would otherwise flood the log.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) Error(string, ...any)        {}
func (nopLogger) Fatal(string, ...any)        {}
func (l nopLogger) With(...any) logger.Logger { return l }
func (nopLogger) Level() logger.Level         { return logger.ErrorLevel }
func (nopLogger) SetLevel(logger.Level)       {}

func quietLogger(t *testing.T) logger.Logger {
	t.Helper()

	return nopLogger{}
}

func newBusConfig(t *testing.T, ep *loopback.Endpoint) *simple485.Config {
	t.Helper()

	cfg, err := simple485.NewConfig(ep,
		simple485.WithLogger(quietLogger(t)),
		simple485.WithLineReadyTime(simple485.MinLineReadyTime),
	)
	require.NoError(t, err)

	return cfg
}

// runSlave starts a polling slave goroutine, stopped on test cleanup.
func runSlave(t *testing.T, s *simple485.Slave) {
	t.Helper()

	require.NoError(t, s.Open())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			s.Poll()
			time.Sleep(100 * time.Microsecond)
		}
	}()

	t.Cleanup(func() {
		close(stop)
		wg.Wait()
		_ = s.Close()
	})
}

func runMaster(t *testing.T, tm *simple485.ThreadedMaster) {
	t.Helper()

	go func() {
		if err := tm.Run(); err != nil {
			t.Errorf("master run failed: %v", err)
		}
	}()
	t.Cleanup(tm.Stop)

	require.Eventually(t, tm.IsRunning, time.Second, time.Millisecond)
}

func TestMasterSlaveRequestResponse(t *testing.T) {
	wire := loopback.NewBus()

	slave, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), 5,
		simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
			require.Equal(t, []byte("hello"), msg.Payload())
			require.NoError(t, msg.Respond([]byte("world")))
		}),
	)
	require.NoError(t, err)
	runSlave(t, slave)

	tm, err := simple485.NewThreadedMaster(newBusConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)
	runMaster(t, tm)

	resp, err := tm.Call(5, []byte("hello"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, []byte("world"), resp.Payload)
	assert.Equal(t, 5, resp.Length)
	assert.Equal(t, 0, resp.RetryCount)
	assert.Greater(t, resp.RTT, time.Duration(0))
}

func TestBroadcastReachesAllSlavesWithoutReplies(t *testing.T) {
	wire := loopback.NewBus()

	var received atomic.Int32
	for addr := byte(1); addr <= 3; addr++ {
		slave, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), addr,
			simple485.WithBroadcastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
				received.Add(1)
				// Answering a broadcast would collide with the other slaves.
				assert.ErrorIs(t, msg.Respond([]byte("nope")), simple485.ErrBroadcastReply)
			}),
		)
		require.NoError(t, err)
		runSlave(t, slave)
	}

	tm, err := simple485.NewThreadedMaster(newBusConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)
	runMaster(t, tm)

	require.NoError(t, tm.Broadcast([]byte("attention")))

	require.Eventually(t, func() bool {
		return received.Load() == 3
	}, 2*time.Second, time.Millisecond)

	// No slave transmitted anything back.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), tm.Metrics().MsgRecvCount.Load())
}

func TestRequestToDeadAddressTimesOut(t *testing.T) {
	wire := loopback.NewBus()

	slave, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), 5,
		simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
			_ = msg.Respond(msg.Payload())
		}),
	)
	require.NoError(t, err)
	runSlave(t, slave)

	tm, err := simple485.NewThreadedMaster(newBusConfig(t, wire.NewEndpoint()),
		simple485.WithFailureAsResponse(),
		simple485.WithMasterOptions(
			simple485.WithRequestTimeout(20*time.Millisecond),
			simple485.WithMaxRetries(1),
		),
	)
	require.NoError(t, err)
	runMaster(t, tm)

	// Address 9 is silent; address 5 still answers afterwards, proving the
	// failed request fully released the master.
	resp, err := tm.Call(9, []byte("anyone"))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.RetryCount)

	resp, err = tm.Call(5, []byte("still there"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []byte("still there"), resp.Payload)
}

func TestManySequentialRequests(t *testing.T) {
	wire := loopback.NewBus()

	slave, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), 7,
		simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
			_ = msg.Respond(msg.Payload())
		}),
	)
	require.NoError(t, err)
	runSlave(t, slave)

	tm, err := simple485.NewThreadedMaster(newBusConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)
	runMaster(t, tm)

	const rounds = 50
	for i := 0; i < rounds; i++ {
		payload := []byte(fmt.Sprintf("round %03d", i))
		resp, err := tm.Call(7, payload)
		require.NoError(t, err, "round %d", i)
		require.Equal(t, payload, resp.Payload, "round %d", i)
	}

	metrics := tm.Metrics()
	assert.GreaterOrEqual(t, metrics.MsgSendCount.Load(), uint64(rounds))
	assert.GreaterOrEqual(t, metrics.MsgRecvCount.Load(), uint64(rounds))
	assert.Equal(t, uint64(0), metrics.RequestFailCount.Load())
}

func TestSlavesIgnoreEachOthersReplies(t *testing.T) {
	wire := loopback.NewBus()

	// Two slaves share the wire; replies from one must never trigger the
	// other's handler even though every byte reaches every node.
	var wrongDeliveries atomic.Int32

	first, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), 5,
		simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
			_ = msg.Respond([]byte("from five"))
		}),
	)
	require.NoError(t, err)
	runSlave(t, first)

	second, err := simple485.NewSlave(newBusConfig(t, wire.NewEndpoint()), 6,
		simple485.WithUnicastHandler(func(msg *simple485.ReceivedMessage, _ time.Duration, _ bool) {
			wrongDeliveries.Add(1)
		}),
	)
	require.NoError(t, err)
	runSlave(t, second)

	tm, err := simple485.NewThreadedMaster(newBusConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)
	runMaster(t, tm)

	resp, err := tm.Call(5, []byte("hi five"))
	require.NoError(t, err)
	assert.Equal(t, []byte("from five"), resp.Payload)
	assert.Equal(t, int32(0), wrongDeliveries.Load())
}
