package simple485

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Me-Phew/simple485-remastered/transport/loopback"
)

// startEchoSlave runs a polling slave on ep that replies to every request
// with its payload reversed. Stopped on test cleanup.
func startEchoSlave(t *testing.T, ep *loopback.Endpoint, address byte) {
	t.Helper()

	s, err := NewSlave(newTestConfig(t, ep, WithLineReadyTime(MinLineReadyTime)), address,
		WithUnicastHandler(func(msg *ReceivedMessage, _ time.Duration, _ bool) {
			payload := msg.Payload()
			reversed := make([]byte, len(payload))
			for i, b := range payload {
				reversed[len(payload)-1-i] = b
			}
			_ = msg.Respond(reversed)
		}),
	)
	require.NoError(t, err)
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

// startThreadedMaster runs tm in the background and stops it on cleanup,
// waiting until the poll loop is live.
func startThreadedMaster(t *testing.T, tm *ThreadedMaster) {
	t.Helper()

	go func() {
		if err := tm.Run(); err != nil {
			t.Errorf("threaded master run failed: %v", err)
		}
	}()
	t.Cleanup(tm.Stop)

	require.Eventually(t, tm.IsRunning, time.Second, time.Millisecond)
}

func TestThreadedMasterCall(t *testing.T) {
	wire := loopback.NewBus()
	startEchoSlave(t, wire.NewEndpoint(), 5)

	tm, err := NewThreadedMaster(
		newTestConfig(t, wire.NewEndpoint(), WithLineReadyTime(MinLineReadyTime)))
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	resp, err := tm.Call(5, []byte("abc"))
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, []byte("cba"), resp.Payload)
	assert.Equal(t, 3, resp.Length)
	assert.Equal(t, 0, resp.RetryCount)
	assert.Greater(t, resp.RTT, time.Duration(0))
}

func TestThreadedMasterSequentialCalls(t *testing.T) {
	wire := loopback.NewBus()
	startEchoSlave(t, wire.NewEndpoint(), 5)
	startEchoSlave(t, wire.NewEndpoint(), 6)

	tm, err := NewThreadedMaster(
		newTestConfig(t, wire.NewEndpoint(), WithLineReadyTime(MinLineReadyTime)))
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	for i := 0; i < 3; i++ {
		for _, dst := range []byte{5, 6} {
			resp, err := tm.Call(dst, []byte{dst, byte(i)})
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(i), dst}, resp.Payload)
		}
	}
}

func TestThreadedMasterConcurrentCallers(t *testing.T) {
	wire := loopback.NewBus()
	startEchoSlave(t, wire.NewEndpoint(), 5)

	tm, err := NewThreadedMaster(
		newTestConfig(t, wire.NewEndpoint(), WithLineReadyTime(MinLineReadyTime)))
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			resp, err := tm.Call(5, []byte{byte(i), 0x7F})
			if assert.NoError(t, err) {
				assert.Equal(t, []byte{0x7F, byte(i)}, resp.Payload)
			}
		}(i)
	}
	wg.Wait()
}

func TestThreadedMasterCallFailure(t *testing.T) {
	wire := loopback.NewBus()
	// No slave on the bus; requests can only time out.

	tm, err := NewThreadedMaster(
		newTestConfig(t, wire.NewEndpoint(), WithLineReadyTime(MinLineReadyTime)),
		WithMasterOptions(
			WithRequestTimeout(20*time.Millisecond),
			WithMaxRetries(1),
		),
	)
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	resp, err := tm.Call(5, []byte("nobody home"))
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)

	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.RetryCount)
	assert.NotEmpty(t, resp.FailureReason)
}

func TestThreadedMasterFailureAsResponse(t *testing.T) {
	wire := loopback.NewBus()

	tm, err := NewThreadedMaster(
		newTestConfig(t, wire.NewEndpoint(), WithLineReadyTime(MinLineReadyTime)),
		WithFailureAsResponse(),
		WithMasterOptions(
			WithRequestTimeout(20*time.Millisecond),
			WithMaxRetries(0),
		),
	)
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	resp, err := tm.Call(5, []byte("nobody home"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, resp.RetryCount)
}

func TestThreadedMasterCallWhileStopped(t *testing.T) {
	wire := loopback.NewBus()

	tm, err := NewThreadedMaster(newTestConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)

	_, err = tm.Call(5, []byte("x"))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestThreadedMasterStopIsIdempotent(t *testing.T) {
	wire := loopback.NewBus()

	tm, err := NewThreadedMaster(newTestConfig(t, wire.NewEndpoint()))
	require.NoError(t, err)
	startThreadedMaster(t, tm)

	tm.Stop()
	tm.Stop()
	assert.False(t, tm.IsRunning())
}
