package simple485

import (
	"testing"

	"github.com/Me-Phew/simple485-remastered/logger"
)

// stubTransport is an in-memory Transport. Reads consume inBuf front to
// back; writes append to out. It implements Drainer.
type stubTransport struct {
	inBuf []byte
	out   []byte

	bitRate int

	openErr  error
	writeErr error
	drainErr error

	opened     bool
	drainCalls int
}

func newStubTransport() *stubTransport {
	return &stubTransport{bitRate: 1_000_000}
}

func (s *stubTransport) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true

	return nil
}

func (s *stubTransport) Close() error {
	s.opened = false

	return nil
}

func (s *stubTransport) Available() (int, error) {
	return len(s.inBuf), nil
}

func (s *stubTransport) ReadByte() (byte, error) {
	b := s.inBuf[0]
	s.inBuf = s.inBuf[1:]

	return b, nil
}

func (s *stubTransport) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	s.out = append(s.out, p...)

	return len(p), nil
}

func (s *stubTransport) BitRate() int { return s.bitRate }

func (s *stubTransport) Drain() error {
	s.drainCalls++

	return s.drainErr
}

// feedInput queues bytes for the next receive pass.
func (s *stubTransport) feedInput(p []byte) {
	s.inBuf = append(s.inBuf, p...)
}

// stubPin records every level driven onto it.
type stubPin struct {
	levels []bool
	err    error
}

func (p *stubPin) Set(high bool) error {
	if p.err != nil {
		return p.err
	}
	p.levels = append(p.levels, high)

	return nil
}

// nopLogger keeps test output clean; several tests deliberately exercise
// error paths that would otherwise spam the log.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) Error(string, ...any)        {}
func (nopLogger) Fatal(string, ...any)        {}
func (l nopLogger) With(...any) logger.Logger { return l }
func (nopLogger) Level() logger.Level         { return logger.ErrorLevel }
func (nopLogger) SetLevel(logger.Level)       {}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()

	return nopLogger{}
}

func newTestConfig(t *testing.T, transport Transport, opts ...Option) *Config {
	t.Helper()

	allOpts := append([]Option{WithLogger(testLogger(t))}, opts...)

	cfg, err := NewConfig(transport, allOpts...)
	if err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	return cfg
}

func newTestBus(t *testing.T, transport Transport, address byte, opts ...Option) *Bus {
	t.Helper()

	bus, err := NewBus(newTestConfig(t, transport, opts...), address)
	if err != nil {
		t.Fatalf("failed to create test bus: %v", err)
	}

	return bus
}

// openTestBus creates and opens a bus, closing it on test cleanup.
func openTestBus(t *testing.T, transport Transport, address byte, opts ...Option) *Bus {
	t.Helper()

	bus := newTestBus(t, transport, address, opts...)
	if err := bus.Open(); err != nil {
		t.Fatalf("failed to open test bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}
