package audio

import (
	"sync"
)

// MockSink implements Sink for testing. By default every write completes
// immediately (the transfer callback fires with the write size); tests can
// switch to manual mode and fire events themselves, or inject write errors.
type MockSink struct {
	mu       sync.Mutex
	writes   [][]byte
	written  int
	transfer func(n int)
	closed   bool

	// Test control
	Manual     bool  // suppress automatic transfer events
	WriteErr   error // returned by Write when set
	FailAfterN int   // writes before WriteErr applies; 0 = immediately
	writeCount int
}

// NewMockSink creates a mock sink in automatic-completion mode.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Write records the chunk and, in automatic mode, fires a matching
// transfer-complete event.
func (m *MockSink) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrSinkClosed
	}
	if m.WriteErr != nil && m.writeCount >= m.FailAfterN {
		m.mu.Unlock()
		return 0, m.WriteErr
	}
	m.writeCount++

	chunk := make([]byte, len(p))
	copy(chunk, p)
	m.writes = append(m.writes, chunk)
	m.written += len(p)

	fn := m.transfer
	manual := m.Manual
	m.mu.Unlock()

	if !manual && fn != nil {
		fn(len(p))
	}
	return len(p), nil
}

// SetTransferFunc registers the transfer-complete callback.
func (m *MockSink) SetTransferFunc(fn func(n int)) {
	m.mu.Lock()
	m.transfer = fn
	m.mu.Unlock()
}

// Transfer fires a transfer-complete event of n bytes (manual mode).
func (m *MockSink) Transfer(n int) {
	m.mu.Lock()
	fn := m.transfer
	m.mu.Unlock()

	if fn != nil {
		fn(n)
	}
}

// Written returns the total byte count submitted so far.
func (m *MockSink) Written() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// Writes returns the recorded chunks.
func (m *MockSink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Close marks the sink closed.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
