package service

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// mockTransport records every frame written and replays scripted responses.
type mockTransport struct {
	mu        sync.Mutex
	written   [][]byte
	responses [][]byte
	readErr   error
	writeErr  error
	writeHold time.Duration
	discards  int
	closed    bool

	active     atomic.Int32
	maxWriters atomic.Int32
}

func (m *mockTransport) respond(frames ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, frames...)
}

func (m *mockTransport) Write(frame []byte) error {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		cur := m.maxWriters.Load()
		if n <= cur || m.maxWriters.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.writeHold > 0 {
		time.Sleep(m.writeHold)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return &mppt.IOError{Op: "write", Err: m.writeErr}
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.written = append(m.written, cp)
	return nil
}

func (m *mockTransport) ReadWithin(max int, d time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, &mppt.IOError{Op: "read", Err: m.readErr}
	}
	if len(m.responses) == 0 {
		return nil, &mppt.IOError{Op: "read", Err: mppt.ErrTimeout}
	}
	frame := m.responses[0]
	m.responses = m.responses[1:]
	if len(frame) > max {
		frame = frame[:max]
	}
	return frame, nil
}

func (m *mockTransport) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discards++
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

func (m *mockTransport) frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

type recordingMetrics struct {
	mu       sync.Mutex
	polls    []string
	commands map[string][]string
}

func (r *recordingMetrics) ObservePoll(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls = append(r.polls, result)
}

func (r *recordingMetrics) ObserveCommand(command string, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commands == nil {
		r.commands = map[string][]string{}
	}
	r.commands[command] = append(r.commands[command], result)
}
