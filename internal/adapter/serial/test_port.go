package serial

import (
	"sync"
	"time"
)

// TestPort is a scripted Port. Every Write pops the next scripted reply and
// queues it for reading.
type TestPort struct {
	mu       sync.Mutex
	replies  [][]byte
	pending  []byte
	written  [][]byte
	resets   int
	ReadErr  error
	WriteErr error
	closed   bool
}

func NewTestPort(replies ...[]byte) *TestPort {
	return &TestPort{replies: replies}
}

func (p *TestPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.written = append(p.written, append([]byte(nil), b...))
	if len(p.replies) > 0 {
		p.pending = append(p.pending, p.replies[0]...)
		p.replies = p.replies[1:]
	}
	return len(b), nil
}

// Read hands out at most 7 bytes per call to exercise reassembly.
func (p *TestPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil {
		return 0, p.ReadErr
	}
	if len(p.pending) == 0 {
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := min(len(b), len(p.pending), 7)
	copy(b, p.pending[:n])
	p.pending = p.pending[n:]
	return n, nil
}

// Inject queues bytes as if they arrived unsolicited.
func (p *TestPort) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

func (p *TestPort) ResetInput() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.pending = nil
	return nil
}

func (p *TestPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *TestPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.written...)
}

func (p *TestPort) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

func (p *TestPort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
