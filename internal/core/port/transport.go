package port

import (
	"time"
)

// Transport is the byte channel to one charge controller. Implementations are
// not safe for concurrent use; callers serialize access.
type Transport interface {
	Write(frame []byte) error
	// ReadWithin reads until max bytes arrived or d elapsed. It returns
	// mppt.ErrTimeout (wrapped) when nothing arrived at all.
	ReadWithin(max int, d time.Duration) ([]byte, error)
	// Discard drops pending input so that a late response to an abandoned
	// exchange is never read as the answer to a new request.
	Discard() error
	Close() error
}
