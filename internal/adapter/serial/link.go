package serial

import (
	"errors"
	"io"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"go.uber.org/zap"
)

// Port is the driver surface a Link needs. Read must return within the
// driver read slice, with zero bytes (and a nil or io.EOF error) when the line
// stayed idle.
type Port interface {
	io.ReadWriteCloser
	ResetInput() error
}

type Instrument struct {
	RecordTime func(op string, d time.Duration)
}

// Link frames a raw Port into request/response exchanges.
type Link struct {
	port       Port
	name       string
	instrument []Instrument
	logger     *zap.Logger
}

var _ port.Transport = (*Link)(nil)

func NewLink(p Port, name string, logger *zap.Logger, instrumentation *Instrument) *Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	var inst []Instrument
	inst = append(inst, traceLoggerInstrumentation(logger.With(zap.String("port", name))))
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}
	return &Link{
		port:       p,
		name:       name,
		instrument: inst,
		logger:     logger,
	}
}

func (l *Link) Name() string {
	return l.name
}

func (l *Link) Write(frame []byte) error {
	defer RecordTimer("write", l.instrument)()
	for len(frame) > 0 {
		n, err := l.port.Write(frame)
		if err != nil {
			return &mppt.IOError{Op: "write", Err: err}
		}
		if n == 0 {
			return &mppt.IOError{Op: "write", Err: io.ErrShortWrite}
		}
		frame = frame[n:]
	}
	return nil
}

// ReadWithin collects up to max bytes. It stops early when the line goes idle
// after at least one byte arrived, which is how 20 byte frames end.
func (l *Link) ReadWithin(max int, d time.Duration) ([]byte, error) {
	defer RecordTimer("read", l.instrument)()
	deadline := time.Now().Add(d)
	buf := make([]byte, 0, max)
	chunk := make([]byte, max)
	for len(buf) < max && time.Now().Before(deadline) {
		n, err := l.port.Read(chunk[:max-len(buf)])
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &mppt.IOError{Op: "read", Err: err}
		}
		if n == 0 && len(buf) > 0 {
			break
		}
	}
	if len(buf) == 0 {
		return nil, &mppt.IOError{Op: "read", Err: mppt.ErrTimeout}
	}
	return buf, nil
}

func (l *Link) Discard() error {
	if err := l.port.ResetInput(); err != nil {
		return &mppt.IOError{Op: "discard", Err: err}
	}
	return nil
}

func (l *Link) Close() error {
	if err := l.port.Close(); err != nil {
		return &mppt.IOError{Op: "close", Err: err}
	}
	return nil
}

func RecordTimer(name string, instrument []Instrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) Instrument {
	return Instrument{
		RecordTime: func(op string, d time.Duration) {
			logger.Debug("serial: exchange step", zap.String("op", op), zap.Int64("millis", d.Milliseconds()))
		},
	}
}
