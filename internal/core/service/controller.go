package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"go.uber.org/zap"
)

const (
	DEFAULT_POLL_INTERVAL    = 5 * time.Second
	DEFAULT_RESPONSE_TIMEOUT = 1 * time.Second
	MIN_RESPONSE_TIMEOUT     = 200 * time.Millisecond
)

var (
	ErrPollInFlight = errors.New("mppt: poll already in flight")
	ErrClosed       = errors.New("mppt: controller closed")
	ErrBusy         = errors.New("mppt: transport busy")
)

// PollState is the outcome of the latest poll cycle. PollTimedOut is kept
// until the next cycle starts; every other failure ends in PollIdle.
type PollState int32

const (
	PollIdle PollState = iota
	PollAwaitingResponse
	PollTimedOut
)

func (s PollState) String() string {
	switch s {
	case PollIdle:
		return "idle"
	case PollAwaitingResponse:
		return "awaiting_response"
	case PollTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("poll_state(%d)", int32(s))
	}
}

type ControllerOptions struct {
	PollInterval    time.Duration
	ResponseTimeout time.Duration
	Fields          mppt.FieldSet
	VerifyChecksum  bool
}

func DefaultControllerOptions() ControllerOptions {
	return ControllerOptions{
		PollInterval:    DEFAULT_POLL_INTERVAL,
		ResponseTimeout: DEFAULT_RESPONSE_TIMEOUT,
		Fields:          mppt.AllFields(),
		VerifyChecksum:  true,
	}
}

// Controller owns the transport to one charge controller. Polls and commands
// share a single exclusion point, so the transport never sees two writers.
type Controller struct {
	transport port.Transport
	state     *TelemetryState
	opts      ControllerOptions
	metrics   port.ControllerMetrics
	logger    *zap.Logger

	lock      chan struct{}
	polling   atomic.Bool
	pollState atomic.Int32
	closed    atomic.Bool
}

func NewController(transport port.Transport, opts ControllerOptions, metrics port.ControllerMetrics, logger *zap.Logger) (*Controller, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", mppt.ErrInvalidParameter)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DEFAULT_POLL_INTERVAL
	}
	if opts.ResponseTimeout == 0 {
		opts.ResponseTimeout = DEFAULT_RESPONSE_TIMEOUT
	}
	if opts.ResponseTimeout < MIN_RESPONSE_TIMEOUT {
		return nil, &mppt.InvalidParameterError{
			Field: "response_timeout_millis",
			Value: int(opts.ResponseTimeout.Milliseconds()),
			Min:   int(MIN_RESPONSE_TIMEOUT.Milliseconds()),
			Max:   math.MaxInt32,
		}
	}
	if metrics == nil {
		metrics = port.NoopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		transport: transport,
		state:     NewTelemetryState(opts.Fields),
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
		lock:      make(chan struct{}, 1),
	}, nil
}

func (c *Controller) Telemetry() *TelemetryState {
	return c.state
}

func (c *Controller) PollInterval() time.Duration {
	return c.opts.PollInterval
}

func (c *Controller) ResponseTimeout() time.Duration {
	return c.opts.ResponseTimeout
}

func (c *Controller) PollState() PollState {
	return PollState(c.pollState.Load())
}

func (c *Controller) setPollState(s PollState) {
	c.pollState.Store(int32(s))
}

// Poll runs one request/response cycle. On any failure the telemetry state is
// left untouched.
func (c *Controller) Poll(ctx context.Context) (err error) {
	if c.closed.Load() {
		return ErrClosed
	}
	if !c.polling.CompareAndSwap(false, true) {
		c.metrics.ObservePoll(port.RESULT_SKIPPED, 0)
		return ErrPollInFlight
	}
	defer c.polling.Store(false)

	start := time.Now()
	defer func() {
		c.metrics.ObservePoll(resultOf(err), time.Since(start))
	}()

	if err = c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err = c.transport.Discard(); err != nil {
		return err
	}
	if err = c.transport.Write(mppt.EncodePollRequest()); err != nil {
		c.setPollState(PollIdle)
		return err
	}
	c.setPollState(PollAwaitingResponse)

	wait := c.opts.ResponseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		c.setPollState(PollTimedOut)
		return &mppt.IOError{Op: "read", Err: mppt.ErrTimeout}
	}

	frame, err := c.transport.ReadWithin(mppt.FrameLen, wait)
	if err != nil {
		if errors.Is(err, mppt.ErrTimeout) {
			c.setPollState(PollTimedOut)
		} else {
			c.setPollState(PollIdle)
		}
		return err
	}

	t, err := mppt.Decode(frame, mppt.DecodeOptions{
		Fields:         c.opts.Fields,
		VerifyChecksum: c.opts.VerifyChecksum,
	})
	if err != nil {
		c.logger.Debug("controller: discarding frame", zap.Binary("frame", frame), zap.Error(err))
		c.setPollState(PollIdle)
		return err
	}

	c.state.Update(t)
	c.setPollState(PollIdle)
	return nil
}

// Execute validates and sends cmd. The protocol has no acknowledgement, so a
// nil error means the frame was written.
func (c *Controller) Execute(ctx context.Context, cmd mppt.Command) (err error) {
	kind := "unknown"
	if cmd != nil {
		kind = string(cmd.Kind())
	}
	defer func() {
		c.metrics.ObserveCommand(kind, resultOf(err))
	}()

	frame, err := mppt.Encode(cmd)
	if err != nil {
		return err
	}
	if c.closed.Load() {
		return &mppt.DispatchError{Op: kind, Err: ErrClosed}
	}

	if err = c.acquire(ctx); err != nil {
		return &mppt.DispatchError{Op: kind, Err: err}
	}
	defer c.release()

	if err = c.transport.Discard(); err != nil {
		return &mppt.DispatchError{Op: kind, Err: err}
	}
	if err = c.transport.Write(frame); err != nil {
		return &mppt.DispatchError{Op: kind, Err: err}
	}

	if reset, ok := cmd.(mppt.ResetEnergy); ok && reset.Clear {
		c.state.MarkEnergyStale()
	}
	c.logger.Debug("controller: command sent", zap.String("command", kind), zap.Any("params", cmd))
	return nil
}

// Close waits for the in-flight exchange, bounded by ctx, and closes the transport.
func (c *Controller) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.acquire(ctx); err != nil {
		c.logger.Warn("controller: closing with exchange in flight", zap.Error(err))
		return c.transport.Close()
	}
	defer c.release()
	return c.transport.Close()
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &mppt.IOError{Op: "acquire", Err: fmt.Errorf("%w: %w: %w", ErrBusy, mppt.ErrTimeout, ctx.Err())}
		}
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.lock
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return port.RESULT_OK
	case errors.Is(err, ErrPollInFlight):
		return port.RESULT_SKIPPED
	case errors.Is(err, mppt.ErrInvalidParameter):
		return port.RESULT_INVALID
	case errors.Is(err, ErrBusy):
		return port.RESULT_BUSY
	case errors.Is(err, mppt.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return port.RESULT_TIMEOUT
	case errors.Is(err, mppt.ErrTooShort), errors.Is(err, mppt.ErrChecksumMismatch), errors.Is(err, mppt.ErrUnknownFrameType):
		return port.RESULT_DECODE_ERROR
	default:
		return port.RESULT_IO_ERROR
	}
}
