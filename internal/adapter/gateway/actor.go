package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/asynkron/protoactor-go/actor"
)

// ActorGateway turns blocking calls into requests to the master actor.
type ActorGateway struct {
	rootContext *actor.RootContext
	masterActor *actor.PID
	timeout     time.Duration
}

var _ port.ControllerGateway = (*ActorGateway)(nil)

func NewActorGateway(rootContext *actor.RootContext, masterActor *actor.PID, timeout time.Duration) *ActorGateway {
	return &ActorGateway{
		rootContext: rootContext,
		masterActor: masterActor,
		timeout:     timeout,
	}
}

func (g *ActorGateway) request(ctx context.Context, msg any) (any, error) {
	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %w", mppt.ErrTimeout, context.DeadlineExceeded)
	}

	type result struct {
		res any
		err error
	}
	done := make(chan result, 1)
	future := g.rootContext.RequestFuture(g.masterActor, msg, timeout)
	go func() {
		res, err := future.Result()
		done <- result{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if errors.Is(r.err, actor.ErrTimeout) {
			return nil, fmt.Errorf("%w: no answer from %s within %s", mppt.ErrTimeout, g.masterActor.Id, timeout)
		}
		if r.err != nil {
			return nil, r.err
		}
		return r.res, domain.ResponseError(r.res)
	}
}

func (g *ActorGateway) Health(ctx context.Context) (domain.ActorHealthResponse, error) {
	res, err := g.request(ctx, domain.ActorHealthRequest{})
	if err != nil {
		return domain.ActorHealthResponse{}, err
	}
	return expect[domain.ActorHealthResponse](res)
}

func (g *ActorGateway) Telemetry(ctx context.Context) (domain.GetTelemetryResponse, error) {
	res, err := g.request(ctx, domain.GetTelemetryRequest{})
	if err != nil {
		return domain.GetTelemetryResponse{}, err
	}
	return expect[domain.GetTelemetryResponse](res)
}

func (g *ActorGateway) PollNow(ctx context.Context) (*mppt.Telemetry, error) {
	res, err := g.request(ctx, domain.PollNowRequest{})
	if err != nil {
		return nil, err
	}
	resp, err := expect[domain.PollNowResponse](res)
	return resp.Snapshot, err
}

func (g *ActorGateway) SetLoadSwitch(ctx context.Context, on bool) (bool, error) {
	res, err := g.request(ctx, domain.SetLoadSwitchRequest{On: on})
	if err != nil {
		return false, err
	}
	resp, err := expect[domain.SetLoadSwitchResponse](res)
	return resp.State, err
}

func (g *ActorGateway) SetChargingParam(ctx context.Context, param string, value int) (mppt.SetChargingParams, error) {
	res, err := g.request(ctx, domain.SetChargingParamRequest{Param: param, Value: value})
	if err != nil {
		return mppt.SetChargingParams{}, err
	}
	resp, err := expect[domain.SetChargingParamResponse](res)
	return resp.Params, err
}

func (g *ActorGateway) Execute(ctx context.Context, cmd mppt.Command) error {
	_, err := g.request(ctx, domain.ExecuteCommandRequest{Command: cmd})
	return err
}

func expect[T any](res any) (T, error) {
	resp, ok := res.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected response type %T", res)
	}
	return resp, nil
}
