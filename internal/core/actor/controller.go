package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/events"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/internal/core/service"
	. "github.com/berfenger/mppt2mqtt/internal/util/actorutil"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	EXCHANGE_MARGIN = 1 * time.Second
	CLOSE_TIMEOUT   = 2 * time.Second
)

// TransportProvider opens the link to the charge controller. It is called
// again on every restart.
type TransportProvider func() (port.Transport, error)

type ControllerActor struct {
	ActorWithStates
	config        *config.Config
	scheduler     *scheduler.TimerScheduler
	cancelTick    scheduler.CancelFunc
	stash         *Stash
	eventStream   *eventstream.EventStream
	openTransport TransportProvider
	metrics       port.ControllerMetrics

	ctrl      *service.Controller
	load      *service.LoadSwitch
	params    mppt.SetChargingParams
	connected *bool

	logger *zap.Logger
}

type controllerTick struct {
}

// exchangeResult is piped back from the background task that talked to the device.
type exchangeResult struct {
	op      string
	req     any
	replyTo *actor.PID
	err     error
}

const (
	opPoll    = "poll"
	opPollNow = "poll_now"
	opCommand = "command"
)

func NewControllerActor(config *config.Config, openTransport TransportProvider, eventStream *eventstream.EventStream,
	metrics port.ControllerMetrics, logger *zap.Logger) *ControllerActor {
	if metrics == nil {
		metrics = port.NoopMetrics{}
	}
	act := &ControllerActor{
		config:        config,
		stash:         &Stash{},
		eventStream:   eventStream,
		openTransport: openTransport,
		metrics:       metrics,
		params:        config.Controller.ChargingParams.Params(),
		logger:        ActorLogger(domain.ACTOR_ID_CONTROLLER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CTStartingState{
		actor: act,
	})
	return act
}

func (state *ControllerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CTStartingState struct {
	ActorState
	actor *ControllerActor
}

func (state CTStartingState) Name() string {
	return "starting"
}

func (state CTStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("controller@starting started")

		if err := state.actor.start(); err != nil {
			state.actor.logger.Error("controller@starting could not open device", zap.Error(err))
			panic(err)
		}
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		// initial state for late subscribers
		state.actor.publish(events.LoadSwitchUpdateEvent(state.actor.load.Get()))
		for _, ev := range events.ChargingParamsToUpdateEvents(state.actor.params) {
			state.actor.publish(ev)
		}

		state.actor.Become(CTIdleState{
			actor: state.actor,
		})
		// first poll right away
		ctx.Send(ctx.Self(), controllerTick{})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.actor.close()
	case *actor.Stopping:
		state.actor.close()
	default:
		state.actor.logger.Debug("controller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type CTIdleState struct {
	ActorState
	actor *ControllerActor
}

func (state CTIdleState) Name() string {
	return "idle"
}

func (state CTIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("controller@idle: ActorHealthRequest")
		ctx.Respond(state.actor.health())
	case domain.GetTelemetryRequest:
		ForRequest(msg).Respond(ctx, state.actor.telemetry())
	case controllerTick:
		state.actor.logger.Debug("controller@idle controllerTick")
		state.actor.cancelTick = nil
		state.actor.exchange(ctx, opPoll, msg, nil)
	case domain.PollNowRequest:
		state.actor.logger.Debug("controller@idle PollNowRequest")
		state.actor.exchange(ctx, opPollNow, msg, ForRequest(msg).ReplyTo(ctx))
	case domain.ControllerRequest:
		state.actor.logger.Debug("controller@idle ControllerRequest", zap.String("command", msg.ControllerCommand()))
		state.actor.exchange(ctx, opCommand, msg, ForRequest(msg).ReplyTo(ctx))
	case *actor.Restarting:
		state.actor.close()
	case *actor.Stopping:
		state.actor.close()
	default:
		state.actor.logger.Debug("controller@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting device state, stacked over idle while an exchange runs

type CTWaitingDeviceState struct {
	ActorState
	actor *ControllerActor
	op    string
}

func (state CTWaitingDeviceState) Name() string {
	return "waitingDevice"
}

func (state CTWaitingDeviceState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case exchangeResult:
		state.actor.logger.Debug("controller@waitingDevice exchangeResult", zap.String("op", msg.op), zap.Error(msg.err))
		state.actor.complete(ctx, msg)
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(state.actor.health())
	case domain.GetTelemetryRequest:
		// snapshot reads never wait for the device
		ForRequest(msg).Respond(ctx, state.actor.telemetry())
	case controllerTick:
		state.actor.cancelTick = nil
		if state.op == opPoll || state.op == opPollNow {
			state.actor.logger.Debug("controller@waitingDevice: drop tick, poll in flight")
			state.actor.metrics.ObservePoll(port.RESULT_SKIPPED, 0)
			state.actor.armTick(ctx)
			return
		}
		state.actor.stash.Drop(func(m any) bool {
			_, ok := m.(controllerTick)
			return ok
		})
		state.actor.stash.Stash(ctx, msg)
	case *actor.Restarting:
		state.actor.close()
	case *actor.Stopping:
		state.actor.close()
	default:
		state.actor.logger.Debug("controller@waitingDevice: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (act *ControllerActor) start() error {
	fields, err := act.config.Controller.FieldSet()
	if err != nil {
		return err
	}
	transport, err := act.openTransport()
	if err != nil {
		return err
	}
	ctrl, err := service.NewController(transport, service.ControllerOptions{
		PollInterval:    act.config.Controller.UpdateInterval(),
		ResponseTimeout: act.config.Controller.ResponseTimeout(),
		Fields:          fields,
		VerifyChecksum:  act.config.Controller.VerifyChecksum,
	}, act.metrics, act.logger)
	if err != nil {
		transport.Close()
		return err
	}
	load, err := service.NewLoadSwitch(ctrl, act.config.Controller.LoadInitial)
	if err != nil {
		ctrl.Close(context.Background())
		return err
	}

	// hooks run on the exchange goroutine; the event stream is safe for that
	ctrl.Telemetry().OnChange(func(t mppt.Telemetry) {
		for _, ev := range events.TelemetryToUpdateEvents(t, fields) {
			act.publish(ev)
		}
		if fields.Has(mppt.FieldDailyEnergy) || fields.Has(mppt.FieldTotalEnergy) {
			act.publish(events.EnergyStaleUpdateEvent(false))
		}
	})
	load.OnChange(func(on bool) {
		act.publish(events.LoadSwitchUpdateEvent(on))
	})

	act.ctrl = ctrl
	act.load = load
	act.connected = nil
	return nil
}

func (act *ControllerActor) close() {
	if act.cancelTick != nil {
		act.cancelTick()
		act.cancelTick = nil
	}
	if act.ctrl == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), CLOSE_TIMEOUT)
	defer cancel()
	if err := act.ctrl.Close(ctx); err != nil {
		act.logger.Warn("controller: close failed", zap.Error(err))
	}
	act.ctrl = nil
	act.load = nil
}

func (act *ControllerActor) exchangeTimeout() time.Duration {
	return act.ctrl.ResponseTimeout() + EXCHANGE_MARGIN
}

// exchange runs one device operation off the actor goroutine and stacks the
// waiting state until its result is piped back.
func (act *ControllerActor) exchange(ctx actor.Context, op string, req any, replyTo *actor.PID) {
	timeout := act.exchangeTimeout()
	// close() may clear these while the task is still running
	ctrl, load, params := act.ctrl, act.load, act.params
	NewBackgroundTask(ctx, func() (*exchangeResult, error) {
		opCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return &exchangeResult{op: op, req: req, replyTo: replyTo, err: run(opCtx, ctrl, load, req, params)}, nil
	}).WithTimeout(timeout + EXCHANGE_MARGIN).Recover(func(err error) exchangeResult {
		return exchangeResult{op: op, req: req, replyTo: replyTo, err: err}
	}).PipeTo(ctx.Self())

	act.BecomeStacked(CTWaitingDeviceState{
		actor: act,
		op:    op,
	})
}

// run executes on the background goroutine. It never touches actor state,
// only the service layer, which does its own locking.
func run(ctx context.Context, ctrl *service.Controller, load *service.LoadSwitch, req any, params mppt.SetChargingParams) error {
	switch r := req.(type) {
	case controllerTick, domain.PollNowRequest:
		return ctrl.Poll(ctx)
	case domain.ExecuteCommandRequest:
		if cmd, ok := r.Command.(mppt.SetLoadOutput); ok {
			return load.Set(ctx, cmd.On)
		}
		return ctrl.Execute(ctx, r.Command)
	case domain.SetLoadSwitchRequest:
		return load.Set(ctx, r.On)
	case domain.SetChargingParamRequest:
		next, err := domain.WithChargingParam(params, r.Param, r.Value)
		if err != nil {
			return err
		}
		return ctrl.Execute(ctx, next)
	default:
		return fmt.Errorf("%w: unsupported request %T", mppt.ErrInvalidParameter, req)
	}
}

func (act *ControllerActor) complete(ctx actor.Context, res exchangeResult) {
	switch res.op {
	case opPoll, opPollNow:
		act.pollCompleted(res)
		if res.op == opPoll {
			act.armTick(ctx)
		} else if res.replyTo != nil {
			resp := domain.PollNowResponse{ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: res.err}}
			if res.err == nil {
				resp.Snapshot, _ = act.ctrl.Telemetry().Current()
			}
			ctx.Send(res.replyTo, resp)
		}
	case opCommand:
		act.commandCompleted(ctx, res)
	}
}

func (act *ControllerActor) pollCompleted(res exchangeResult) {
	switch {
	case res.err == nil:
		act.setConnected(true)
	case errors.Is(res.err, service.ErrPollInFlight):
		act.logger.Debug("controller: poll skipped", zap.Error(res.err))
	case errors.Is(res.err, mppt.ErrTimeout), errors.Is(res.err, mppt.ErrIO), errors.Is(res.err, context.DeadlineExceeded):
		act.logger.Warn("controller: poll failed", zap.Error(res.err))
		act.setConnected(false)
	default:
		// the device answered, just not with a usable frame
		act.logger.Warn("controller: poll failed", zap.Error(res.err))
		act.setConnected(true)
	}
}

func (act *ControllerActor) commandCompleted(ctx actor.Context, res exchangeResult) {
	if res.err != nil {
		act.logger.Warn("controller: command failed", zap.Any("request", res.req), zap.Error(res.err))
	}
	mixIn := domain.ActorResponseMixIn{ResponseError: res.err}
	var resp any
	switch r := res.req.(type) {
	case domain.ExecuteCommandRequest:
		if res.err == nil {
			act.commandApplied(r.Command)
		}
		resp = domain.ExecuteCommandResponse{ActorResponseMixIn: mixIn}
	case domain.SetLoadSwitchRequest:
		resp = domain.SetLoadSwitchResponse{ActorResponseMixIn: mixIn, State: act.load.Get()}
	case domain.SetChargingParamRequest:
		if res.err == nil {
			if params, err := domain.WithChargingParam(act.params, r.Param, r.Value); err == nil {
				act.commandApplied(params)
			}
		}
		resp = domain.SetChargingParamResponse{ActorResponseMixIn: mixIn, Params: act.params}
	default:
		resp = domain.ExecuteCommandResponse{ActorResponseMixIn: mixIn}
	}
	if res.replyTo != nil {
		ctx.Send(res.replyTo, resp)
	}
}

// commandApplied updates cached state after a successful write.
func (act *ControllerActor) commandApplied(cmd mppt.Command) {
	switch c := cmd.(type) {
	case mppt.SetChargingParams:
		act.params = c
		for _, ev := range events.ChargingParamsToUpdateEvents(c) {
			act.publish(ev)
		}
	case mppt.ResetEnergy:
		if c.Clear {
			act.publish(events.EnergyStaleUpdateEvent(true))
		}
	}
}

func (act *ControllerActor) armTick(ctx actor.Context) {
	if act.cancelTick != nil || act.scheduler == nil {
		return
	}
	act.cancelTick = act.scheduler.RequestOnce(act.ctrl.PollInterval(), ctx.Self(), controllerTick{})
}

func (act *ControllerActor) setConnected(connected bool) {
	if act.connected != nil && *act.connected == connected {
		return
	}
	act.connected = &connected
	act.publish(events.DeviceConnectedUpdateEvent(connected))
}

func (act *ControllerActor) publish(ev any) {
	if act.eventStream != nil {
		act.eventStream.Publish(ev)
	}
}

func (act *ControllerActor) health() domain.ActorHealthResponse {
	return domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_CONTROLLER,
		Healthy: act.ctrl != nil,
		State:   act.StateName(),
	}
}

func (act *ControllerActor) telemetry() domain.GetTelemetryResponse {
	if act.ctrl == nil {
		return domain.GetTelemetryResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: service.ErrClosed},
		}
	}
	snapshot, _ := act.ctrl.Telemetry().Current()
	load := act.load.Get()
	return domain.GetTelemetryResponse{
		Snapshot:    snapshot,
		Connected:   act.connected != nil && *act.connected,
		EnergyStale: act.ctrl.Telemetry().EnergyStale(),
		PollState:   act.ctrl.PollState().String(),
		LoadSwitch:  &load,
		Params:      act.params,
	}
}
