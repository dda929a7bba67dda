package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config                 *config.Config
	behavior               actor.Behavior
	stash                  *actorutil.Stash
	controllerActor        *actor.PID
	mqttActor              *actor.PID
	controllerActorHealthy bool
	mqttActorHealthy       bool
	healthyRecv            int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, controllerActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:          config,
		controllerActor: controllerActor,
		mqttActor:       mqttActor,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check controller and MQTT actor healthy
		state.healthyRecv = 0
		state.controllerActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controllerActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CONTROLLER,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_CONTROLLER:
				state.controllerActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.controllerActorHealthy && state.mqttActorHealthy {
				// current charging params seed the input numbers
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controllerActor, domain.GetTelemetryRequest{}, 2*time.Second), func(err error) any {
					return domain.GetTelemetryResponse{
						ActorResponseMixIn: domain.ActorResponseMixIn{
							ResponseError: err,
						},
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Controller Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetTelemetryResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@info: GetTelemetryResponse", zap.String("pollState", msg.PollState))

		req, err := DiscoveryRequest(state.config, msg)
		if err != nil {
			panic(err)
		}
		ctx.Send(state.mqttActor, req)
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoveryRequest builds the discovery entities for the bridge and the controller.
func DiscoveryRequest(cfg *config.Config, telemetry domain.GetTelemetryResponse) (domain.PublishDiscoveryRequest, error) {
	fields, err := cfg.Controller.FieldSet()
	if err != nil {
		return domain.PublishDiscoveryRequest{}, err
	}

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	controllerDevice := domain.ControllerDevice(cfg.MQTT.BaseTopic, cfg.Controller.Name, bridgeDevice)

	var sensors []domain.GenericSensor
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice, controllerDevice)...)
	sensors = append(sensors, domain.TelemetrySensors(domain.IdDevice(controllerDevice), fields)...)

	params := telemetry.Params
	if params.Validate() != nil {
		params = cfg.Controller.ChargingParams.Params()
	}

	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     domain.LoadSwitches(domain.IdDevice(controllerDevice)),
		InputNumbers: domain.ChargingParamInputNumbers(domain.IdDevice(controllerDevice), params),
		Buttons:      domain.ActionButtons(domain.IdDevice(controllerDevice)),
	}, nil
}
