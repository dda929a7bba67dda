package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeMaster(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: true})
	case domain.GetTelemetryRequest:
		on := true
		ctx.Respond(domain.GetTelemetryResponse{PollState: "idle", LoadSwitch: &on})
	case domain.SetLoadSwitchRequest:
		ctx.Respond(domain.SetLoadSwitchResponse{State: msg.On})
	case domain.SetChargingParamRequest:
		if msg.Value > 255 {
			ctx.Respond(domain.SetChargingParamResponse{ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: fmt.Errorf("%w: too big", mppt.ErrInvalidParameter),
			}})
			return
		}
		ctx.Respond(domain.SetChargingParamResponse{Params: mppt.SetChargingParams{ChargeCurrent: msg.Value}})
	case domain.ExecuteCommandRequest:
		// never answers
	}
}

func TestActorGateway(t *testing.T) {

	assert := assert.New(t)

	as := actor.NewActorSystem()
	defer as.Shutdown()
	pid := as.Root.Spawn(actor.PropsFromFunc(fakeMaster))

	gw := NewActorGateway(as.Root, pid, time.Second)
	ctx := context.Background()

	health, err := gw.Health(ctx)
	require.NoError(t, err)
	assert.True(health.Healthy)

	telemetry, err := gw.Telemetry(ctx)
	require.NoError(t, err)
	assert.Equal("idle", telemetry.PollState)

	state, err := gw.SetLoadSwitch(ctx, true)
	require.NoError(t, err)
	assert.True(state)

	params, err := gw.SetChargingParam(ctx, domain.INPUT_NUMBER_ID_CHARGE_CURR, 40)
	require.NoError(t, err)
	assert.Equal(40, params.ChargeCurrent)

	_, err = gw.SetChargingParam(ctx, domain.INPUT_NUMBER_ID_CHARGE_CURR, 400)
	assert.ErrorIs(err, mppt.ErrInvalidParameter)

	// unanswered requests time out
	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = gw.Execute(tctx, mppt.DefaultResetEnergy())
	assert.Error(err)
}

func TestActorGatewayTimeout(t *testing.T) {

	as := actor.NewActorSystem()
	defer as.Shutdown()
	pid := as.Root.Spawn(actor.PropsFromFunc(fakeMaster))

	gw := NewActorGateway(as.Root, pid, 100*time.Millisecond)
	err := gw.Execute(context.Background(), mppt.DefaultResetEnergy())
	assert.ErrorIs(t, err, mppt.ErrTimeout)
}
