package actor

import (
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/util"
	"github.com/berfenger/mppt2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	context := as.Root

	es := &eventstream.EventStream{}

	var act *MQTTActor
	props := actor.PropsFromProducer(func() actor.Actor {
		act = NewTestMQTTActor(&cfg, es, logger)
		return act
	})
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(t, err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.True(resp.Healthy)

	es.Publish(domain.NewFloatEvent(domain.SENSOR_ID_PV_VOLTAGE, 24.3, 1))
	es.Publish(domain.NewTextEvent(domain.SENSOR_ID_WORKING_MODE, "MPPT charging"))
	es.Publish(domain.NewSwitchEvent(domain.SWITCH_ID_LOAD, true))
	es.Publish(domain.NewBinaryEvent(domain.SENSOR_ID_ENERGY_STALE, false))
	es.Publish("not a sensor event")

	assert.Eventually(func() bool { return len(act.Published()) == 4 }, 2*time.Second, 20*time.Millisecond)

	published := act.Published()
	assert.Equal(PublishedMessage{Topic: "mppt_test/sensor/pv_voltage/state", Payload: "24.3"}, published[0])
	assert.Equal(PublishedMessage{Topic: "mppt_test/sensor/working_mode/state", Payload: "MPPT charging"}, published[1])
	assert.Equal(PublishedMessage{Topic: "mppt_test/switch/load/state", Payload: "on", Retain: true}, published[2])
	assert.Equal(PublishedMessage{Topic: "mppt_test/binary_sensor/energy_stale/state", Payload: "off"}, published[3])

	context.Stop(pid)
}

func TestMQTTActorDiscovery(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	var act *MQTTActor
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		act = NewTestMQTTActor(&cfg, &eventstream.EventStream{}, logger)
		return act
	}))

	dev := domain.ControllerDevice(cfg.MQTT.BaseTopic, "", domain.BridgeDevice(cfg.MQTT.BaseTopic))
	res, err := as.Root.RequestFuture(pid, domain.PublishDiscoveryRequest{
		Switches: domain.LoadSwitches(dev),
		Buttons:  domain.ActionButtons(dev),
	}, 2*time.Second).Result()
	require.NoError(t, err)
	assert.NoError(domain.ResponseError(res))

	published := act.Published()
	require.Len(t, published, 3)
	assert.Equal("homeassistant/switch/"+dev.Id+"/load/config", published[0].Topic)
	assert.True(published[0].Retain)
	assert.Contains(published[1].Payload, `"command_topic":"mppt_test/action/reset_energy"`)
	assert.Contains(published[2].Payload, `"payload_press":"{\"clear\":false,\"reboot\":true}"`)
}
