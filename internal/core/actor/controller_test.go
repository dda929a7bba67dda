package actor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/adapter/serial"
	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/internal/util"
	"github.com/berfenger/mppt2mqtt/internal/util/actorutil"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func recordEvents(es *eventstream.EventStream) *eventRecorder {
	r := &eventRecorder{}
	es.Subscribe(func(ev any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	})
	return r
}

func (r *eventRecorder) find(fn func(any) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if fn(ev) {
			return true
		}
	}
	return false
}

func (r *eventRecorder) hasBinary(id string, value bool) bool {
	return r.find(func(ev any) bool {
		b, ok := ev.(domain.BinarySensorUpdateEvent)
		return ok && b.Id == id && b.Value == value
	})
}

type controllerFixture struct {
	system *actor.ActorSystem
	pid    *actor.PID
	sim    *serial.Simulator
	events *eventRecorder
}

func startController(t *testing.T, cfg config.Config, sim *serial.Simulator) controllerFixture {
	f := startControllerOnPort(t, cfg, sim)
	f.sim = sim
	return f
}

func startControllerOnPort(t *testing.T, cfg config.Config, p serial.Port) controllerFixture {
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	t.Cleanup(as.Shutdown)

	es := &eventstream.EventStream{}
	recorder := recordEvents(es)

	provider := func() (port.Transport, error) {
		return serial.NewLink(p, "sim", logger, nil), nil
	}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewControllerActor(&cfg, provider, es, nil, logger)
	}))
	return controllerFixture{system: as, pid: pid, events: recorder}
}

func (f controllerFixture) request(t *testing.T, msg any) any {
	res, err := f.system.Root.RequestFuture(f.pid, msg, 5*time.Second).Result()
	require.NoError(t, err)
	return res
}

func (f controllerFixture) telemetry(t *testing.T) domain.GetTelemetryResponse {
	resp, ok := f.request(t, domain.GetTelemetryRequest{}).(domain.GetTelemetryResponse)
	require.True(t, ok)
	return resp
}

func TestControllerActorPublishesTelemetry(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Controller.Sensors = []string{"pv_voltage", "pv_current", "battery_voltage"}
	f := startController(t, cfg, serial.NewSimulator(serial.DefaultSimulatedTelemetry()))

	assert.Eventually(func() bool { return f.telemetry(t).Snapshot != nil }, 3*time.Second, 50*time.Millisecond)

	resp := f.telemetry(t)
	assert.Equal(36.4, *resp.Snapshot.PVVoltage)
	assert.Equal(13.1, *resp.Snapshot.BatteryVoltage)
	assert.Nil(resp.Snapshot.Temperature, "temperature is not enabled")
	assert.Equal("idle", resp.PollState)
	assert.Eventually(func() bool { return f.telemetry(t).Connected }, 3*time.Second, 50*time.Millisecond)
	require.NotNil(t, resp.LoadSwitch)
	assert.False(*resp.LoadSwitch)
	assert.Equal(cfg.Controller.ChargingParams.Params(), resp.Params)

	assert.True(f.events.find(func(ev any) bool {
		fe, ok := ev.(domain.FloatSensorUpdateEvent)
		return ok && fe.Id == domain.SENSOR_ID_PV_VOLTAGE && fe.Value == 36.4
	}))
	assert.False(f.events.find(func(ev any) bool {
		fe, ok := ev.(domain.FloatSensorUpdateEvent)
		return ok && fe.Id == domain.SENSOR_ID_TEMPERATURE
	}), "disabled fields are never published")
	assert.True(f.events.hasBinary(domain.SENSOR_ID_DEVICE_CONNECTED, true))

	health, ok := f.request(t, domain.ActorHealthRequest{}).(domain.ActorHealthResponse)
	require.True(t, ok)
	assert.True(health.Healthy)
	assert.Equal(domain.ACTOR_ID_CONTROLLER, health.Id)
}

func TestControllerActorLoadSwitch(t *testing.T) {

	assert := assert.New(t)

	f := startController(t, util.LoadTestConfig(), serial.NewSimulator(serial.DefaultSimulatedTelemetry()))

	resp, ok := f.request(t, domain.SetLoadSwitchRequest{On: true}).(domain.SetLoadSwitchResponse)
	require.True(t, ok)
	assert.NoError(resp.GetResponseError())
	assert.True(resp.State)
	assert.True(f.sim.LoadOn())

	assert.True(f.events.find(func(ev any) bool {
		sw, ok := ev.(domain.SwitchSensorUpdateEvent)
		return ok && sw.Id == domain.SWITCH_ID_LOAD && sw.Value
	}))
	assert.True(*f.telemetry(t).LoadSwitch)

	// a load command sent as a raw command still goes through the switch
	exec, ok := f.request(t, domain.ExecuteCommandRequest{Command: mppt.SetLoadOutput{On: false}}).(domain.ExecuteCommandResponse)
	require.True(t, ok)
	assert.NoError(exec.GetResponseError())
	assert.False(*f.telemetry(t).LoadSwitch)
	assert.False(f.sim.LoadOn())
}

func TestControllerActorChargingParams(t *testing.T) {

	assert := assert.New(t)

	f := startController(t, util.LoadTestConfig(), serial.NewSimulator(serial.DefaultSimulatedTelemetry()))

	resp, ok := f.request(t, domain.SetChargingParamRequest{Param: domain.INPUT_NUMBER_ID_CHARGE_CURR, Value: 30}).(domain.SetChargingParamResponse)
	require.True(t, ok)
	require.NoError(t, resp.GetResponseError())
	assert.Equal(30, resp.Params.ChargeCurrent)
	assert.Equal(1440, resp.Params.ConstVoltage, "other params keep their value")

	cmds := f.sim.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(mppt.SetChargingParams{ChargeCurrent: 30, BatteryType: 1, ConstVoltage: 1440, LoadUndervoltage: 1100}, cmds[len(cmds)-1])

	before := len(f.sim.Commands())
	resp, ok = f.request(t, domain.SetChargingParamRequest{Param: domain.INPUT_NUMBER_ID_CHARGE_CURR, Value: 256}).(domain.SetChargingParamResponse)
	require.True(t, ok)
	assert.ErrorIs(resp.GetResponseError(), mppt.ErrInvalidParameter)
	assert.Equal(30, resp.Params.ChargeCurrent, "rejected value is not cached")
	assert.Len(f.sim.Commands(), before, "invalid command never reaches the device")
}

func TestControllerActorResetEnergy(t *testing.T) {

	assert := assert.New(t)

	f := startController(t, util.LoadTestConfig(), serial.NewSimulator(serial.DefaultSimulatedTelemetry()))

	resp, ok := f.request(t, domain.ExecuteCommandRequest{Command: mppt.DefaultResetEnergy()}).(domain.ExecuteCommandResponse)
	require.True(t, ok)
	assert.NoError(resp.GetResponseError())
	assert.True(f.events.hasBinary(domain.SENSOR_ID_ENERGY_STALE, true))
	assert.Contains(f.sim.Commands(), mppt.Command(mppt.ResetEnergy{Clear: true}))

	// the next successful poll clears the flag again
	poll, ok := f.request(t, domain.PollNowRequest{}).(domain.PollNowResponse)
	require.True(t, ok)
	require.NoError(t, poll.GetResponseError())
	require.NotNil(t, poll.Snapshot)
	assert.Equal(0.0, *poll.Snapshot.DailyEnergy)
	assert.False(f.telemetry(t).EnergyStale)
}

func TestControllerActorSilentDevice(t *testing.T) {

	assert := assert.New(t)

	sim := serial.NewSimulator(serial.DefaultSimulatedTelemetry())
	sim.Silent = true
	f := startController(t, util.LoadTestConfig(), sim)

	poll, ok := f.request(t, domain.PollNowRequest{}).(domain.PollNowResponse)
	require.True(t, ok)
	assert.ErrorIs(poll.GetResponseError(), mppt.ErrTimeout)

	resp := f.telemetry(t)
	assert.Nil(resp.Snapshot)
	assert.Equal("timed_out", resp.PollState)
	assert.False(resp.Connected)
	assert.True(f.events.hasBinary(domain.SENSOR_ID_DEVICE_CONNECTED, false))
}

func TestControllerActorStopDuringExchange(t *testing.T) {

	sim := serial.NewSimulator(serial.DefaultSimulatedTelemetry())
	sim.Silent = true
	f := startController(t, util.LoadTestConfig(), sim)

	// the poll is still waiting for an answer when the actor stops
	f.system.Root.Send(f.pid, domain.PollNowRequest{})
	require.NoError(t, f.system.Root.StopFuture(f.pid).Wait())

	assert.Eventually(t, func() bool {
		_, err := sim.Write(mppt.EncodePollRequest())
		return errors.Is(err, serial.ErrPortClosed)
	}, 3*time.Second, 20*time.Millisecond, "transport closed after the exchange")
}

// unpluggablePort fails reads once unplugged, like a removed USB adapter.
type unpluggablePort struct {
	*serial.Simulator
	unplugged atomic.Bool
}

func (p *unpluggablePort) Read(b []byte) (int, error) {
	if p.unplugged.Load() {
		return 0, errors.New("device not configured")
	}
	return p.Simulator.Read(b)
}

func TestControllerActorIOErrorDisconnects(t *testing.T) {

	assert := assert.New(t)

	p := &unpluggablePort{Simulator: serial.NewSimulator(serial.DefaultSimulatedTelemetry())}
	f := startControllerOnPort(t, util.LoadTestConfig(), p)

	poll, ok := f.request(t, domain.PollNowRequest{}).(domain.PollNowResponse)
	require.True(t, ok)
	require.NoError(t, poll.GetResponseError())
	assert.True(f.telemetry(t).Connected)

	p.unplugged.Store(true)
	poll, ok = f.request(t, domain.PollNowRequest{}).(domain.PollNowResponse)
	require.True(t, ok)
	assert.ErrorIs(poll.GetResponseError(), mppt.ErrIO)

	resp := f.telemetry(t)
	assert.NotNil(resp.Snapshot, "last snapshot survives the failure")
	assert.Equal("idle", resp.PollState)
	assert.False(resp.Connected)
	assert.True(f.events.hasBinary(domain.SENSOR_ID_DEVICE_CONNECTED, false))
}

func TestControllerActorRestartsWhenOpenFails(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	cfg := util.LoadTestConfig()
	var opens atomic.Int32
	provider := func() (port.Transport, error) {
		opens.Add(1)
		return nil, errors.New("no such device")
	}
	as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewControllerActor(&cfg, provider, nil, nil, logger)
	}))

	assert.Eventually(t, func() bool { return opens.Load() >= 2 }, 3*time.Second, 20*time.Millisecond)
}
