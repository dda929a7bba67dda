package serial

import (
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poll(t *testing.T, link *Link) *mppt.Telemetry {
	require.NoError(t, link.Discard())
	require.NoError(t, link.Write(mppt.EncodePollRequest()))
	frame, err := link.ReadWithin(mppt.FrameLen, 500*time.Millisecond)
	require.NoError(t, err)
	tm, err := mppt.Decode(frame, mppt.DefaultDecodeOptions())
	require.NoError(t, err)
	return tm
}

func send(t *testing.T, link *Link, cmd mppt.Command) {
	frame, err := mppt.Encode(cmd)
	require.NoError(t, err)
	require.NoError(t, link.Write(frame))
}

func TestSimulatorAnswersPolls(t *testing.T) {

	assert := assert.New(t)

	sim := NewSimulator(DefaultSimulatedTelemetry())
	link := NewLink(sim, "sim", nil, nil)

	tm := poll(t, link)
	assert.Equal(36.4, *tm.PVVoltage)
	assert.Equal(13.1, *tm.BatteryVoltage)
	assert.InDelta(116.48, *tm.PVPower, 1e-9)

	// counters grow with every poll
	next := poll(t, link)
	assert.GreaterOrEqual(*next.TotalEnergy, *tm.TotalEnergy)
}

func TestSimulatorShortFrames(t *testing.T) {

	sim := NewSimulator(DefaultSimulatedTelemetry())
	sim.ShortFrames = true
	link := NewLink(sim, "sim", nil, nil)

	require.NoError(t, link.Write(mppt.EncodePollRequest()))
	frame, err := link.ReadWithin(mppt.FrameLen, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, frame, mppt.MinTelemetryLen)
}

func TestSimulatorAppliesCommands(t *testing.T) {

	assert := assert.New(t)

	sim := NewSimulator(DefaultSimulatedTelemetry())
	link := NewLink(sim, "sim", nil, nil)

	send(t, link, mppt.SetLoadOutput{On: true})
	assert.True(sim.LoadOn())
	assert.Equal(1.5, *poll(t, link).LoadCurrent)

	send(t, link, mppt.DefaultResetEnergy())
	assert.Equal(0.0, *sim.Telemetry().TotalEnergy)

	params := mppt.SetChargingParams{ChargeCurrent: 20, BatteryType: 1, ConstVoltage: 1440, LoadUndervoltage: 1100}
	send(t, link, params)
	send(t, link, mppt.SetLoadOutput{On: false})
	assert.False(sim.LoadOn())

	assert.Equal([]mppt.Command{
		mppt.SetLoadOutput{On: true},
		mppt.ResetEnergy{Clear: true},
		params,
		mppt.SetLoadOutput{On: false},
	}, sim.Commands())
}

func TestSimulatorSilent(t *testing.T) {

	sim := NewSimulator(DefaultSimulatedTelemetry())
	sim.Silent = true
	link := NewLink(sim, "sim", nil, nil)

	require.NoError(t, link.Write(mppt.EncodePollRequest()))
	_, err := link.ReadWithin(mppt.FrameLen, 30*time.Millisecond)
	assert.ErrorIs(t, err, mppt.ErrTimeout)
}

func TestSimulatorClosed(t *testing.T) {

	sim := NewSimulator(DefaultSimulatedTelemetry())
	require.NoError(t, sim.Close())
	_, err := sim.Write(mppt.EncodePollRequest())
	assert.ErrorIs(t, err, ErrPortClosed)
}
