package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingGateway struct {
	mu       sync.Mutex
	executed []mppt.Command
	err      error
}

func (g *recordingGateway) Health(context.Context) (domain.ActorHealthResponse, error) {
	return domain.ActorHealthResponse{Healthy: true}, nil
}

func (g *recordingGateway) Telemetry(context.Context) (domain.GetTelemetryResponse, error) {
	return domain.GetTelemetryResponse{}, nil
}

func (g *recordingGateway) PollNow(context.Context) (*mppt.Telemetry, error) {
	return nil, nil
}

func (g *recordingGateway) SetLoadSwitch(_ context.Context, on bool) (bool, error) {
	return on, nil
}

func (g *recordingGateway) SetChargingParam(context.Context, string, int) (mppt.SetChargingParams, error) {
	return mppt.SetChargingParams{}, nil
}

func (g *recordingGateway) Execute(_ context.Context, cmd mppt.Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executed = append(g.executed, cmd)
	return g.err
}

func (g *recordingGateway) commands() []mppt.Command {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]mppt.Command(nil), g.executed...)
}

func TestEnergyResetJob(t *testing.T) {

	assert := assert.New(t)

	gw := &recordingGateway{}
	job := &energyResetJob{gateway: gw, command: mppt.ResetEnergy{Clear: true}, timeout: time.Second, logger: zap.NewNop()}

	assert.NoError(job.Execute(context.Background()))
	assert.Equal([]mppt.Command{mppt.ResetEnergy{Clear: true}}, gw.commands())
	assert.Equal("energy_reset(clear=true,reboot=false)", job.Description())

	gw.err = errors.New("boom")
	assert.Error(job.Execute(context.Background()))
}

func TestEnergyResetSchedulerDisabled(t *testing.T) {
	s, err := NewEnergyResetScheduler(context.Background(), config.ScheduleConfig{}, time.Second, &recordingGateway{}, zap.NewNop())
	assert.NoError(t, err)
	assert.Nil(t, s)
	s.Stop(context.Background())
}

func TestEnergyResetSchedulerRuns(t *testing.T) {

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &recordingGateway{}
	s, err := NewEnergyResetScheduler(ctx, config.ScheduleConfig{
		EnergyResetEnable: true,
		EnergyResetCron:   "* * * * * *",
		EnergyResetReboot: true,
	}, time.Second, gw, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Stop(ctx)

	assert.Eventually(t, func() bool { return len(gw.commands()) > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, mppt.Command(mppt.ResetEnergy{Clear: true, Reboot: true}), gw.commands()[0])
}

func TestEnergyResetSchedulerInvalidCron(t *testing.T) {
	_, err := NewEnergyResetScheduler(context.Background(), config.ScheduleConfig{
		EnergyResetEnable: true,
		EnergyResetCron:   "every day",
	}, time.Second, &recordingGateway{}, zap.NewNop())
	assert.Error(t, err)
}
