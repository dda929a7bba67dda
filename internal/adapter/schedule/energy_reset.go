package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/config"
	"github.com/berfenger/mppt2mqtt/internal/core/port"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const ENERGY_RESET_JOB = "energy_reset"

// energyResetJob clears the energy counters through the gateway.
type energyResetJob struct {
	gateway port.ControllerGateway
	command mppt.ResetEnergy
	timeout time.Duration
	logger  *zap.Logger
}

var _ quartz.Job = (*energyResetJob)(nil)

func (j *energyResetJob) Execute(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	if err := j.gateway.Execute(ctx, j.command); err != nil {
		j.logger.Warn("schedule: energy reset failed", zap.Error(err))
		return err
	}
	j.logger.Info("schedule: energy counters reset", zap.Bool("reboot", j.command.Reboot))
	return nil
}

func (j *energyResetJob) Description() string {
	return fmt.Sprintf("%s(clear=%t,reboot=%t)", ENERGY_RESET_JOB, j.command.Clear, j.command.Reboot)
}

type Scheduler struct {
	scheduler quartz.Scheduler
	logger    *zap.Logger
}

// NewEnergyResetScheduler returns a started scheduler, or nil when the reset
// job is disabled.
func NewEnergyResetScheduler(ctx context.Context, cfg config.ScheduleConfig, timeout time.Duration,
	gateway port.ControllerGateway, logger *zap.Logger) (*Scheduler, error) {
	if !cfg.EnergyResetEnable {
		return nil, nil
	}
	trigger, err := quartz.NewCronTrigger(cfg.EnergyResetCron)
	if err != nil {
		return nil, err
	}
	sched := quartz.NewStdScheduler()
	sched.Start(ctx)

	job := &energyResetJob{
		gateway: gateway,
		command: mppt.ResetEnergy{Clear: true, Reboot: cfg.EnergyResetReboot},
		timeout: timeout,
		logger:  logger,
	}
	if err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey(ENERGY_RESET_JOB)), trigger); err != nil {
		sched.Stop()
		return nil, err
	}
	logger.Info("schedule: energy reset enabled", zap.String("cron", cfg.EnergyResetCron))

	return &Scheduler{scheduler: sched, logger: logger}, nil
}

func (s *Scheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.scheduler.Stop()
	s.scheduler.Wait(ctx)
}
