package port

import (
	"context"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"
)

// ControllerGateway is the request surface used by the HTTP API, the modbus
// mirror and the scheduler. Every call honors ctx cancellation.
type ControllerGateway interface {
	Health(ctx context.Context) (domain.ActorHealthResponse, error)
	Telemetry(ctx context.Context) (domain.GetTelemetryResponse, error)
	PollNow(ctx context.Context) (*mppt.Telemetry, error)
	SetLoadSwitch(ctx context.Context, on bool) (bool, error)
	SetChargingParam(ctx context.Context, param string, value int) (mppt.SetChargingParams, error)
	Execute(ctx context.Context, cmd mppt.Command) error
}
