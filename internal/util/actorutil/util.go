package actorutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/mppt2mqtt/internal/core/domain"
	"github.com/berfenger/mppt2mqtt/internal/mqtt"
	"github.com/berfenger/mppt2mqtt/pkg/mppt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel, zap.PanicLevel, zap.FatalLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {

		// create a new logger
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
			NoColor:    true,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps an inbound MQTT command to the actor request
// that executes it. Unknown targets map to nil without error.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.ActorRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_SWITCH:
		if cmd.DeviceId != domain.SWITCH_ID_LOAD {
			return nil, nil
		}
		on, err := parseSwitchPayload(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return domain.SetLoadSwitchRequest{On: on}, nil
	case mqtt.COMMAND_NUMBER:
		if _, ok := domain.ChargingParamValues(mppt.SetChargingParams{})[cmd.DeviceId]; !ok {
			return nil, nil
		}
		value, err := parseIntegral(cmd.Payload)
		if err != nil {
			return nil, err
		}
		return domain.SetChargingParamRequest{Param: cmd.DeviceId, Value: value}, nil
	case mqtt.COMMAND_ACTION:
		c, err := ParseAction(cmd.DeviceId, []byte(cmd.Payload))
		if err != nil || c == nil {
			return nil, err
		}
		return domain.ExecuteCommandRequest{Command: c}, nil
	}
	return nil, nil
}

// ParseAction decodes a named action with an optional JSON payload. Missing
// reset_energy flags keep their defaults.
func ParseAction(name string, payload []byte) (mppt.Command, error) {
	empty := len(strings.TrimSpace(string(payload))) == 0
	switch name {
	case domain.ACTION_RESET_ENERGY:
		c := mppt.DefaultResetEnergy()
		if !empty {
			if err := json.Unmarshal(payload, &c); err != nil {
				return nil, fmt.Errorf("%w: %w", mppt.ErrInvalidParameter, err)
			}
		}
		return c, nil
	case domain.ACTION_SET_CHARGING_PARAMS:
		var c mppt.SetChargingParams
		if empty {
			return nil, fmt.Errorf("%w: %s requires a payload", mppt.ErrInvalidParameter, name)
		}
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("%w: %w", mppt.ErrInvalidParameter, err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, nil
}

func parseSwitchPayload(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case mqtt.MQTT_PAYLOAD_ON, "true", "1":
		return true, nil
	case mqtt.MQTT_PAYLOAD_OFF, "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: switch payload %q", mppt.ErrInvalidParameter, payload)
}

// parseIntegral accepts "20" as well as "20.0", which is what number entities send.
func parseIntegral(payload string) (int, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", mppt.ErrInvalidParameter, err)
	}
	if value != math.Trunc(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q is not an integer", mppt.ErrInvalidParameter, payload)
	}
	return int(value), nil
}
